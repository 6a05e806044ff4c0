package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/console/service"
	"github.com/xela07ax/agent-orchestrator/internal/infra/auth"
	"github.com/xela07ax/agent-orchestrator/internal/policy"
)

type AgentHandler struct {
	service  *service.AgentService
	enforcer policy.Enforcer
	logger   *zap.Logger
}

func NewAgentHandler(s *service.AgentService, enforcer policy.Enforcer, logger *zap.Logger) *AgentHandler {
	return &AgentHandler{service: s, enforcer: enforcer, logger: logger}
}

// List — GET /v1/agents
func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.enforcer.Authorize(r.Context(), policy.ActionReadTasks, "") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, h.service.ListAgents())
}

// Get — GET /v1/agents/{id}
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.enforcer.Authorize(r.Context(), policy.ActionReadTasks, "") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	agent, err := h.service.GetAgent(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// Block — POST /v1/agents/{id}/block (kill-switch)
func (h *AgentHandler) Block(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

// Unblock — POST /v1/agents/{id}/unblock
func (h *AgentHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *AgentHandler) toggle(w http.ResponseWriter, r *http.Request, blocked bool) {
	if !h.enforcer.Authorize(r.Context(), policy.ActionManageAgents, "") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	agentID := chi.URLParam(r, "id")
	operator := auth.OperatorFromContext(r.Context())

	toggle := h.service.UnblockAgent
	if blocked {
		toggle = h.service.BlockAgent
	}
	agent, err := toggle(r.Context(), agentID, operator)
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			h.logger.Error("agent toggle failed", zap.String("agent_id", agentID), zap.Error(err))
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, agent)
}
