package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/policy"
)

// TaskService — то, что нужно хендлерам от оркестратора
type TaskService interface {
	AddTask(ctx context.Context, req domain.TaskRequest) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	ListTasks(status domain.TaskStatus) []domain.Task
	GetSystemStatus() domain.SystemStatus
	GenerateResponse(ctx context.Context, message string) (domain.ChatResponse, error)
}

type TaskHandler struct {
	service  TaskService
	enforcer policy.Enforcer
	logger   *zap.Logger
}

func NewTaskHandler(s TaskService, enforcer policy.Enforcer, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{service: s, enforcer: enforcer, logger: logger}
}

// Submit — POST /v1/tasks
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req domain.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		// Неизвестный приоритет тоже попадает сюда через UnmarshalText
		writeError(w, http.StatusBadRequest, "bad request: "+err.Error())
		return
	}
	req.Source = domain.SourceHTTP

	category := req.AgentType
	if category == "" {
		category = domain.CategoryGeneric
	}
	if !h.enforcer.Authorize(r.Context(), policy.ActionSubmitTask, category) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	task, err := h.service.AddTask(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

// List — GET /v1/tasks?status=queued
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.enforcer.Authorize(r.Context(), policy.ActionReadTasks, "") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	status := domain.TaskStatus(strings.ToLower(r.URL.Query().Get("status")))
	switch status {
	case "", domain.TaskQueued, domain.TaskActive, domain.TaskCompleted, domain.TaskError:
	default:
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	tasks := h.service.ListTasks(status)
	if tasks == nil {
		tasks = []domain.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// Get — GET /v1/tasks/{id}
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.enforcer.Authorize(r.Context(), policy.ActionReadTasks, "") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	task, err := h.service.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Status — GET /v1/status
func (h *TaskHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.enforcer.Authorize(r.Context(), policy.ActionReadTasks, "") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	writeJSON(w, http.StatusOK, h.service.GetSystemStatus())
}

type chatRequest struct {
	Message string `json:"message"`
}

// Chat — POST /v1/chat. Реплика может создать задачу, поэтому нужно право на постановку.
func (h *TaskHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if !h.enforcer.Authorize(r.Context(), policy.ActionSubmitTask, "") {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	resp, err := h.service.GenerateResponse(r.Context(), req.Message)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TaskHandler) fail(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, code, err.Error())
}
