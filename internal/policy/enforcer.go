package policy

import (
	"context"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra/auth"
)

// Действия, которые регулирует политика
const (
	ActionSubmitTask   = "task.submit"
	ActionReadTasks    = "task.read"
	ActionManageAgents = "agent.manage"
)

type Enforcer interface {
	// Authorize решает, можно ли выполнить действие. category важна только для task.submit.
	Authorize(ctx context.Context, action, category string) bool
}

// ScopeEnforcer сверяет действие со scopes из токена, положенными в контекст.
// Выключенный enforcer пропускает все (локальный режим без auth).
type ScopeEnforcer struct {
	enabled bool
	rules   map[string]string // action -> базовый scope
}

func NewScopeEnforcer(enabled bool) *ScopeEnforcer {
	return &ScopeEnforcer{
		enabled: enabled,
		rules: map[string]string{
			ActionSubmitTask:   domain.ScopeTasksSubmit,
			ActionReadTasks:    domain.ScopeTasksRead,
			ActionManageAgents: domain.ScopeAgentsManage,
		},
	}
}

func (e *ScopeEnforcer) Authorize(ctx context.Context, action, category string) bool {
	if !e.enabled {
		return true
	}

	scopes, ok := auth.ScopesFromContext(ctx)
	if !ok {
		return false
	}
	if scopes[domain.ScopeAdmin] {
		return true
	}

	base, known := e.rules[action]
	if !known {
		// Неизвестное действие — запрет по умолчанию
		return false
	}
	if scopes[base] {
		return true
	}
	// Узкое право на конкретную категорию: "tasks.submit.research"
	if action == ActionSubmitTask && category != "" {
		return scopes[base+"."+category]
	}
	return false
}
