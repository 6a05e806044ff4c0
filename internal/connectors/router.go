package connectors

import (
	"context"
	"fmt"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// Executor — то же, что engine.ExecutionProvider; объявлен здесь, чтобы не тянуть engine.
type Executor interface {
	Execute(ctx context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error)
}

// Router выбирает исполнителя по категории задачи.
// Без fallback незнакомая категория завершается ErrUnsupportedCategory.
type Router struct {
	routes   map[string]Executor
	fallback Executor
}

func NewRouter(fallback Executor) *Router {
	return &Router{routes: make(map[string]Executor), fallback: fallback}
}

// Route назначает исполнителя для категорий. Вызывается только при сборке.
func (r *Router) Route(exec Executor, categories ...string) *Router {
	for _, c := range categories {
		r.routes[c] = exec
	}
	return r
}

func (r *Router) Execute(ctx context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error) {
	if exec, ok := r.routes[task.AgentType]; ok {
		return exec.Execute(ctx, task, progress)
	}
	if r.fallback == nil {
		return domain.TaskResult{}, fmt.Errorf("%w: %s", ErrUnsupportedCategory, task.AgentType)
	}
	return r.fallback.Execute(ctx, task, progress)
}
