package postgres

import (
	"context"
	"fmt"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// SaveMessage сохраняет реплику пользователя и ответ чат-диспетчера.
func (r *Repo) SaveMessage(ctx context.Context, m domain.UserMessage) error {
	var taskID *string
	if m.TaskID != "" {
		taskID = &m.TaskID
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_messages (id, message, response, task_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Message, m.Response, taskID, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to save message: %w", err)
	}
	return nil
}

// SaveSystemMetrics пишет периодический срез состояния.
func (r *Repo) SaveSystemMetrics(ctx context.Context, m domain.SystemMetrics) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO system_metrics (timestamp, queued, active, completed, failed, busy_agents, total_tokens, total_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.Timestamp, m.Queued, m.Active, m.Completed, m.Failed, m.BusyAgents, m.TotalTokens, m.TotalCost)
	if err != nil {
		return fmt.Errorf("postgres: failed to save system metrics: %w", err)
	}
	return nil
}
