package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

const upsertTask = `
INSERT INTO tasks (id, name, description, agent_type, capabilities, priority, status, source, agent_id,
                   created_at, started_at, completed_at, progress, result, error, tokens_used, cost)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	agent_id = EXCLUDED.agent_id,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at,
	progress = EXCLUDED.progress,
	result = EXCLUDED.result,
	error = EXCLUDED.error,
	tokens_used = EXCLUDED.tokens_used,
	cost = EXCLUDED.cost,
	updated_at = NOW()`

const selectTask = `
SELECT id, name, description, agent_type, capabilities, priority, status, source, agent_id,
       created_at, started_at, completed_at, progress, result, error, tokens_used, cost
FROM tasks`

// WriteBatch реализует journal.Storage. Снимки одной задачи внутри пачки
// применяются по порядку, поэтому последний выигрывает.
func (r *Repo) WriteBatch(ctx context.Context, tasks []domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, t := range tasks {
		caps := t.Capabilities
		if caps == nil {
			caps = []string{}
		}
		b.Queue(upsertTask,
			t.ID, t.Name, t.Description, t.AgentType, caps, int(t.Priority), string(t.Status), t.Source, t.AgentID,
			t.CreatedAt, t.StartedAt, t.CompletedAt, t.Progress, t.Result, t.Error, t.TokensUsed, t.Cost,
		)
	}

	if err := r.pool.SendBatch(ctx, b).Close(); err != nil {
		return fmt.Errorf("postgres: failed to write task batch: %w", err)
	}
	return nil
}

// LoadUnfinished возвращает задачи, которые были в очереди или в работе на момент остановки.
func (r *Repo) LoadUnfinished(ctx context.Context) ([]domain.Task, error) {
	rows, err := r.pool.Query(ctx, selectTask+` WHERE status IN ('queued', 'active') ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query unfinished tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]domain.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return tasks, nil
}

// GetTask — чтение истории: задачи, вытесненные из памяти, остаются в БД.
func (r *Repo) GetTask(ctx context.Context, id string) (*domain.Task, error) {
	t, err := scanTask(r.pool.QueryRow(ctx, selectTask+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, err
	}
	return &t, nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		t        domain.Task
		priority int
		status   string
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.AgentType, &t.Capabilities, &priority, &status, &t.Source, &t.AgentID,
		&t.CreatedAt, &t.StartedAt, &t.CompletedAt, &t.Progress, &t.Result, &t.Error, &t.TokensUsed, &t.Cost,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return t, err
		}
		return t, fmt.Errorf("postgres: scan task error: %w", err)
	}
	t.Priority = domain.Priority(priority)
	t.Status = domain.TaskStatus(status)
	return t, nil
}
