package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — таблицы tasks, user_messages и system_metrics плюс операторы API.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	agent_type   TEXT NOT NULL,
	capabilities TEXT[] NOT NULL DEFAULT '{}',
	priority     SMALLINT NOT NULL,
	status       TEXT NOT NULL,
	source       TEXT NOT NULL DEFAULT '',
	agent_id     TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	progress     INTEGER NOT NULL DEFAULT 0,
	result       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	tokens_used  INTEGER NOT NULL DEFAULT 0,
	cost         DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);

CREATE TABLE IF NOT EXISTS user_messages (
	id         TEXT PRIMARY KEY,
	message    TEXT NOT NULL,
	response   TEXT NOT NULL,
	task_id    TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS system_metrics (
	id           BIGSERIAL PRIMARY KEY,
	timestamp    TIMESTAMPTZ NOT NULL,
	queued       INTEGER NOT NULL,
	active       INTEGER NOT NULL,
	completed    INTEGER NOT NULL,
	failed       INTEGER NOT NULL,
	busy_agents  INTEGER NOT NULL,
	total_tokens BIGINT NOT NULL,
	total_cost   DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS operators (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	scopes        JSONB NOT NULL DEFAULT '{}',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Repo — единая точка доступа к PostgreSQL. Один пул на весь процесс.
type Repo struct {
	pool *pgxpool.Pool
}

// NewRepo открывает пул соединений. Соединение проверяется отдельно через Ping.
func NewRepo(ctx context.Context, connString string, maxConns, minConns int32) (*Repo, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create pool: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Ping проверяет доступность базы при старте
func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// EnsureSchema создает таблицы, если их еще нет.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres: failed to apply schema: %w", err)
	}
	return nil
}

func (r *Repo) Close() {
	r.pool.Close()
}
