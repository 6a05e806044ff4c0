package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// GetOperatorByUsername возвращает nil, nil если оператора нет.
func (r *Repo) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	query := `
		SELECT id, username, password_hash, scopes, created_at
		FROM operators WHERE username = $1`

	op := &domain.Operator{}
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&op.ID, &op.Username, &op.PasswordHash, &op.Scopes, &op.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return op, nil
}

// UpsertOperator нужен для первичной настройки (bootstrap оператора из ENV).
func (r *Repo) UpsertOperator(ctx context.Context, op *domain.Operator) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO operators (id, username, password_hash, scopes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash, scopes = EXCLUDED.scopes`,
		op.ID, op.Username, op.PasswordHash, op.Scopes)
	return err
}
