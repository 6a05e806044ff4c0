package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra/auth"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type OperatorProvider interface {
	GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error)
	UpsertOperator(ctx context.Context, op *domain.Operator) error
}

type AuthService struct {
	repo   OperatorProvider
	signer *auth.Signer
	logger *zap.Logger
}

func NewAuthService(repo OperatorProvider, signer *auth.Signer, logger *zap.Logger) *AuthService {
	return &AuthService{
		repo:   repo,
		signer: signer,
		logger: logger.Named("auth-service"),
	}
}

func (s *AuthService) GenerateToken(ctx context.Context, username, password string) (*domain.TokenResponse, error) {
	if s.signer == nil {
		return nil, errors.New("token issuing is not configured")
	}

	op, err := s.repo.GetOperatorByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("auth: lookup operator: %w", err)
	}
	if op == nil {
		return nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := s.signer.Sign(op.ID, op.Scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.logger.Info("token issued", zap.String("operator_id", op.ID), zap.Time("expires_at", expiresAt))
	return &domain.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(time.Until(expiresAt).Seconds()),
	}, nil
}

// EnsureOperator создает оператора с паролем, если такого логина еще нет.
// Существующий оператор не трогается: пароль меняют через БД.
func (s *AuthService) EnsureOperator(ctx context.Context, username, password string, scopes map[string]bool) error {
	existing, err := s.repo.GetOperatorByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("auth: lookup operator: %w", err)
	}
	if existing != nil {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("auth: hash password: %w", err)
	}
	op := &domain.Operator{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		Scopes:       scopes,
		CreatedAt:    time.Now(),
	}
	if err := s.repo.UpsertOperator(ctx, op); err != nil {
		return err
	}
	s.logger.Info("operator bootstrapped", zap.String("username", username))
	return nil
}

// MemoryOperators — хранилище операторов без БД (локальный запуск, тесты).
type MemoryOperators struct {
	mu  sync.RWMutex
	ops map[string]domain.Operator
}

func NewMemoryOperators() *MemoryOperators {
	return &MemoryOperators{ops: make(map[string]domain.Operator)}
}

func (m *MemoryOperators) GetOperatorByUsername(_ context.Context, username string) (*domain.Operator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.ops[username]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (m *MemoryOperators) UpsertOperator(_ context.Context, op *domain.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.Username] = *op
	return nil
}
