package domain

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Scopes, которые проверяются API
const (
	ScopeAdmin        = "admin"
	ScopeTasksSubmit  = "tasks.submit"
	ScopeTasksRead    = "tasks.read"
	ScopeAgentsManage = "agents.manage"
)

type CustomClaims struct {
	OperatorID string          `json:"operator_id"`
	Scopes     map[string]bool `json:"scopes"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// Operator — человек или скрипт, которому разрешено ставить задачи.
type Operator struct {
	ID           string          `json:"id"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"` // Никогда не отдаем наружу
	Scopes       map[string]bool `json:"scopes"`
	CreatedAt    time.Time       `json:"created_at"`
}
