package auth

import (
	"context"
	"net/http"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — интерфейс, который реализуют и HTTP, и gRPC слой
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// Тип для ключей в контексте (избегаем коллизий)
type ctxKey string

const (
	scopesKey   ctxKey = "scopes"
	operatorKey ctxKey = "operator_id"
)

func WithClaims(ctx context.Context, claims *domain.CustomClaims) context.Context {
	ctx = context.WithValue(ctx, scopesKey, claims.Scopes)
	return context.WithValue(ctx, operatorKey, claims.OperatorID)
}

// ScopesFromContext возвращает права из токена. ok == false — токена не было.
func ScopesFromContext(ctx context.Context) (map[string]bool, bool) {
	s, ok := ctx.Value(scopesKey).(map[string]bool)
	return s, ok
}

func OperatorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(operatorKey).(string)
	return id
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}
