package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xela07ax/agent-orchestrator/internal/connectors"
	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

// ReliabilityWrapper — rate limit, circuit breaker и ретраи вокруг удаленного исполнителя.
type ReliabilityWrapper struct {
	next     ExecutionProvider
	cb       *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	attempts uint
	logger   *zap.Logger
}

func NewReliabilityWrapper(next ExecutionProvider, cfg infra.EngineConfig, metrics *Metrics, logger *zap.Logger) *ReliabilityWrapper {
	logger = logger.With(zap.String("mod", "reliability"))
	const name = "remote-connector"

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(max(cfg.CBMaxRequests, 1)),
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// Ошибки из-за отмены контекста не говорят о здоровье коннектора
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(to))
			}
		},
	})

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}

	return &ReliabilityWrapper{
		next:     next,
		cb:       cb,
		limiter:  rate.NewLimiter(limit, max(cfg.RateBurst, 1)),
		attempts: 3,
		logger:   logger,
	}
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}

func (w *ReliabilityWrapper) Execute(ctx context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return domain.TaskResult{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	out, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(w.attempts),
			retry.LastErrorOnly(true),
			retry.RetryIf(func(err error) bool {
				// Ответ коннектора с кодом (кроме 429) повторять бессмысленно
				var rErr *connectors.RemoteError
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return true
				}
				return !errors.As(err, &rErr)
			}),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				return retry.BackOffDelay(n, err, config)
			}),
			retry.OnRetry(func(n uint, err error) {
				w.logger.Debug("retrying remote execution", zap.String("task_id", task.ID), zap.Uint("attempt", n+1), zap.Error(err))
			}),
		)

		var res domain.TaskResult
		retryErr := r.Do(func() error {
			var callErr error
			res, callErr = w.next.Execute(ctx, task, progress)
			return callErr
		})
		return res, retryErr
	})
	if err != nil {
		return domain.TaskResult{}, err
	}
	return out.(domain.TaskResult), nil
}
