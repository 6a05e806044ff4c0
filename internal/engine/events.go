package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

// RedisEventPublisher транслирует снимки задач в канал событий,
// чтобы внешние скрипты могли следить за прогрессом без опроса API.
type RedisEventPublisher struct {
	rdb     *redis.Client
	logger  *zap.Logger
	timeout time.Duration
}

func NewRedisEventPublisher(rdb *redis.Client, logger *zap.Logger) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb, logger: logger.With(zap.String("mod", "events")), timeout: time.Second}
}

func (p *RedisEventPublisher) Publish(ctx context.Context, task domain.Task) {
	data, err := json.Marshal(task)
	if err != nil {
		p.logger.Error("failed to encode task event", zap.String("task_id", task.ID), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, infra.RedisChanTaskEvents, data).Err(); err != nil {
		p.logger.Warn("task event delivery failed", zap.String("task_id", task.ID), zap.Error(err))
	}
}
