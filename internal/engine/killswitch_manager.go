package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

// KillSwitchManager держит L1-кэш заблокированных агентов.
// Источник правды — Redis set, изменения приходят через Pub/Sub.
// Без Redis (rdb == nil) работает как локальный переключатель.
type KillSwitchManager struct {
	mu            sync.RWMutex
	blockedAgents map[string]struct{}
	rdb           *redis.Client
	logger        *zap.Logger
	onChange      func(agentID string, blocked bool)

	// Предел на запись в Redis из MarkAsBlocked
	markTimeout time.Duration
}

func NewKillSwitchManager(rdb *redis.Client, logger *zap.Logger) *KillSwitchManager {
	return &KillSwitchManager{
		blockedAgents: make(map[string]struct{}),
		rdb:           rdb,
		logger:        logger.With(zap.String("mod", "killswitch")),
		markTimeout:   2 * time.Second,
	}
}

// OnChange регистрирует колбэк (например, чтобы разбудить диспетчер после разблокировки).
func (m *KillSwitchManager) OnChange(fn func(agentID string, blocked bool)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Init загружает текущее состояние блокировок при старте сервиса
func (m *KillSwitchManager) Init(ctx context.Context) error {
	if m.rdb == nil {
		return nil
	}
	agents, err := m.rdb.SMembers(ctx, infra.RedisKeyBlockedAgents).Result()
	if err != nil {
		return fmt.Errorf("killswitch: failed to load blocked set: %w", err)
	}

	m.mu.Lock()
	m.blockedAgents = make(map[string]struct{}, len(agents))
	for _, id := range agents {
		m.blockedAgents[id] = struct{}{}
	}
	m.mu.Unlock()

	m.logger.Info("blocked agents loaded", zap.Int("count", len(agents)))
	return nil
}

// Block блокирует агента во всех инстансах: set + сигнал.
func (m *KillSwitchManager) Block(ctx context.Context, agentID string) error {
	return m.set(ctx, agentID, true)
}

func (m *KillSwitchManager) Unblock(ctx context.Context, agentID string) error {
	return m.set(ctx, agentID, false)
}

func (m *KillSwitchManager) set(ctx context.Context, agentID string, blocked bool) error {
	m.apply(agentID, blocked)
	if m.rdb == nil {
		return nil
	}

	pipe := m.rdb.TxPipeline()
	signal := "off"
	if blocked {
		pipe.SAdd(ctx, infra.RedisKeyBlockedAgents, agentID)
		signal = "on"
	} else {
		pipe.SRem(ctx, infra.RedisKeyBlockedAgents, agentID)
	}
	pipe.Publish(ctx, infra.RedisChanKillSwitch, agentID+":"+signal)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("killswitch: failed to propagate signal: %w", err)
	}
	return nil
}

// MarkAsBlocked блокирует агента локально сразу, а в Redis пишет синхронно с таймаутом.
// Вызывается из анализатора здоровья в горутине воркера, поэтому ошибки Redis только логируются.
func (m *KillSwitchManager) MarkAsBlocked(agentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.markTimeout)
	defer cancel()
	if err := m.Block(ctx, agentID); err != nil {
		m.logger.Warn("kill signal not propagated", zap.String("agent_id", agentID), zap.Error(err))
	}
}

func (m *KillSwitchManager) apply(agentID string, blocked bool) {
	m.mu.Lock()
	_, was := m.blockedAgents[agentID]
	if blocked {
		m.blockedAgents[agentID] = struct{}{}
	} else {
		delete(m.blockedAgents, agentID)
	}
	fn := m.onChange
	m.mu.Unlock()

	if was != blocked && fn != nil {
		fn(agentID, blocked)
	}
}

func (m *KillSwitchManager) IsBlocked(agentID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, blocked := m.blockedAgents[agentID]
	return blocked
}
