package engine

import (
	"context"

	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

// StartListener подписывается на сигналы блокировки и обновляет L1-кэш.
// При каждом переподключении состояние перечитывается из Redis set.
func (m *KillSwitchManager) StartListener(ctx context.Context) {
	if m.rdb == nil {
		return
	}
	m.logger.Info("kill-switch listener started")

	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanKillSwitch,
		func() error { return m.Init(ctx) },
		m.apply,
	)

	m.logger.Info("kill-switch listener stopped")
}
