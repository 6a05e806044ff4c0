package risk

import (
	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"go.uber.org/zap"
)

// KillSwitchProvider описывает возможности, необходимые анализатору.
// Реализует KillSwitchManager из пакета engine.
type KillSwitchProvider interface {
	MarkAsBlocked(agentID string)
	IsBlocked(agentID string) bool
}

// Analyzer следит за здоровьем агентов и выводит деградировавших из ротации.
type Analyzer struct {
	ksm       KillSwitchProvider
	threshold float64
	logger    *zap.Logger
}

// NewAnalyzer: threshold <= 0 отключает автоматическую блокировку.
func NewAnalyzer(ksm KillSwitchProvider, threshold float64, logger *zap.Logger) *Analyzer {
	return &Analyzer{ksm: ksm, threshold: threshold, logger: logger.Named("analyzer")}
}

// IsRequired проверяет, нужно ли блокировать агента по текущему снимку
func (a *Analyzer) IsRequired(agent domain.Agent) bool {
	if a.threshold <= 0 || agent.Blocked {
		return false
	}
	return agent.HealthScore < a.threshold
}

// Observe вызывается после каждой завершенной задачи агента.
func (a *Analyzer) Observe(agent domain.Agent) {
	if !a.IsRequired(agent) || a.ksm.IsBlocked(agent.ID) {
		return
	}
	a.logger.Warn("AGENT HEALTH DEGRADED: blocking",
		zap.String("agent_id", agent.ID),
		zap.Float64("health", agent.HealthScore),
		zap.Float64("threshold", a.threshold),
		zap.Float64("success_rate", agent.SuccessRate),
	)
	a.ksm.MarkAsBlocked(agent.ID)
}
