package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// AgentRegistry — чтение реестра агентов (реализует engine.Orchestrator)
type AgentRegistry interface {
	ListAgents() []domain.Agent
	Agent(id string) (domain.Agent, error)
}

// KillSwitch переключает блокировку во всех инстансах
type KillSwitch interface {
	Block(ctx context.Context, agentID string) error
	Unblock(ctx context.Context, agentID string) error
}

type AgentService struct {
	registry AgentRegistry
	ks       KillSwitch
	logger   *zap.Logger
}

func NewAgentService(registry AgentRegistry, ks KillSwitch, logger *zap.Logger) *AgentService {
	return &AgentService{
		registry: registry,
		ks:       ks,
		logger:   logger.Named("agent-service"),
	}
}

// updateAgentState — единый путь для block/unblock: проверка агента, затем сигнал.
func (s *AgentService) updateAgentState(ctx context.Context, agentID string, blocked bool, operatorID string) (domain.Agent, error) {
	if _, err := s.registry.Agent(agentID); err != nil {
		return domain.Agent{}, err
	}

	action := "kill-switch-unblock"
	toggle := s.ks.Unblock
	if blocked {
		action = "kill-switch-block"
		toggle = s.ks.Block
	}

	if err := toggle(ctx, agentID); err != nil {
		s.logger.Error("failed to toggle agent",
			zap.String("agent_id", agentID),
			zap.String("action", action),
			zap.Error(err))
		return domain.Agent{}, fmt.Errorf("%s: %w", action, err)
	}

	s.logger.Info("agent state updated",
		zap.String("agent_id", agentID),
		zap.String("action", action),
		zap.String("operator_id", operatorID))

	return s.registry.Agent(agentID)
}

func (s *AgentService) BlockAgent(ctx context.Context, id, operatorID string) (domain.Agent, error) {
	return s.updateAgentState(ctx, id, true, operatorID)
}

func (s *AgentService) UnblockAgent(ctx context.Context, id, operatorID string) (domain.Agent, error) {
	return s.updateAgentState(ctx, id, false, operatorID)
}

func (s *AgentService) GetAgent(id string) (domain.Agent, error) {
	return s.registry.Agent(id)
}

// ListAgents возвращает пустой срез, а не nil, чтобы клиент получил [].
func (s *AgentService) ListAgents() []domain.Agent {
	agents := s.registry.ListAgents()
	if agents == nil {
		return []domain.Agent{}
	}
	return agents
}
