package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

func (o *Orchestrator) dispatchLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
		case <-o.wake:
		}
		o.dispatchPending()
	}
}

// dispatchPending проходит очередь в порядке приоритета и раздает задачи свободным агентам.
// Задача без подходящего агента остается в очереди и не мешает следующим.
func (o *Orchestrator) dispatchPending() {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("dispatch pass recovered panic", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()

	var started []domain.Task

	o.mu.Lock()
	if o.stopped || o.pool == nil {
		o.mu.Unlock()
		return
	}
	for _, t := range o.queue.Snapshot() {
		agent := o.findAvailableLocked(t.AgentType, t.Capabilities)
		if agent == nil {
			continue
		}
		o.assignLocked(t, agent)

		snapshot := t.Clone()
		if err := o.pool.Submit(func() { o.runTask(snapshot) }); err != nil {
			// Пул переполнен: откатываем назначение и ждем следующего прохода
			o.unassignLocked(t.ID)
			if errors.Is(err, ErrPoolFull) {
				o.metrics.PoolRejections.Inc()
			}
			o.logger.Debug("dispatch deferred", zap.String("task_id", t.ID), zap.Error(err))
			break
		}
		started = append(started, snapshot)
	}
	o.observeGaugesLocked()
	o.mu.Unlock()

	for _, t := range started {
		o.logger.Info("task dispatched",
			zap.String("task_id", t.ID),
			zap.String("agent_id", t.AgentID),
			zap.Stringer("priority", t.Priority),
		)
		o.publish(context.Background(), t)
	}
}

// FindAvailableAgent возвращает копию первого свободного незаблокированного агента,
// который принимает категорию и покрывает требуемые возможности. nil, если такого нет.
func (o *Orchestrator) FindAvailableAgent(agentType string, capabilities ...string) *domain.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	a := o.findAvailableLocked(agentType, capabilities)
	if a == nil {
		return nil
	}
	c := a.Clone()
	return &c
}

func (o *Orchestrator) findAvailableLocked(agentType string, capabilities []string) *domain.Agent {
	for _, a := range o.agents {
		if a.Status != domain.AgentStandby || a.CurrentTask != "" {
			continue
		}
		if o.isBlocked(a.ID) {
			continue
		}
		if a.Accepts(agentType, capabilities) {
			return a
		}
	}
	return nil
}

func (o *Orchestrator) assignLocked(t *domain.Task, a *domain.Agent) {
	o.queue.Remove(t.ID)
	now := time.Now()
	t.Status = domain.TaskActive
	t.StartedAt = &now
	t.AgentID = a.ID
	t.Progress = 0

	a.Status = domain.AgentActive
	a.CurrentTask = t.ID

	o.active[t.ID] = &activeTask{task: t, agent: a}
	o.journalLocked(t)
}

// unassignLocked возвращает активную задачу в очередь, агент освобождается без учета в статистике.
func (o *Orchestrator) unassignLocked(id string) bool {
	at, ok := o.active[id]
	if !ok {
		return false
	}
	delete(o.active, id)

	t := at.task
	t.Status = domain.TaskQueued
	t.StartedAt = nil
	t.AgentID = ""
	t.Progress = 0

	at.agent.Status = domain.AgentStandby
	at.agent.CurrentTask = ""

	o.queue.Push(t)
	o.journalLocked(t)
	return true
}

// runTask исполняется в воркере пула.
func (o *Orchestrator) runTask(task domain.Task) {
	ctx := o.runCtx
	if o.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TaskTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "orchestrator.execute_task")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.agent_type", task.AgentType),
		attribute.String("task.priority", task.Priority.String()),
		attribute.String("agent.id", task.AgentID),
	)

	res, err := o.execute(ctx, task)

	if err != nil && o.runCtx.Err() != nil {
		o.mu.Lock()
		requeued := o.unassignLocked(task.ID)
		o.observeGaugesLocked()
		o.mu.Unlock()
		if requeued {
			o.logger.Info("task interrupted by shutdown, requeued", zap.String("task_id", task.ID))
		}
		span.SetStatus(codes.Error, "interrupted")
		return
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("task timed out after %s: %w", o.cfg.TaskTimeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if hErr := o.HandleTaskError(task.ID, err); hErr != nil {
			o.logger.Warn("failed to record task error", zap.String("task_id", task.ID), zap.Error(hErr))
		}
		return
	}

	span.SetAttributes(attribute.Int("task.tokens_used", res.TokensUsed))
	if cErr := o.CompleteTask(task.ID, res); cErr != nil {
		o.logger.Warn("failed to complete task", zap.String("task_id", task.ID), zap.Error(cErr))
	}
}

// execute изолирует панику исполнителя: она превращается в ошибку задачи.
func (o *Orchestrator) execute(ctx context.Context, task domain.Task) (res domain.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("executor panic", zap.String("task_id", task.ID), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return o.exec.Execute(ctx, task, func(p int) { o.updateProgress(task.ID, p) })
}
