package engine

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// GetTask ищет задачу в памяти, затем в истории (если она подключена).
func (o *Orchestrator) GetTask(ctx context.Context, id string) (domain.Task, error) {
	o.mu.Lock()
	if t := o.queue.Get(id); t != nil {
		c := t.Clone()
		o.mu.Unlock()
		return c, nil
	}
	if at, ok := o.active[id]; ok {
		c := at.task.Clone()
		o.mu.Unlock()
		return c, nil
	}
	if t, ok := o.finishedIdx[id]; ok {
		c := t.Clone()
		o.mu.Unlock()
		return c, nil
	}
	o.mu.Unlock()

	if o.opts.History == nil {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	t, err := o.opts.History.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if t == nil {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return *t, nil
}

// ListTasks отдает задачи в порядке: очередь по приоритету, активные, завершенные (новые первыми).
// Пустой статус — все задачи.
func (o *Orchestrator) ListTasks(status domain.TaskStatus) []domain.Task {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []domain.Task
	if status == "" || status == domain.TaskQueued {
		for _, t := range o.queue.Snapshot() {
			out = append(out, t.Clone())
		}
	}
	if status == "" || status == domain.TaskActive {
		active := make([]domain.Task, 0, len(o.active))
		for _, at := range o.active {
			active = append(active, at.task.Clone())
		}
		slices.SortFunc(active, func(a, b domain.Task) int {
			return a.StartedAt.Compare(*b.StartedAt)
		})
		out = append(out, active...)
	}
	if status == "" || status.IsTerminal() {
		for i := len(o.finished) - 1; i >= 0; i-- {
			if t := o.finished[i]; status == "" || t.Status == status {
				out = append(out, t.Clone())
			}
		}
	}
	return out
}

// ListAgents возвращает снимки агентов в порядке реестра.
func (o *Orchestrator) ListAgents() []domain.Agent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.agentsLocked()
}

// Agent возвращает снимок одного агента.
func (o *Orchestrator) Agent(id string) (domain.Agent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	a, ok := o.agentIdx[id]
	if !ok {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	c := a.Clone()
	c.Blocked = o.isBlocked(id)
	return c, nil
}

func (o *Orchestrator) agentsLocked() []domain.Agent {
	out := make([]domain.Agent, 0, len(o.agents))
	for _, a := range o.agents {
		c := a.Clone()
		c.Blocked = o.isBlocked(a.ID)
		out = append(out, c)
	}
	return out
}

func (o *Orchestrator) QueueLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.queue.Len()
}

// GetSystemStatus собирает согласованный снимок под одной блокировкой.
func (o *Orchestrator) GetSystemStatus() domain.SystemStatus {
	o.mu.Lock()
	defer o.mu.Unlock()

	agents := o.agentsLocked()
	usage := domain.UsageStats{
		TotalTokens: o.totalTokens,
		TotalCost:   o.totalCost,
		BusyAgents:  len(o.active),
	}
	for _, a := range agents {
		if a.Blocked {
			usage.Blocked++
		} else {
			usage.ActiveAgents++
		}
	}

	st := domain.SystemStatus{
		Queue: domain.QueueStats{
			Queued:    o.queue.Len(),
			Active:    len(o.active),
			Completed: o.completedTotal,
			Failed:    o.failedTotal,
		},
		Agents:  agents,
		Usage:   usage,
		Started: o.started,
	}
	if !o.started.IsZero() {
		st.Uptime = time.Since(o.started).Seconds()
	}
	return st
}

// metricsLoop периодически пишет срез состояния в хранилище и обновляет gauges.
func (o *Orchestrator) metricsLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.runCtx.Done():
			return
		case <-ticker.C:
			o.recordMetrics(o.runCtx)
		}
	}
}

type lengther interface{ Len() int }

func (o *Orchestrator) recordMetrics(ctx context.Context) {
	st := o.GetSystemStatus()
	o.metrics.QueueDepth.Set(float64(st.Queue.Queued))
	o.metrics.BusyAgents.Set(float64(st.Usage.BusyAgents))
	if j, ok := o.opts.Journal.(lengther); ok {
		o.metrics.JournalBufferFill.Set(float64(j.Len()))
	}

	if o.opts.Snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := o.opts.Snapshots.SaveSystemMetrics(ctx, domain.SystemMetrics{
		Timestamp:   time.Now(),
		Queued:      st.Queue.Queued,
		Active:      st.Queue.Active,
		Completed:   st.Queue.Completed,
		Failed:      st.Queue.Failed,
		BusyAgents:  st.Usage.BusyAgents,
		TotalTokens: st.Usage.TotalTokens,
		TotalCost:   st.Usage.TotalCost,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Warn("failed to save system metrics", zap.Error(err))
	}
}
