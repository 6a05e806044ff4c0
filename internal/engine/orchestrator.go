package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
	"github.com/xela07ax/agent-orchestrator/internal/queue"
)

var (
	ErrStopped        = errors.New("orchestrator is stopped")
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

var tracer = otel.Tracer("github.com/xela07ax/agent-orchestrator/internal/engine")

// ExecutionProvider исполняет задачу и сообщает прогресс (0..100).
type ExecutionProvider interface {
	Execute(ctx context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error)
}

// TaskJournal принимает снимки задач при каждой смене состояния. Не должен блокировать.
type TaskJournal interface {
	Log(task domain.Task)
}

type MessageStore interface {
	SaveMessage(ctx context.Context, m domain.UserMessage) error
}

type MetricsStore interface {
	SaveSystemMetrics(ctx context.Context, m domain.SystemMetrics) error
}

// AgentGate сообщает, заблокирован ли агент (kill-switch).
type AgentGate interface {
	IsBlocked(agentID string) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, task domain.Task)
}

// HealthObserver получает снимок агента после каждой завершенной задачи.
type HealthObserver interface {
	Observe(agent domain.Agent)
}

// TaskHistory — долговременное хранилище, куда ушли вытесненные из памяти задачи.
type TaskHistory interface {
	GetTask(ctx context.Context, id string) (*domain.Task, error)
}

// Options — необязательные зависимости. Любое поле может быть nil.
type Options struct {
	Journal   TaskJournal
	Messages  MessageStore
	Snapshots MetricsStore
	Gate      AgentGate
	Events    EventPublisher
	Health    HealthObserver
	History   TaskHistory
	Metrics   *Metrics
}

type activeTask struct {
	task  *domain.Task
	agent *domain.Agent
}

// Orchestrator владеет очередью, реестром агентов и жизненным циклом задач.
// Все изменяемое состояние защищено mu; наружу уходят только копии.
type Orchestrator struct {
	cfg     infra.EngineConfig
	exec    ExecutionProvider
	opts    Options
	metrics *Metrics
	logger  *zap.Logger

	mu          sync.Mutex
	queue       *queue.PriorityQueue
	agents      []*domain.Agent
	agentIdx    map[string]*domain.Agent
	active      map[string]*activeTask
	finished    []*domain.Task // completed и error, от старых к новым
	finishedIdx map[string]*domain.Task

	completedTotal int
	failedTotal    int
	totalTokens    int64
	totalCost      float64

	pool    *WorkerPool
	runCtx  context.Context
	cancel  context.CancelFunc
	stopped bool
	started time.Time

	wake chan struct{}
	wg   sync.WaitGroup
}

func New(cfg infra.EngineConfig, specs []domain.AgentSpec, exec ExecutionProvider, logger *zap.Logger, opts Options) (*Orchestrator, error) {
	if exec == nil {
		return nil, errors.New("orchestrator: execution provider is required")
	}
	if len(specs) == 0 {
		return nil, errors.New("orchestrator: at least one agent is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MetricsInterval <= 0 {
		cfg.MetricsInterval = 30 * time.Second
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	o := &Orchestrator{
		cfg:         cfg,
		exec:        exec,
		opts:        opts,
		metrics:     metrics,
		logger:      logger.Named("orchestrator"),
		queue:       queue.New(),
		agentIdx:    make(map[string]*domain.Agent, len(specs)),
		active:      make(map[string]*activeTask),
		finishedIdx: make(map[string]*domain.Task),
		wake:        make(chan struct{}, 1),
	}

	for _, s := range specs {
		if _, dup := o.agentIdx[s.ID]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate agent %q", s.ID)
		}
		name := s.Name
		if name == "" {
			name = s.ID
		}
		a := &domain.Agent{
			ID:           s.ID,
			Name:         name,
			Type:         s.Type,
			Capabilities: append([]string(nil), s.Capabilities...),
			Status:       domain.AgentStandby,
			HealthScore:  100,
		}
		o.agents = append(o.agents, a)
		o.agentIdx[a.ID] = a
	}
	return o, nil
}

// Start запускает пул воркеров, цикл диспетчеризации и сбор метрик.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	if o.pool != nil {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	workers := o.cfg.Workers
	if workers <= 0 {
		workers = len(o.agents)
	}
	o.runCtx, o.cancel = context.WithCancel(ctx)
	pool := NewWorkerPool(workers, o.cfg.PoolQueue, o.logger)
	o.pool = pool
	o.started = time.Now()
	o.mu.Unlock()

	o.wg.Add(2)
	go o.dispatchLoop()
	go o.metricsLoop()

	o.logger.Info("orchestrator started",
		zap.Int("agents", len(o.agents)),
		zap.Int("workers", pool.Size()),
		zap.Duration("poll_interval", o.cfg.PollInterval),
	)
	o.Wake()
	return nil
}

// Stop прерывает исполняемые задачи и дожидается воркеров.
// Прерванные задачи возвращаются в очередь (и в журнал) со статусом queued.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	pool, cancel := o.pool, o.cancel
	o.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	o.wg.Wait()
	pool.StopWait()
	o.logger.Info("orchestrator stopped", zap.Int("queued", o.QueueLen()))
}

// Wake будит диспетчер вне очереди тикера.
func (o *Orchestrator) Wake() {
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// AddTask ставит задачу в очередь и возвращает ее снимок.
func (o *Orchestrator) AddTask(ctx context.Context, req domain.TaskRequest) (domain.Task, error) {
	if err := req.Validate(); err != nil {
		return domain.Task{}, err
	}
	agentType := req.AgentType
	if agentType == "" {
		agentType = domain.CategoryGeneric
	}

	t := &domain.Task{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		AgentType:    agentType,
		Capabilities: append([]string(nil), req.Capabilities...),
		Priority:     req.Priority,
		Status:       domain.TaskQueued,
		Source:       req.Source,
		CreatedAt:    time.Now(),
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return domain.Task{}, ErrStopped
	}
	o.queue.Push(t)
	snapshot := t.Clone()
	o.journalLocked(t)
	o.observeGaugesLocked()
	o.mu.Unlock()

	o.metrics.TasksSubmitted.WithLabelValues(snapshot.AgentType, snapshot.Priority.String()).Inc()
	o.publish(ctx, snapshot)
	o.logger.Info("task queued",
		zap.String("task_id", snapshot.ID),
		zap.String("agent_type", snapshot.AgentType),
		zap.Stringer("priority", snapshot.Priority),
		zap.String("source", snapshot.Source),
	)

	o.Wake()
	return snapshot, nil
}

// Restore возвращает в очередь незавершенные задачи, загруженные из хранилища.
// Возвращает число реально добавленных задач.
func (o *Orchestrator) Restore(tasks []domain.Task) int {
	o.mu.Lock()
	restored := 0
	for i := range tasks {
		t := tasks[i].Clone()
		if t.ID == "" || o.knownLocked(t.ID) {
			continue
		}
		t.Status = domain.TaskQueued
		t.StartedAt = nil
		t.AgentID = ""
		t.Progress = 0
		t.Source = domain.SourceRestore
		if t.AgentType == "" {
			t.AgentType = domain.CategoryGeneric
		}
		o.queue.Push(&t)
		o.journalLocked(&t)
		restored++
	}
	o.observeGaugesLocked()
	o.mu.Unlock()

	if restored > 0 {
		o.logger.Info("unfinished tasks restored", zap.Int("count", restored))
		o.Wake()
	}
	return restored
}

func (o *Orchestrator) knownLocked(id string) bool {
	if o.queue.Get(id) != nil {
		return true
	}
	if _, ok := o.active[id]; ok {
		return true
	}
	_, ok := o.finishedIdx[id]
	return ok
}

// CompleteTask фиксирует успешное завершение. Повторный вызов вернет ErrTaskNotActive.
func (o *Orchestrator) CompleteTask(id string, res domain.TaskResult) error {
	o.mu.Lock()
	at, ok := o.active[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrTaskNotActive, id)
	}
	now := time.Now()
	t := at.task
	t.Status = domain.TaskCompleted
	t.CompletedAt = &now
	t.Progress = 100
	t.Result = res.Result
	t.TokensUsed = res.TokensUsed
	t.Cost = res.Cost

	o.totalTokens += int64(res.TokensUsed)
	o.totalCost += res.Cost
	o.completedTotal++

	duration := o.finishLocked(at, true, now)
	snapshot, agent := t.Clone(), at.agent.Clone()
	o.mu.Unlock()

	o.metrics.TokensUsed.WithLabelValues(snapshot.AgentType).Add(float64(res.TokensUsed))
	o.metrics.Cost.WithLabelValues(snapshot.AgentType).Add(res.Cost)
	o.afterFinish(snapshot, agent, duration)
	return nil
}

// HandleTaskError переводит задачу в error и штрафует здоровье агента.
func (o *Orchestrator) HandleTaskError(id string, cause error) error {
	o.mu.Lock()
	at, ok := o.active[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrTaskNotActive, id)
	}
	now := time.Now()
	t := at.task
	t.Status = domain.TaskError
	t.CompletedAt = &now
	if cause != nil {
		t.Error = cause.Error()
	} else {
		t.Error = "unknown error"
	}
	o.failedTotal++

	duration := o.finishLocked(at, false, now)
	snapshot, agent := t.Clone(), at.agent.Clone()
	o.mu.Unlock()

	o.afterFinish(snapshot, agent, duration)
	return nil
}

// finishLocked снимает задачу с агента и кладет в список завершенных.
func (o *Orchestrator) finishLocked(at *activeTask, success bool, now time.Time) time.Duration {
	t := at.task
	delete(o.active, t.ID)

	var duration time.Duration
	if t.StartedAt != nil {
		duration = now.Sub(*t.StartedAt)
	}
	o.releaseAgentLocked(at.agent, success, duration)

	o.finished = append(o.finished, t)
	o.finishedIdx[t.ID] = t
	if limit := o.cfg.CompletedRetention; limit > 0 && len(o.finished) > limit {
		n := len(o.finished) - limit
		for _, old := range o.finished[:n] {
			delete(o.finishedIdx, old.ID)
		}
		o.finished = slices.Delete(o.finished, 0, n)
	}

	o.journalLocked(t)
	o.observeGaugesLocked()
	return duration
}

func (o *Orchestrator) releaseAgentLocked(a *domain.Agent, success bool, d time.Duration) {
	a.Status = domain.AgentStandby
	a.CurrentTask = ""
	a.TotalTasks++
	if success {
		a.Successes++
		a.HealthScore = min(100, a.HealthScore+o.cfg.HealthRecovery)
	} else {
		a.HealthScore = max(0, a.HealthScore-o.cfg.HealthPenalty)
	}
	a.SuccessRate = float64(a.Successes) * 100 / float64(a.TotalTasks)
	// Скользящее среднее по всем задачам агента
	n := float64(a.TotalTasks)
	a.AvgResponseTime = (a.AvgResponseTime*(n-1) + d.Seconds()) / n
}

func (o *Orchestrator) afterFinish(task domain.Task, agent domain.Agent, d time.Duration) {
	o.metrics.TasksFinished.WithLabelValues(task.AgentType, string(task.Status)).Inc()
	o.metrics.TaskDuration.WithLabelValues(task.AgentType, string(task.Status)).Observe(d.Seconds())

	fields := []zap.Field{
		zap.String("task_id", task.ID),
		zap.String("agent_id", agent.ID),
		zap.Duration("duration", d),
		zap.Float64("health", agent.HealthScore),
	}
	if task.Status == domain.TaskError {
		o.logger.Warn("task failed", append(fields, zap.String("error", task.Error))...)
	} else {
		o.logger.Info("task completed", append(fields, zap.Int("tokens", task.TokensUsed))...)
	}

	o.publish(context.Background(), task)
	if o.opts.Health != nil {
		o.opts.Health.Observe(agent)
	}
	o.Wake()
}

// updateProgress вызывается исполнителем; для неактивной задачи игнорируется.
func (o *Orchestrator) updateProgress(id string, p int) {
	p = max(0, min(100, p))
	o.mu.Lock()
	at, ok := o.active[id]
	if !ok || at.task.Progress == p {
		o.mu.Unlock()
		return
	}
	at.task.Progress = p
	snapshot := at.task.Clone()
	o.mu.Unlock()

	o.publish(context.Background(), snapshot)
}

func (o *Orchestrator) journalLocked(t *domain.Task) {
	if o.opts.Journal != nil {
		o.opts.Journal.Log(t.Clone())
	}
}

func (o *Orchestrator) publish(ctx context.Context, t domain.Task) {
	if o.opts.Events != nil {
		o.opts.Events.Publish(ctx, t)
	}
}

func (o *Orchestrator) observeGaugesLocked() {
	o.metrics.QueueDepth.Set(float64(o.queue.Len()))
	o.metrics.BusyAgents.Set(float64(len(o.active)))
}

func (o *Orchestrator) isBlocked(agentID string) bool {
	return o.opts.Gate != nil && o.opts.Gate.IsBlocked(agentID)
}
