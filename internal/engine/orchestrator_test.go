package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
	"github.com/xela07ax/agent-orchestrator/internal/infra"
)

type execFunc func(ctx context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error)

func (f execFunc) Execute(ctx context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error) {
	return f(ctx, task, progress)
}

func instantExec(tokens int) execFunc {
	return func(_ context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error) {
		progress(100)
		return domain.TaskResult{Result: "done: " + task.Name, TokensUsed: tokens, Cost: 0.01}, nil
	}
}

// blockingExec держит задачу до закрытия release или отмены контекста.
func blockingExec(release <-chan struct{}) execFunc {
	return func(ctx context.Context, task domain.Task, _ func(int)) (domain.TaskResult, error) {
		select {
		case <-release:
			return domain.TaskResult{Result: "ok"}, nil
		case <-ctx.Done():
			return domain.TaskResult{}, ctx.Err()
		}
	}
}

type memJournal struct {
	mu    sync.Mutex
	tasks []domain.Task
}

func (j *memJournal) Log(t domain.Task) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.tasks = append(j.tasks, t)
}

func (j *memJournal) last(id string) (domain.Task, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.tasks) - 1; i >= 0; i-- {
		if j.tasks[i].ID == id {
			return j.tasks[i], true
		}
	}
	return domain.Task{}, false
}

type memGate struct {
	mu      sync.Mutex
	blocked map[string]bool
}

func (g *memGate) IsBlocked(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.blocked[id]
}

func (g *memGate) set(id string, v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[id] = v
}

type healthLog struct {
	mu     sync.Mutex
	agents []domain.Agent
}

func (h *healthLog) Observe(a domain.Agent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.agents = append(h.agents, a)
}

func testEngineConfig() infra.EngineConfig {
	return infra.EngineConfig{
		PollInterval:    10 * time.Millisecond,
		TaskTimeout:     5 * time.Second,
		MetricsInterval: time.Hour,
		PoolQueue:       4,
		HealthPenalty:   10,
		HealthRecovery:  2,
	}
}

func newTestOrchestrator(t *testing.T, cfg infra.EngineConfig, agents []domain.AgentSpec, exec ExecutionProvider, opts Options) *Orchestrator {
	t.Helper()
	o, err := New(cfg, agents, exec, zap.NewNop(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(o.Stop)
	return o
}

func startOrchestrator(t *testing.T, o *Orchestrator) {
	t.Helper()
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("не дождались: %s", what)
}

func addTask(t *testing.T, o *Orchestrator, name, agentType string, p domain.Priority) domain.Task {
	t.Helper()
	task, err := o.AddTask(context.Background(), domain.TaskRequest{Name: name, AgentType: agentType, Priority: p})
	if err != nil {
		t.Fatalf("AddTask(%s): %v", name, err)
	}
	return task
}

func singleAgent() []domain.AgentSpec {
	return []domain.AgentSpec{{ID: "solo", Type: domain.AnyType}}
}

func TestDispatchOrder(t *testing.T) {
	t.Run("один агент берет задачи строго по приоритету", func(t *testing.T) {
		var mu sync.Mutex
		var order []string
		exec := execFunc(func(_ context.Context, task domain.Task, _ func(int)) (domain.TaskResult, error) {
			mu.Lock()
			order = append(order, task.Name)
			mu.Unlock()
			return domain.TaskResult{}, nil
		})
		o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), exec, Options{})

		addTask(t, o, "low", domain.CategoryGeneric, domain.PriorityLow)
		addTask(t, o, "medium", domain.CategoryGeneric, domain.PriorityMedium)
		addTask(t, o, "high", domain.CategoryGeneric, domain.PriorityHigh)
		addTask(t, o, "critical", domain.CategoryGeneric, domain.PriorityCritical)
		startOrchestrator(t, o)

		waitFor(t, "4 завершенные задачи", func() bool { return o.GetSystemStatus().Queue.Completed == 4 })

		mu.Lock()
		defer mu.Unlock()
		want := []string{"critical", "high", "medium", "low"}
		if strings.Join(order, ",") != strings.Join(want, ",") {
			t.Errorf("порядок %v, ожидали %v", order, want)
		}
	})

	t.Run("равный приоритет исполняется FIFO", func(t *testing.T) {
		var mu sync.Mutex
		var order []string
		exec := execFunc(func(_ context.Context, task domain.Task, _ func(int)) (domain.TaskResult, error) {
			mu.Lock()
			order = append(order, task.Name)
			mu.Unlock()
			return domain.TaskResult{}, nil
		})
		o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), exec, Options{})
		for i := 0; i < 5; i++ {
			addTask(t, o, fmt.Sprint(i), domain.CategoryGeneric, domain.PriorityHigh)
		}
		startOrchestrator(t, o)
		waitFor(t, "5 завершенных задач", func() bool { return o.GetSystemStatus().Queue.Completed == 5 })

		mu.Lock()
		defer mu.Unlock()
		if strings.Join(order, ",") != "0,1,2,3,4" {
			t.Errorf("порядок %v, ожидали FIFO", order)
		}
	})

	t.Run("задача без подходящего агента не блокирует остальные", func(t *testing.T) {
		agents := []domain.AgentSpec{{ID: "writer", Type: domain.CategoryContent}}
		o := newTestOrchestrator(t, testEngineConfig(), agents, instantExec(10), Options{})
		stuck := addTask(t, o, "code job", domain.CategoryCode, domain.PriorityCritical)
		done := addTask(t, o, "article", domain.CategoryContent, domain.PriorityLow)
		startOrchestrator(t, o)

		waitFor(t, "content задача завершена", func() bool {
			got, err := o.GetTask(context.Background(), done.ID)
			return err == nil && got.Status == domain.TaskCompleted
		})
		got, _ := o.GetTask(context.Background(), stuck.ID)
		if got.Status != domain.TaskQueued {
			t.Errorf("code задача должна ждать в очереди, статус %s", got.Status)
		}
	})
}

func TestFindAvailableAgent(t *testing.T) {
	agents := []domain.AgentSpec{
		{ID: "code-1", Type: domain.CategoryCode, Capabilities: []string{"coding"}},
		{ID: "code-2", Type: domain.CategoryCode, Capabilities: []string{"coding", "review"}},
		{ID: "research-1", Type: domain.CategoryResearch},
	}
	release := make(chan struct{})
	o := newTestOrchestrator(t, testEngineConfig(), agents, blockingExec(release), Options{})

	t.Run("учитывает возможности", func(t *testing.T) {
		a := o.FindAvailableAgent(domain.CategoryCode, "review")
		if a == nil || a.ID != "code-2" {
			t.Fatalf("ожидали code-2, получили %+v", a)
		}
		if o.FindAvailableAgent(domain.CategoryCode, "deploy") != nil {
			t.Error("агента с deploy нет")
		}
	})

	t.Run("nil когда все code агенты заняты", func(t *testing.T) {
		startOrchestrator(t, o)
		addTask(t, o, "c1", domain.CategoryCode, domain.PriorityMedium)
		addTask(t, o, "c2", domain.CategoryCode, domain.PriorityMedium)
		waitFor(t, "оба code агента заняты", func() bool { return o.GetSystemStatus().Queue.Active == 2 })

		if a := o.FindAvailableAgent(domain.CategoryCode); a != nil {
			t.Errorf("ожидали nil, получили %s", a.ID)
		}
		if a := o.FindAvailableAgent(domain.CategoryResearch); a == nil {
			t.Error("research агент свободен")
		}

		close(release)
		waitFor(t, "code агент освободился", func() bool { return o.FindAvailableAgent(domain.CategoryCode) != nil })
	})
}

func TestCompleteTask(t *testing.T) {
	t.Run("задача попадает в завершенные ровно один раз", func(t *testing.T) {
		release := make(chan struct{})
		journal := &memJournal{}
		o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), blockingExec(release), Options{Journal: journal})
		startOrchestrator(t, o)

		task := addTask(t, o, "job", domain.CategoryGeneric, domain.PriorityMedium)
		waitFor(t, "задача активна", func() bool { return o.GetSystemStatus().Queue.Active == 1 })

		if err := o.CompleteTask(task.ID, domain.TaskResult{Result: "manual", TokensUsed: 7}); err != nil {
			t.Fatalf("CompleteTask: %v", err)
		}
		if err := o.CompleteTask(task.ID, domain.TaskResult{}); !errors.Is(err, domain.ErrTaskNotActive) {
			t.Errorf("повторное завершение: ожидали ErrTaskNotActive, получили %v", err)
		}
		close(release) // исполнитель тоже попытается завершить задачу

		waitFor(t, "агент свободен", func() bool { return o.ListAgents()[0].Status == domain.AgentStandby })

		completed := o.ListTasks(domain.TaskCompleted)
		if len(completed) != 1 || completed[0].ID != task.ID || completed[0].Result != "manual" {
			t.Fatalf("неожиданный список завершенных: %+v", completed)
		}
		if len(o.ListTasks(domain.TaskQueued)) != 0 || len(o.ListTasks(domain.TaskActive)) != 0 {
			t.Error("задача осталась в очереди или среди активных")
		}
		st := o.GetSystemStatus()
		if st.Queue.Completed != 1 || st.Usage.TotalTokens != 7 {
			t.Errorf("неожиданная статистика: %+v", st)
		}
		if last, ok := journal.last(task.ID); !ok || last.Status != domain.TaskCompleted {
			t.Errorf("последний снимок в журнале: %+v", last)
		}
	})

	t.Run("неизвестная задача", func(t *testing.T) {
		o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), instantExec(1), Options{})
		if err := o.HandleTaskError("missing", errors.New("x")); !errors.Is(err, domain.ErrTaskNotActive) {
			t.Errorf("ожидали ErrTaskNotActive, получили %v", err)
		}
	})
}

func TestAgentInvariantUnderLoad(t *testing.T) {
	agents := []domain.AgentSpec{
		{ID: "a1", Type: domain.AnyType},
		{ID: "a2", Type: domain.AnyType},
		{ID: "a3", Type: domain.CategoryCode},
		{ID: "a4", Type: domain.CategoryResearch},
	}
	exec := execFunc(func(_ context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error) {
		progress(50)
		time.Sleep(time.Millisecond)
		return domain.TaskResult{TokensUsed: 1}, nil
	})
	cfg := testEngineConfig()
	cfg.Workers = 2 // меньше, чем агентов: часть диспетчеризаций упрется в пул
	cfg.PoolQueue = 1
	o := newTestOrchestrator(t, cfg, agents, exec, Options{})
	startOrchestrator(t, o)

	const producers, perProducer = 8, 25
	categories := []string{domain.CategoryCode, domain.CategoryResearch, domain.CategoryGeneric}

	stop := make(chan struct{})
	violations := make(chan string, 1)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, a := range o.ListAgents() {
				if (a.Status == domain.AgentStandby) != (a.CurrentTask == "") {
					select {
					case violations <- fmt.Sprintf("%s: status=%s current=%q", a.ID, a.Status, a.CurrentTask):
					default:
					}
				}
			}
			// Не держим mu в горячем цикле, иначе на одном ядре голодают воркеры
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				_, err := o.AddTask(context.Background(), domain.TaskRequest{
					Name:      fmt.Sprintf("p%d-%d", p, i),
					AgentType: categories[(p+i)%len(categories)],
					Priority:  domain.Priority(i % 4),
				})
				if err != nil {
					t.Errorf("AddTask: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()

	waitFor(t, "все задачи завершены", func() bool {
		return o.GetSystemStatus().Queue.Completed == producers*perProducer
	})
	close(stop)

	select {
	case v := <-violations:
		t.Fatalf("нарушен инвариант агента: %s", v)
	default:
	}
	if got := o.GetSystemStatus().Usage.TotalTokens; got != producers*perProducer {
		t.Errorf("TotalTokens = %d", got)
	}
}

func TestPoolBackpressureRollback(t *testing.T) {
	agents := []domain.AgentSpec{
		{ID: "a1", Type: domain.AnyType},
		{ID: "a2", Type: domain.AnyType},
		{ID: "a3", Type: domain.AnyType},
	}
	release := make(chan struct{})
	defer close(release)

	cfg := testEngineConfig()
	cfg.Workers = 1
	cfg.PoolQueue = 0
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := newTestOrchestrator(t, cfg, agents, blockingExec(release), Options{Metrics: metrics})
	startOrchestrator(t, o)

	busy := addTask(t, o, "busy", domain.CategoryGeneric, domain.PriorityMedium)
	waitFor(t, "единственный воркер занят", func() bool {
		task, err := o.GetTask(context.Background(), busy.ID)
		return err == nil && task.Status == domain.TaskActive
	})

	low := addTask(t, o, "low", domain.CategoryGeneric, domain.PriorityLow)
	critical := addTask(t, o, "critical", domain.CategoryGeneric, domain.PriorityCritical)
	waitFor(t, "пул отказал в приеме", func() bool {
		return testutil.ToFloat64(metrics.PoolRejections) > 0
	})

	t.Run("назначение откатывается", func(t *testing.T) {
		owner, err := o.GetTask(context.Background(), busy.ID)
		if err != nil {
			t.Fatal(err)
		}
		for _, a := range o.ListAgents() {
			if a.ID == owner.AgentID {
				if a.Status != domain.AgentActive || a.CurrentTask != busy.ID {
					t.Errorf("%s: status=%s current=%q", a.ID, a.Status, a.CurrentTask)
				}
				continue
			}
			if a.Status != domain.AgentStandby || a.CurrentTask != "" {
				t.Errorf("%s не вернулся в standby: status=%s current=%q", a.ID, a.Status, a.CurrentTask)
			}
		}
	})

	t.Run("порядок очереди сохраняется", func(t *testing.T) {
		queued := o.ListTasks(domain.TaskQueued)
		if len(queued) != 2 || queued[0].ID != critical.ID || queued[1].ID != low.ID {
			t.Fatalf("неожиданная очередь: %+v", queued)
		}
		for _, q := range queued {
			if q.AgentID != "" || q.StartedAt != nil {
				t.Errorf("%s сохранил следы назначения: agent=%q", q.Name, q.AgentID)
			}
		}
	})
}

func TestTaskFailures(t *testing.T) {
	t.Run("ошибка исполнителя штрафует здоровье", func(t *testing.T) {
		exec := execFunc(func(context.Context, domain.Task, func(int)) (domain.TaskResult, error) {
			return domain.TaskResult{}, errors.New("backend exploded")
		})
		health := &healthLog{}
		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)
		o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), exec, Options{Health: health, Metrics: metrics})
		startOrchestrator(t, o)

		task := addTask(t, o, "doomed", domain.CategoryCode, domain.PriorityHigh)
		waitFor(t, "задача в error", func() bool { return o.GetSystemStatus().Queue.Failed == 1 })

		got, err := o.GetTask(context.Background(), task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != domain.TaskError || got.Error != "backend exploded" || got.CompletedAt == nil {
			t.Errorf("неожиданная задача: %+v", got)
		}
		agent := o.ListAgents()[0]
		if agent.HealthScore != 90 || agent.SuccessRate != 0 || agent.TotalTasks != 1 {
			t.Errorf("неожиданный агент: %+v", agent)
		}
		if agent.Status != domain.AgentStandby {
			t.Error("агент должен вернуться в standby")
		}

		health.mu.Lock()
		observed := len(health.agents)
		health.mu.Unlock()
		if observed != 1 {
			t.Errorf("HealthObserver вызван %d раз", observed)
		}
		if v := testutil.ToFloat64(metrics.TasksFinished.WithLabelValues(domain.CategoryCode, "error")); v != 1 {
			t.Errorf("tasks_finished{error} = %v", v)
		}
	})

	t.Run("таймаут задачи", func(t *testing.T) {
		cfg := testEngineConfig()
		cfg.TaskTimeout = 20 * time.Millisecond
		o := newTestOrchestrator(t, cfg, singleAgent(), blockingExec(make(chan struct{})), Options{})
		startOrchestrator(t, o)

		task := addTask(t, o, "hang", domain.CategoryGeneric, domain.PriorityLow)
		waitFor(t, "задача упала по таймауту", func() bool { return o.GetSystemStatus().Queue.Failed == 1 })

		got, _ := o.GetTask(context.Background(), task.ID)
		if !strings.Contains(got.Error, "timed out") {
			t.Errorf("ожидали сообщение о таймауте, получили %q", got.Error)
		}
	})

	t.Run("паника исполнителя становится ошибкой задачи", func(t *testing.T) {
		exec := execFunc(func(context.Context, domain.Task, func(int)) (domain.TaskResult, error) {
			panic("nil map")
		})
		o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), exec, Options{})
		startOrchestrator(t, o)
		addTask(t, o, "panic", domain.CategoryGeneric, domain.PriorityLow)
		waitFor(t, "задача в error", func() bool { return o.GetSystemStatus().Queue.Failed == 1 })
		if o.ListAgents()[0].Status != domain.AgentStandby {
			t.Error("агент должен освободиться после паники")
		}
	})
}

func TestRetention(t *testing.T) {
	cfg := testEngineConfig()
	cfg.CompletedRetention = 3
	o := newTestOrchestrator(t, cfg, singleAgent(), instantExec(1), Options{})

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, addTask(t, o, fmt.Sprint(i), domain.CategoryGeneric, domain.PriorityMedium).ID)
	}
	startOrchestrator(t, o)
	waitFor(t, "5 завершенных", func() bool { return o.GetSystemStatus().Queue.Completed == 5 })

	done := o.ListTasks(domain.TaskCompleted)
	if len(done) != 3 {
		t.Fatalf("в памяти %d завершенных, ожидали 3", len(done))
	}
	if done[0].ID != ids[4] {
		t.Errorf("новые задачи должны идти первыми")
	}
	if _, err := o.GetTask(context.Background(), ids[0]); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("вытесненная задача: ожидали ErrTaskNotFound, получили %v", err)
	}
}

type historyStub map[string]domain.Task

func (h historyStub) GetTask(_ context.Context, id string) (*domain.Task, error) {
	t, ok := h[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return &t, nil
}

func TestGetTaskFallsBackToHistory(t *testing.T) {
	old := domain.Task{ID: "archived", Name: "old", Status: domain.TaskCompleted}
	o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), instantExec(1), Options{History: historyStub{"archived": old}})

	got, err := o.GetTask(context.Background(), "archived")
	if err != nil || got.Name != "old" {
		t.Errorf("ожидали задачу из истории, получили %+v, %v", got, err)
	}
	if _, err := o.GetTask(context.Background(), "nope"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Errorf("ожидали ErrTaskNotFound, получили %v", err)
	}
}

func TestRestoreAndShutdown(t *testing.T) {
	t.Run("незавершенные задачи возвращаются в очередь", func(t *testing.T) {
		o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), instantExec(1), Options{})
		started := time.Now().Add(-time.Minute)
		tasks := []domain.Task{
			{ID: "t1", Name: "was running", Status: domain.TaskActive, StartedAt: &started, AgentID: "solo", Progress: 40, Priority: domain.PriorityHigh, CreatedAt: started},
			{ID: "t2", Name: "was queued", Status: domain.TaskQueued, Priority: domain.PriorityLow, CreatedAt: started},
		}
		if n := o.Restore(tasks); n != 2 {
			t.Fatalf("Restore = %d, ожидали 2", n)
		}
		if n := o.Restore(tasks); n != 0 {
			t.Errorf("повторный Restore должен пропустить известные задачи, вернул %d", n)
		}
		queued := o.ListTasks(domain.TaskQueued)
		if len(queued) != 2 || queued[0].ID != "t1" || queued[0].Progress != 0 || queued[0].AgentID != "" {
			t.Errorf("неожиданная очередь: %+v", queued)
		}
		for _, q := range queued {
			if q.Source != domain.SourceRestore {
				t.Errorf("%s: source=%q", q.ID, q.Source)
			}
		}
	})

	t.Run("Stop возвращает прерванную задачу в очередь", func(t *testing.T) {
		journal := &memJournal{}
		o, err := New(testEngineConfig(), singleAgent(), blockingExec(make(chan struct{})), zap.NewNop(), Options{Journal: journal})
		if err != nil {
			t.Fatal(err)
		}
		startOrchestrator(t, o)
		task := addTask(t, o, "long", domain.CategoryGeneric, domain.PriorityMedium)
		waitFor(t, "задача активна", func() bool { return o.GetSystemStatus().Queue.Active == 1 })

		o.Stop()

		got, _ := o.GetTask(context.Background(), task.ID)
		if got.Status != domain.TaskQueued {
			t.Errorf("после остановки статус %s, ожидали queued", got.Status)
		}
		if last, _ := journal.last(task.ID); last.Status != domain.TaskQueued {
			t.Errorf("журнал должен знать, что задача снова в очереди: %s", last.Status)
		}
		if _, err := o.AddTask(context.Background(), domain.TaskRequest{Name: "late"}); !errors.Is(err, ErrStopped) {
			t.Errorf("ожидали ErrStopped, получили %v", err)
		}
	})

	t.Run("повторный Start", func(t *testing.T) {
		o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), instantExec(1), Options{})
		startOrchestrator(t, o)
		if err := o.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
			t.Errorf("ожидали ErrAlreadyStarted, получили %v", err)
		}
	})
}

func TestBlockedAgentsAreSkipped(t *testing.T) {
	gate := &memGate{blocked: map[string]bool{"solo": true}}
	o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), instantExec(1), Options{Gate: gate})
	startOrchestrator(t, o)

	task := addTask(t, o, "wait", domain.CategoryGeneric, domain.PriorityMedium)
	time.Sleep(50 * time.Millisecond)
	if got, _ := o.GetTask(context.Background(), task.ID); got.Status != domain.TaskQueued {
		t.Fatalf("заблокированный агент взял задачу: %s", got.Status)
	}
	if st := o.GetSystemStatus(); st.Usage.Blocked != 1 || !st.Agents[0].Blocked {
		t.Errorf("статус должен показывать блокировку: %+v", st.Usage)
	}

	gate.set("solo", false)
	o.Wake()
	waitFor(t, "задача исполнена после разблокировки", func() bool {
		got, _ := o.GetTask(context.Background(), task.ID)
		return got.Status == domain.TaskCompleted
	})
}

func TestAddTaskValidation(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := newTestOrchestrator(t, testEngineConfig(), singleAgent(), instantExec(1), Options{Metrics: metrics})

	if _, err := o.AddTask(context.Background(), domain.TaskRequest{Name: "  "}); !errors.Is(err, domain.ErrInvalidTask) {
		t.Errorf("пустое имя: ожидали ErrInvalidTask, получили %v", err)
	}
	task, err := o.AddTask(context.Background(), domain.TaskRequest{Name: "x", Priority: domain.PriorityCritical})
	if err != nil {
		t.Fatal(err)
	}
	if task.AgentType != domain.CategoryGeneric || task.Status != domain.TaskQueued || task.ID == "" {
		t.Errorf("неожиданная задача: %+v", task)
	}
	if v := testutil.ToFloat64(metrics.TasksSubmitted.WithLabelValues(domain.CategoryGeneric, "critical")); v != 1 {
		t.Errorf("tasks_submitted = %v", v)
	}
	if v := testutil.ToFloat64(metrics.QueueDepth); v != 1 {
		t.Errorf("queue_depth = %v", v)
	}
}
