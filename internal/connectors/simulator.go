package connectors

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/xela07ax/agent-orchestrator/internal/domain"
)

// Step — именованный шаг симуляции с базовой длительностью.
type Step struct {
	Name     string
	Duration time.Duration
}

// Playbooks — фиксированные сценарии шагов для каждой категории.
var Playbooks = map[string][]Step{
	domain.CategoryResearch: {
		{"gathering sources", 2 * time.Second},
		{"analyzing information", 3 * time.Second},
		{"synthesizing findings", 2 * time.Second},
		{"generating report", 1 * time.Second},
	},
	domain.CategoryCode: {
		{"analyzing requirements", 2 * time.Second},
		{"designing solution", 2 * time.Second},
		{"writing code", 3 * time.Second},
		{"running tests", 2 * time.Second},
	},
	domain.CategoryContent: {
		{"researching topic", 2 * time.Second},
		{"creating outline", 1 * time.Second},
		{"writing draft", 3 * time.Second},
		{"editing", 1 * time.Second},
	},
	domain.CategoryMonitoring: {
		{"checking system health", 1 * time.Second},
		{"collecting metrics", 2 * time.Second},
		{"analyzing trends", 1 * time.Second},
	},
	domain.CategoryGeneric: {
		{"processing request", 2 * time.Second},
		{"executing task", 2 * time.Second},
		{"finalizing", 1 * time.Second},
	},
	domain.CategoryLLMTest: {
		{"preparing prompts", 1 * time.Second},
		{"calling models", 3 * time.Second},
		{"comparing outputs", 2 * time.Second},
	},
	domain.CategoryParallel: {
		{"splitting workload", 1 * time.Second},
		{"running subtasks", 3 * time.Second},
		{"merging results", 1 * time.Second},
	},
}

var summaries = map[string]string{
	domain.CategoryResearch:   "Research on %q finished: sources gathered, findings analyzed and summarized.",
	domain.CategoryCode:       "Code task %q finished: solution designed, implemented and tested.",
	domain.CategoryContent:    "Content for %q is ready: outline, draft and final edit done.",
	domain.CategoryMonitoring: "Monitoring run %q finished: all checks collected, no anomalies detected.",
	domain.CategoryGeneric:    "Task %q processed successfully.",
	domain.CategoryLLMTest:    "LLM test %q finished: model outputs compared.",
	domain.CategoryParallel:   "Parallel execution %q finished: subtasks merged.",
}

// costPer1K — условная цена за 1000 токенов
const costPer1K = 0.02

// Simulator имитирует работу агента: спит по шагам сценария и сочиняет метрики.
type Simulator struct {
	scale       float64 // Множитель длительности шагов, 0 — без задержек
	failureRate float64 // Доля задач, завершающихся ошибкой
}

func NewSimulator(scale, failureRate float64) *Simulator {
	return &Simulator{scale: scale, failureRate: failureRate}
}

func (s *Simulator) Execute(ctx context.Context, task domain.Task, progress func(int)) (domain.TaskResult, error) {
	steps, ok := Playbooks[task.AgentType]
	if !ok {
		steps = Playbooks[domain.CategoryGeneric]
	}

	for i, step := range steps {
		if err := s.sleep(ctx, step.Duration); err != nil {
			return domain.TaskResult{}, fmt.Errorf("step %q interrupted: %w", step.Name, err)
		}
		if progress != nil {
			progress((i + 1) * 100 / len(steps))
		}
	}

	// "unstable" в имени — принудительный сбой, удобно для ручной проверки
	if strings.Contains(strings.ToLower(task.Name), "unstable") || rand.Float64() < s.failureRate {
		return domain.TaskResult{}, fmt.Errorf("simulated failure in %s task", task.AgentType)
	}

	tmpl, ok := summaries[task.AgentType]
	if !ok {
		tmpl = summaries[domain.CategoryGeneric]
	}
	tokens := 500 + rand.IntN(4500)
	cost := math.Round(float64(tokens)/1000*costPer1K*10000) / 10000

	return domain.TaskResult{
		Result:     fmt.Sprintf(tmpl, task.Name),
		TokensUsed: tokens,
		Cost:       cost,
	}, nil
}

func (s *Simulator) sleep(ctx context.Context, d time.Duration) error {
	d = time.Duration(float64(d) * s.scale)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
