package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskStatus — жизненный цикл задачи
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskError     TaskStatus = "error"
)

// IsTerminal возвращает true, если переходы из статуса больше невозможны.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskError
}

// Priority — числовой ранг. Сравнивается напрямую, больше = важнее.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "medium", "high", "critical"}

var (
	ErrInvalidPriority = errors.New("invalid task priority")
	ErrInvalidTask     = errors.New("invalid task")
	ErrTaskNotFound    = errors.New("task not found")
	ErrTaskNotActive   = errors.New("task is not active")
	ErrAgentNotFound   = errors.New("agent not found")
)

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority принимает имя приоритета без учета регистра.
// Пустая строка трактуется как medium.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityMedium, nil
	}
	for i, name := range priorityNames {
		if name == s {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

func (p Priority) MarshalText() ([]byte, error) {
	if p < PriorityLow || p > PriorityCritical {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, int(p))
	}
	return []byte(priorityNames[p]), nil
}

func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Категории задач (agent_type). Для каждой есть свой набор шагов исполнения.
const (
	CategoryResearch   = "research"
	CategoryCode       = "code"
	CategoryContent    = "content"
	CategoryMonitoring = "monitoring"
	CategoryGeneric    = "generic"
	CategoryLLMTest    = "llm_test"
	CategoryParallel   = "parallel_executor"

	// AnyType — агент этого типа берет задачи любой категории,
	// а задача с этим типом подходит любому агенту.
	AnyType = "any"
)

// Источники задачи
const (
	SourceHTTP    = "http"
	SourceGRPC    = "grpc"
	SourceChat    = "chat"
	SourceRestore = "restore"
)

// Task — единица работы. Владелец — оркестратор, наружу отдаются только копии.
type Task struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	AgentType    string     `json:"agent_type"`
	Capabilities []string   `json:"capabilities,omitempty"`
	Priority     Priority   `json:"priority"`
	Status       TaskStatus `json:"status"`
	Source       string     `json:"source,omitempty"`
	AgentID      string     `json:"agent_id,omitempty"` // Кто исполняет / исполнил

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Progress   int     `json:"progress"` // 0..100
	Result     string  `json:"result,omitempty"`
	Error      string  `json:"error,omitempty"`
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}

// Clone делает глубокую копию, чтобы снимок не делил память с оркестратором.
func (t *Task) Clone() Task {
	c := *t
	if t.Capabilities != nil {
		c.Capabilities = append([]string(nil), t.Capabilities...)
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return c
}

// TaskRequest — входные данные для постановки задачи в очередь.
type TaskRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	AgentType    string   `json:"agent_type"`
	Priority     Priority `json:"priority"`
	Capabilities []string `json:"capabilities,omitempty"`
	Source       string   `json:"-"`
}

func (r TaskRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if r.Priority < PriorityLow || r.Priority > PriorityCritical {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, int(r.Priority))
	}
	return nil
}

// TaskResult — то, что возвращает исполнитель.
type TaskResult struct {
	Result     string  `json:"result"`
	TokensUsed int     `json:"tokens_used"`
	Cost       float64 `json:"cost"`
}
