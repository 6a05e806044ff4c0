package domain

type AgentStatus string

const (
	AgentActive  AgentStatus = "active"  // Исполняет задачу
	AgentStandby AgentStatus = "standby" // Свободен
)

type Agent struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`         // Человекочитаемое имя (например, "Research Agent")
	Type         string      `json:"type"`         // Категория задач или "any"
	Capabilities []string    `json:"capabilities"` // Что агент умеет
	Status       AgentStatus `json:"status"`
	CurrentTask  string      `json:"current_task,omitempty"` // ID задачи, пусто если свободен

	// Kill-switch: заблокированный агент не получает новых задач
	Blocked bool `json:"blocked"`

	// Агрегированные счетчики
	TotalTasks      int     `json:"total_tasks"`
	SuccessRate     float64 `json:"success_rate"`      // Проценты
	AvgResponseTime float64 `json:"avg_response_time"` // Секунды
	HealthScore     float64 `json:"health_score"`      // 0..100

	Successes int `json:"-"`
}

// Accepts проверяет тип и то, что возможности агента покрывают запрошенные.
func (a *Agent) Accepts(agentType string, required []string) bool {
	if a.Type != agentType && a.Type != AnyType && agentType != AnyType {
		return false
	}
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := have[c]; !ok {
			return false
		}
	}
	return true
}

func (a *Agent) Clone() Agent {
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	return c
}

// AgentSpec — статическое описание агента из конфига.
type AgentSpec struct {
	ID           string   `mapstructure:"id"`
	Name         string   `mapstructure:"name"`
	Type         string   `mapstructure:"type"`
	Capabilities []string `mapstructure:"capabilities"`
}

// DefaultAgents — реестр по умолчанию, если в конфиге агенты не заданы.
func DefaultAgents() []AgentSpec {
	return []AgentSpec{
		{ID: "research-agent", Name: "Research Agent", Type: CategoryResearch, Capabilities: []string{"web_search", "analysis", "summarization"}},
		{ID: "code-agent", Name: "Code Agent", Type: CategoryCode, Capabilities: []string{"coding", "debugging", "review"}},
		{ID: "content-agent", Name: "Content Agent", Type: CategoryContent, Capabilities: []string{"writing", "editing", "seo"}},
		{ID: "monitor-agent", Name: "Monitoring Agent", Type: CategoryMonitoring, Capabilities: []string{"health_checks", "metrics", "alerting"}},
		{ID: "llm-test-agent", Name: "LLM Test Agent", Type: CategoryLLMTest, Capabilities: []string{"prompting", "evaluation"}},
		{ID: "general-agent", Name: "General Agent", Type: AnyType, Capabilities: []string{"analysis", "writing", "coding"}},
	}
}
