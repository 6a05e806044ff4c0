package domain

import "time"

// SystemMetrics — периодический срез, пишется в system_metrics.
type SystemMetrics struct {
	Timestamp   time.Time `json:"timestamp"`
	Queued      int       `json:"queued"`
	Active      int       `json:"active"`
	Completed   int       `json:"completed"`
	Failed      int       `json:"failed"`
	BusyAgents  int       `json:"busy_agents"`
	TotalTokens int64     `json:"total_tokens"`
	TotalCost   float64   `json:"total_cost"`
}

// UserMessage — реплика пользователя и ответ чат-диспетчера.
type UserMessage struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Response  string    `json:"response"`
	TaskID    string    `json:"task_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatResponse struct {
	Response string `json:"response"`
	Intent   string `json:"intent"`         // status, help или категория задачи
	Task     *Task  `json:"task,omitempty"` // Созданная задача
}
