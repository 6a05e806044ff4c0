package domain

import "time"

// SystemStatus — снимок состояния оркестратора для отображения.
type SystemStatus struct {
	Queue   QueueStats `json:"queue"`
	Agents  []Agent    `json:"agents"`
	Usage   UsageStats `json:"usage"`
	Started time.Time  `json:"started_at"`
	Uptime  float64    `json:"uptime_seconds"`
}

type QueueStats struct {
	Queued    int `json:"queued"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

type UsageStats struct {
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
	ActiveAgents int     `json:"active_agents"`
	BusyAgents   int     `json:"busy_agents"`
	Blocked      int     `json:"blocked_agents"`
}
