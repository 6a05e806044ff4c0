package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "orchestrator"
)

// Ключи для Sets (состояние)
const (
	RedisKeyBlockedAgents = RedisNamespace + ":agents:blocked_set"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanKillSwitch — сигналы "agent_id:on|off" для блокировки агентов
	RedisChanKillSwitch = RedisNamespace + ":agents:kill-switch-signal"
	// RedisChanTaskEvents — JSON-снимки задач при смене статуса
	RedisChanTaskEvents = RedisNamespace + ":tasks:events"
)
