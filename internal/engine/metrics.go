package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняло исполнение задачи
	TaskDuration *prometheus.HistogramVec

	// Traffic: поставленные и завершенные задачи
	TasksSubmitted *prometheus.CounterVec
	TasksFinished  *prometheus.CounterVec

	// Saturation: очередь, занятые агенты, отказы пула
	QueueDepth     prometheus.Gauge
	BusyAgents     prometheus.Gauge
	PoolRejections prometheus.Counter

	// Usage: сколько токенов и денег потратили исполнители
	TokensUsed *prometheus.CounterVec
	Cost       *prometheus.CounterVec

	// Состояние Circuit Breaker удаленного исполнителя (0 - closed, 0.5 - half-open, 1 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Заполненность буфера журнала (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если реестр не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TaskDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "orchestrator_task_duration_seconds",
			Help:    "Histogram of task execution latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"category", "status"}),

		TasksSubmitted: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_submitted_total",
			Help: "Total number of submitted tasks.",
		}, []string{"category", "priority"}),

		TasksFinished: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tasks_finished_total",
			Help: "Total number of finished tasks by final status.",
		}, []string{"category", "status"}),

		QueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_queue_depth",
			Help: "Current number of queued tasks.",
		}),

		BusyAgents: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_busy_agents",
			Help: "Current number of agents executing a task.",
		}),

		PoolRejections: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "orchestrator_pool_rejections_total",
			Help: "Dispatch attempts refused by a full worker pool.",
		}),

		TokensUsed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_tokens_used_total",
			Help: "Tokens reported by executors.",
		}, []string{"category"}),

		Cost: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "orchestrator_cost_total",
			Help: "Cost reported by executors.",
		}, []string{"category"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "orchestrator_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"backend"}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "orchestrator_journal_buffer_utilization",
			Help: "Current number of task snapshots waiting in the journal buffer.",
		}),
	}
}
