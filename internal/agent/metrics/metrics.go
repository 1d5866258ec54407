package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksAdded tracks tasks accepted by producers
	TasksAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentus_tasks_added_total",
			Help: "Total number of tasks added",
		},
		[]string{"priority", "task_type"},
	)

	// TasksClaimed tracks tasks claimed by the worker loop
	TasksClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentus_tasks_claimed_total",
			Help: "Total number of tasks claimed by the worker",
		},
	)

	// TasksCompleted tracks successfully completed tasks
	TasksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentus_tasks_completed_total",
			Help: "Total number of tasks completed",
		},
	)

	// TasksFailed tracks failures by outcome (retry or terminal)
	TasksFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentus_tasks_failed_total",
			Help: "Total number of task failures",
		},
		[]string{"outcome"},
	)

	// FailoverAttempts tracks executor attempts per handler and failure kind
	FailoverAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentus_failover_attempts_total",
			Help: "Total number of failed handler attempts",
		},
		[]string{"handler", "kind"},
	)

	// ChainExhausted counts tasks whose whole failover chain was exhausted
	ChainExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentus_chain_exhausted_total",
			Help: "Total number of exhausted failover chains",
		},
		[]string{"handler"},
	)

	// ExecuteLatency tracks handler execution latency
	ExecuteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentus_execute_latency_seconds",
			Help:    "Handler execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler"},
	)

	// Heartbeats tracks scheduler wake cycles
	Heartbeats = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentus_heartbeats_total",
			Help: "Total number of scheduler heartbeats",
		},
	)

	// PendingTasks tracks the pending snapshot size at the last heartbeat
	PendingTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentus_pending_tasks",
			Help: "Pending tasks seen at the last heartbeat",
		},
	)
)
