package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TasksDispatchedTotal tracks tasks handed to an action by the leader.
var TasksDispatchedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metal_orchestrator_tasks_dispatched_total",
		Help: "Total tasks dispatched to an action",
	},
	[]string{"instance", "action"},
)

// TasksCompletedTotal tracks tasks that finished, by result status.
var TasksCompletedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metal_orchestrator_tasks_completed_total",
		Help: "Total tasks completed",
	},
	[]string{"instance", "action", "result"},
)

// TasksTerminatedTotal tracks queued tasks terminated before they ran.
var TasksTerminatedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metal_orchestrator_tasks_terminated_total",
		Help: "Total tasks terminated before execution",
	},
	[]string{"instance"},
)

// LeadershipClaimsTotal tracks leadership claim attempts by outcome.
var LeadershipClaimsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metal_orchestrator_leadership_claims_total",
		Help: "Total leadership claim attempts",
	},
	[]string{"instance", "outcome"},
)

// LeadershipLostTotal tracks how often a held lease could not be renewed.
var LeadershipLostTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metal_orchestrator_leadership_lost_total",
		Help: "Total leadership leases lost",
	},
	[]string{"instance"},
)

// IsLeader is 1 while the instance holds the leadership lease.
var IsLeader = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "metal_orchestrator_is_leader",
		Help: "Whether this instance holds leadership (1) or not (0)",
	},
	[]string{"instance"},
)

// ActiveWorkers tracks the actions currently executing.
var ActiveWorkers = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "metal_orchestrator_active_workers",
		Help: "Current executing actions",
	},
	[]string{"instance"},
)

// TaskDuration tracks action execution time.
var TaskDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "metal_orchestrator_task_duration_seconds",
		Help:    "Time spent executing an action",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
	},
	[]string{"instance", "action"},
)

// SubtaskTimeoutsTotal tracks subtasks still running when collection timed out.
var SubtaskTimeoutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "metal_orchestrator_subtask_timeouts_total",
		Help: "Total subtasks that did not finish before the collection timeout",
	},
	[]string{"instance", "action"},
)

// DesignCompileDuration tracks effective site compile latency.
var DesignCompileDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "metal_orchestrator_design_compile_duration_seconds",
		Help:    "Effective site compile latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"instance"},
)
