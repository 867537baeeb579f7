package metrics

import (
	"time"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// Leadership claim outcomes.
const (
	ClaimWon    = "won"
	ClaimDenied = "denied"
	ClaimError  = "error"
)

// Collector wraps metrics and provides helper methods with pre-filled labels.
type Collector struct {
	instance string
}

// NewCollector creates a new Collector for the given orchestrator instance.
func NewCollector(instance string) *Collector {
	return &Collector{instance: instance}
}

// IncTasksDispatched increments the dispatched counter for an action.
func (c *Collector) IncTasksDispatched(action orchestrator.Action) {
	TasksDispatchedTotal.WithLabelValues(c.instance, string(action)).Inc()
}

// IncTasksCompleted increments the completed counter for an action and result.
func (c *Collector) IncTasksCompleted(action orchestrator.Action, result orchestrator.ActionResult) {
	TasksCompletedTotal.WithLabelValues(c.instance, string(action), string(result)).Inc()
}

// IncTasksTerminated increments the terminated counter.
func (c *Collector) IncTasksTerminated() {
	TasksTerminatedTotal.WithLabelValues(c.instance).Inc()
}

// IncLeadershipClaims increments the claim counter for outcome.
func (c *Collector) IncLeadershipClaims(outcome string) {
	LeadershipClaimsTotal.WithLabelValues(c.instance, outcome).Inc()
}

// IncLeadershipLost increments the lost leadership counter.
func (c *Collector) IncLeadershipLost() {
	LeadershipLostTotal.WithLabelValues(c.instance).Inc()
}

// SetLeader sets the leader gauge.
func (c *Collector) SetLeader(leader bool) {
	v := 0.0
	if leader {
		v = 1
	}
	IsLeader.WithLabelValues(c.instance).Set(v)
}

// SetActiveWorkers sets the active workers gauge.
func (c *Collector) SetActiveWorkers(count int) {
	ActiveWorkers.WithLabelValues(c.instance).Set(float64(count))
}

// ObserveTaskDuration records how long an action ran.
func (c *Collector) ObserveTaskDuration(action orchestrator.Action, d time.Duration) {
	TaskDuration.WithLabelValues(c.instance, string(action)).Observe(d.Seconds())
}

// IncSubtaskTimeouts adds n timed out subtasks of a parent action.
func (c *Collector) IncSubtaskTimeouts(action orchestrator.Action, n int) {
	SubtaskTimeoutsTotal.WithLabelValues(c.instance, string(action)).Add(float64(n))
}

// ObserveDesignCompile records an effective site compile. It matches
// design.SourceConfig.ObserveCompile.
func (c *Collector) ObserveDesignCompile(d time.Duration) {
	DesignCompileDuration.WithLabelValues(c.instance).Observe(d.Seconds())
}
