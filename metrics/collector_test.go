package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	orchestrator "github.com/getpup/metal-orchestrator"
)

func TestNewCollector_CreatesCollectorWithInstance(t *testing.T) {
	collector := NewCollector("test-instance")

	assert.NotNil(t, collector)
	assert.Equal(t, "test-instance", collector.instance)
}

func TestCollector_IncTasksDispatched(t *testing.T) {
	collector := NewCollector("test-coll-1")

	before := testutil.ToFloat64(TasksDispatchedTotal.WithLabelValues("test-coll-1", "deploy_nodes"))
	collector.IncTasksDispatched(orchestrator.ActionDeployNodes)
	after := testutil.ToFloat64(TasksDispatchedTotal.WithLabelValues("test-coll-1", "deploy_nodes"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncTasksCompleted(t *testing.T) {
	collector := NewCollector("test-coll-2")

	before := testutil.ToFloat64(TasksCompletedTotal.WithLabelValues("test-coll-2", "noop", "success"))
	collector.IncTasksCompleted(orchestrator.ActionNoop, orchestrator.ResultSuccess)
	after := testutil.ToFloat64(TasksCompletedTotal.WithLabelValues("test-coll-2", "noop", "success"))

	assert.Equal(t, before+1, after)
}

func TestCollector_IncTasksTerminated(t *testing.T) {
	collector := NewCollector("test-coll-3")

	before := testutil.ToFloat64(TasksTerminatedTotal.WithLabelValues("test-coll-3"))
	collector.IncTasksTerminated()
	after := testutil.ToFloat64(TasksTerminatedTotal.WithLabelValues("test-coll-3"))

	assert.Equal(t, before+1, after)
}

func TestCollector_LeadershipCounters(t *testing.T) {
	collector := NewCollector("test-coll-4")

	collector.IncLeadershipClaims(ClaimWon)
	collector.IncLeadershipClaims(ClaimDenied)
	collector.IncLeadershipClaims(ClaimDenied)
	collector.IncLeadershipLost()

	assert.Equal(t, float64(1), testutil.ToFloat64(LeadershipClaimsTotal.WithLabelValues("test-coll-4", ClaimWon)))
	assert.Equal(t, float64(2), testutil.ToFloat64(LeadershipClaimsTotal.WithLabelValues("test-coll-4", ClaimDenied)))
	assert.Equal(t, float64(1), testutil.ToFloat64(LeadershipLostTotal.WithLabelValues("test-coll-4")))
}

func TestCollector_SetLeader(t *testing.T) {
	collector := NewCollector("test-coll-5")

	collector.SetLeader(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(IsLeader.WithLabelValues("test-coll-5")))

	collector.SetLeader(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(IsLeader.WithLabelValues("test-coll-5")))
}

func TestCollector_SetActiveWorkers(t *testing.T) {
	collector := NewCollector("test-coll-6")

	collector.SetActiveWorkers(3)

	assert.Equal(t, float64(3), testutil.ToFloat64(ActiveWorkers.WithLabelValues("test-coll-6")))
}

func TestCollector_IncSubtaskTimeouts(t *testing.T) {
	collector := NewCollector("test-coll-7")

	collector.IncSubtaskTimeouts(orchestrator.ActionPrepareNodes, 2)

	assert.Equal(t, float64(2), testutil.ToFloat64(SubtaskTimeoutsTotal.WithLabelValues("test-coll-7", "prepare_nodes")))
}

func TestCollector_Histograms(t *testing.T) {
	collector := NewCollector("test-coll-8")

	collector.ObserveTaskDuration(orchestrator.ActionNoop, 5*time.Second)
	collector.ObserveDesignCompile(20 * time.Millisecond)

	assert.Greater(t, testutil.CollectAndCount(TaskDuration), 0)
	assert.Greater(t, testutil.CollectAndCount(DesignCompileDuration), 0)
}
