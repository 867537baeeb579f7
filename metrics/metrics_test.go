package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTasksDispatchedTotal_Increment(t *testing.T) {
	before := testutil.ToFloat64(TasksDispatchedTotal.WithLabelValues("test-i", "noop"))
	TasksDispatchedTotal.WithLabelValues("test-i", "noop").Inc()
	after := testutil.ToFloat64(TasksDispatchedTotal.WithLabelValues("test-i", "noop"))

	assert.Equal(t, before+1, after)
}

func TestActiveWorkers_SetValue(t *testing.T) {
	ActiveWorkers.WithLabelValues("test-i-2").Set(5)
	value := testutil.ToFloat64(ActiveWorkers.WithLabelValues("test-i-2"))

	assert.Equal(t, float64(5), value)
}

func TestLeadershipLostTotal_PassesLint(t *testing.T) {
	LeadershipLostTotal.WithLabelValues("test-i-3").Inc()

	problems, err := testutil.CollectAndLint(LeadershipLostTotal)
	assert.NoError(t, err)
	assert.Empty(t, problems)
}
