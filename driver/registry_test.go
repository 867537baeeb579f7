package driver

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/getpup/metal-orchestrator"
)

func TestRegistry_OOBDriversKeyedByType(t *testing.T) {
	r := NewRegistry()
	manual := NewMockDriver("manual", TypeOOB, orchestrator.ActionPowerOnNode)
	manual.OOBTypes = []string{"manual"}
	cloud := NewMockDriver("hcloud", TypeOOB, orchestrator.ActionPowerOnNode)
	cloud.OOBTypes = []string{"hcloud"}

	require.NoError(t, r.Register(manual))
	require.NoError(t, r.Register(cloud))

	d, ok := r.OOB("hcloud")
	require.True(t, ok)
	assert.Equal(t, "hcloud", d.Name())

	_, ok = r.OOB("ipmi")
	assert.False(t, ok)

	names := []string{}
	for _, d := range r.OOBDrivers() {
		names = append(names, d.Name())
	}
	assert.Equal(t, []string{"manual", "hcloud"}, names)
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	oob := NewMockDriver("manual", TypeOOB)
	require.NoError(t, r.Register(oob))
	require.NoError(t, r.Register(NewMockDriver("manual", TypeNode)))

	err := r.Register(NewMockDriver("manual", TypeOOB))
	assert.ErrorIs(t, err, orchestrator.ErrOrchestrator)

	err = r.Register(NewMockDriver("other", TypeNode))
	assert.ErrorIs(t, err, orchestrator.ErrOrchestrator)

	d, ok := r.Node()
	require.True(t, ok)
	assert.Equal(t, "manual", d.Name())
}

func TestRegistry_RejectsUnknownType(t *testing.T) {
	err := NewRegistry().Register(NewMockDriver("weird", Type("storage")))

	assert.ErrorIs(t, err, orchestrator.ErrOrchestrator)
}

func TestRegistry_MissingDrivers(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Node()
	assert.False(t, ok)
	_, ok = r.Network()
	assert.False(t, ok)
	_, ok = r.Kubernetes()
	assert.False(t, ok)
	assert.Empty(t, r.OOBDrivers())
}

func TestDispatch_UnsupportedAction(t *testing.T) {
	r := NewRegistry()
	d := NewMockDriver("manual", TypeNode, orchestrator.ActionIdentifyNode)
	task := orchestrator.NewTask(orchestrator.ActionDeployNode, "", nil)

	err := r.Dispatch(context.Background(), d, task)

	require.Error(t, err)
	assert.ErrorIs(t, err, orchestrator.ErrDriver)
	assert.Contains(t, err.Error(), "unsupported action deploy_node for driver manual")
	assert.Empty(t, d.Calls())
}

func TestDispatch_ExecutesTask(t *testing.T) {
	r := NewRegistry()
	d := NewMockDriver("manual", TypeNode, orchestrator.ActionIdentifyNode)
	task := orchestrator.NewTask(orchestrator.ActionIdentifyNode, "", nil)

	require.NoError(t, r.Dispatch(context.Background(), d, task))

	assert.Equal(t, []uuid.UUID{task.ID}, d.Calls())
}

func TestDispatch_WrapsDriverError(t *testing.T) {
	r := NewRegistry()
	d := NewMockDriver("manual", TypeNode, orchestrator.ActionIdentifyNode)
	boom := errors.New("bmc unreachable")
	d.ExecuteTaskFunc = func(ctx context.Context, id uuid.UUID) error { return boom }

	err := r.Dispatch(context.Background(), d, orchestrator.NewTask(orchestrator.ActionIdentifyNode, "", nil))

	assert.ErrorIs(t, err, orchestrator.ErrDriver)
	assert.ErrorIs(t, err, boom)
}

func TestMockDriver_SupportsOOBTypeOnlyForOOB(t *testing.T) {
	d := NewMockDriver("manual", TypeNode)
	d.OOBTypes = []string{"manual"}

	assert.False(t, d.SupportsOOBType("manual"))
}
