package action

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/nodefilter"
	"github.com/getpup/metal-orchestrator/store/memory"
)

type fixture struct {
	store *memory.Store
	tasks *lifecycle.Manager
	orch  *Orchestrator
	ref   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	path, err := filepath.Abs("../design/testdata/site.yaml")
	require.NoError(t, err)

	s := memory.New()
	tasks := lifecycle.New(lifecycle.Config{Store: s})
	o := New(Config{
		Tasks:        tasks,
		Sites:        design.NewSource(design.SourceConfig{}),
		PollInterval: 10 * time.Millisecond,
		NoopDelay:    10 * time.Millisecond,
		Timeouts: Timeouts{
			Collect:               5 * time.Second,
			IdentifyNode:          30 * time.Millisecond,
			BootactionFinalStatus: 50 * time.Millisecond,
		},
	})

	return &fixture{store: s, tasks: tasks, orch: o, ref: "file://" + path}
}

func (f *fixture) createTask(t *testing.T, action orchestrator.Action, names ...string) *orchestrator.Task {
	t.Helper()

	var nf *nodefilter.FilterSet
	if len(names) > 0 {
		nf = nodefilter.FromNodeNames(names)
	}
	task, err := f.tasks.CreateTask(context.Background(), action, f.ref, nf)
	require.NoError(t, err)
	return task
}

func (f *fixture) run(t *testing.T, task *orchestrator.Task) *orchestrator.Task {
	t.Helper()

	a, err := f.orch.NewAction(task)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	got, err := f.tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	return got
}

// fakeDriver runs every task per node through driver.RunPerNode and fails
// the configured nodes.
type fakeDriver struct {
	*driver.MockDriver
	f *fixture

	mu       sync.Mutex
	fail     map[orchestrator.Action]map[string]bool
	failOnce map[orchestrator.Action]map[string]bool
	onNode   func(ctx context.Context, task *orchestrator.Task, node string) error
}

func (f *fixture) register(t *testing.T, typ driver.Type, actions ...orchestrator.Action) *fakeDriver {
	t.Helper()

	d := &fakeDriver{
		MockDriver: driver.NewMockDriver("fake-"+string(typ), typ, actions...),
		f:          f,
		fail:       map[orchestrator.Action]map[string]bool{},
		failOnce:   map[orchestrator.Action]map[string]bool{},
	}
	if typ == driver.TypeOOB {
		d.OOBTypes = []string{"manual"}
	}
	d.ExecuteTaskFunc = d.execute
	require.NoError(t, f.orch.Drivers().Register(d))
	return d
}

func (d *fakeDriver) failOn(action orchestrator.Action, nodes ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail[action] == nil {
		d.fail[action] = map[string]bool{}
	}
	for _, n := range nodes {
		d.fail[action][n] = true
	}
}

func (d *fakeDriver) failFirst(action orchestrator.Action, nodes ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOnce[action] == nil {
		d.failOnce[action] = map[string]bool{}
	}
	for _, n := range nodes {
		d.failOnce[action][n] = true
	}
}

func (d *fakeDriver) shouldFail(action orchestrator.Action, node string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOnce[action][node] {
		delete(d.failOnce[action], node)
		return true
	}
	return d.fail[action][node]
}

func (d *fakeDriver) execute(ctx context.Context, id uuid.UUID) error {
	task, err := d.f.tasks.Get(ctx, id)
	if err != nil {
		return err
	}
	return driver.RunPerNode(ctx, d.f.orch, task, time.Second, func(ctx context.Context, _ *orchestrator.Task, n *design.BaremetalNode) error {
		if d.shouldFail(task.Action, n.Name) {
			return errors.New("fake failure")
		}
		if task.Action == orchestrator.ActionDeployNode {
			if err := d.f.orch.CreateBootActionContext(ctx, n.Name, task); err != nil {
				return err
			}
		}
		if d.onNode != nil {
			return d.onNode(ctx, task, n.Name)
		}
		return nil
	})
}

func messages(task *orchestrator.Task) []string {
	out := make([]string, 0, len(task.Result.Messages))
	for _, rm := range task.Result.Messages {
		out = append(out, rm.Msg)
	}
	return out
}

func TestNew_AppliesDefaults(t *testing.T) {
	o := New(Config{Tasks: lifecycle.New(lifecycle.Config{Store: memory.New()})})

	assert.Equal(t, 10*time.Second, o.config.PollInterval)
	assert.Equal(t, 5*time.Second, o.config.NoopDelay)
	assert.Equal(t, 16, o.config.WorkerPoolSize)
	assert.Equal(t, DefaultTimeouts(), o.config.Timeouts)
	assert.NotNil(t, o.Drivers())
	assert.NotNil(t, o.logger.GetSink())
}

func TestTimeouts_WithDefaultsKeepsSetFields(t *testing.T) {
	got := Timeouts{DeployNode: time.Minute}.withDefaults()

	assert.Equal(t, time.Minute, got.DeployNode)
	assert.Equal(t, 30*time.Minute, got.ConfigureHardware)
	assert.Equal(t, time.Minute, got.step(orchestrator.ActionDeployNode))
	assert.Zero(t, got.step(orchestrator.ActionIdentifyNode))
}

func TestGetTargetNodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("node filter", func(t *testing.T) {
		task := f.createTask(t, orchestrator.ActionPrepareNodes, "compute01")

		nodes, err := f.orch.GetTargetNodes(ctx, task, false, false)

		require.NoError(t, err)
		assert.Equal(t, []string{"compute01"}, nodefilter.Names(nodes))
	})

	t.Run("all nodes without filter", func(t *testing.T) {
		task := f.createTask(t, orchestrator.ActionPrepareNodes)

		nodes, err := f.orch.GetTargetNodes(ctx, task, false, false)

		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"controller01", "compute01"}, nodefilter.Names(nodes))
	})

	t.Run("failures", func(t *testing.T) {
		task := f.createTask(t, orchestrator.ActionPrepareNodes)
		task.Result.AddFailure("compute01")

		nodes, err := f.orch.GetTargetNodes(ctx, task, true, false)

		require.NoError(t, err)
		assert.Equal(t, []string{"compute01"}, nodefilter.Names(nodes))
	})

	t.Run("empty successes", func(t *testing.T) {
		task := f.createTask(t, orchestrator.ActionPrepareNodes)

		nodes, err := f.orch.GetTargetNodes(ctx, task, false, true)

		require.NoError(t, err)
		assert.Empty(t, nodes)
	})

	t.Run("both failures and successes", func(t *testing.T) {
		task := f.createTask(t, orchestrator.ActionPrepareNodes)

		_, err := f.orch.GetTargetNodes(ctx, task, true, true)

		assert.ErrorIs(t, err, orchestrator.ErrOrchestrator)
		assert.Contains(t, err.Error(), "Cannot specify both failures and successes.")
	})

	t.Run("unrenderable design", func(t *testing.T) {
		task, err := f.tasks.CreateTask(ctx, orchestrator.ActionPrepareNodes, "file:///does/not/exist.yaml", nil)
		require.NoError(t, err)

		_, err = f.orch.GetTargetNodes(ctx, task, false, false)

		assert.ErrorIs(t, err, orchestrator.ErrOrchestrator)
		assert.Contains(t, err.Error(), "Unable to render effective site design.")
	})
}

func TestCreateBootActionContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.createTask(t, orchestrator.ActionDeployNode)

	require.NoError(t, f.orch.CreateBootActionContext(ctx, "compute01", task))
	require.NoError(t, f.orch.CreateBootActionContext(ctx, "controller01", task))

	compute, err := f.store.GetBootActionsForNode(ctx, "compute01")
	require.NoError(t, err)
	require.Len(t, compute, 2)
	assert.Equal(t, orchestrator.ResultIncomplete, compute["helloworld"].Status)
	assert.Equal(t, orchestrator.ResultUnreported, compute["hw-inventory"].Status)
	assert.Len(t, compute["helloworld"].IdentityKey, identityKeyLength)
	assert.Equal(t, compute["helloworld"].IdentityKey, compute["hw-inventory"].IdentityKey)
	assert.NotEqual(t, compute["helloworld"].ActionID, compute["hw-inventory"].ActionID)

	bac, err := f.store.GetBootActionContext(ctx, "compute01")
	require.NoError(t, err)
	assert.Equal(t, task.ID, bac.TaskID)
	assert.Equal(t, compute["helloworld"].IdentityKey, bac.IdentityKey)

	controller, err := f.store.GetBootActionsForNode(ctx, "controller01")
	require.NoError(t, err)
	require.Len(t, controller, 1)
	assert.Contains(t, controller, "hw-inventory")

	ctrlCtx, err := f.store.GetBootActionContext(ctx, "controller01")
	require.NoError(t, err)
	assert.NotEqual(t, bac.IdentityKey, ctrlCtx.IdentityKey)
}

func TestCreateBootActionContext_NoSite(t *testing.T) {
	f := newFixture(t)
	task, err := f.tasks.CreateTask(context.Background(), orchestrator.ActionDeployNode, "file:///does/not/exist.yaml", nil)
	require.NoError(t, err)

	err = f.orch.CreateBootActionContext(context.Background(), "compute01", task)

	assert.ErrorIs(t, err, orchestrator.ErrOrchestrator)
}

func TestNewAction_Unsupported(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, orchestrator.ActionPowerOnNode)

	_, err := f.orch.NewAction(task)

	assert.ErrorIs(t, err, ErrUnsupportedAction)
}

func TestSupported_ReturnsCopy(t *testing.T) {
	f := newFixture(t)

	got := f.orch.Supported()
	got[0] = "mutated"

	assert.Equal(t, orchestrator.OrchestratorActions, f.orch.Supported())
}
