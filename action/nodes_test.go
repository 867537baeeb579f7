package action

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/driver"
)

var nodeDriverActions = []orchestrator.Action{
	orchestrator.ActionIdentifyNode,
	orchestrator.ActionConfigureHardware,
	orchestrator.ActionApplyNodeNetworking,
	orchestrator.ActionApplyNodeStorage,
	orchestrator.ActionApplyNodePlatform,
	orchestrator.ActionDeployNode,
}

var oobDriverActions = []orchestrator.Action{
	orchestrator.ActionSetNodeBoot,
	orchestrator.ActionPowerCycleNode,
	orchestrator.ActionPowerOffNode,
	orchestrator.ActionInterrogateOOB,
}

func subtaskActions(t *testing.T, f *fixture, task *orchestrator.Task) []orchestrator.Action {
	t.Helper()
	subs, err := f.store.GetAllSubtasks(context.Background(), task.ID)
	require.NoError(t, err)
	out := make([]orchestrator.Action, 0, len(subs))
	for _, s := range subs {
		out = append(out, s.Action)
	}
	return out
}

func TestVerifyNodes(t *testing.T) {
	f := newFixture(t)
	f.register(t, driver.TypeOOB, oobDriverActions...)
	task := f.createTask(t, orchestrator.ActionVerifyNodes)

	got := f.run(t, task)

	assert.Equal(t, orchestrator.TaskStatusComplete, got.Status)
	assert.Equal(t, orchestrator.ResultSuccess, got.Result.Status)
	assert.ElementsMatch(t, []string{"controller01", "compute01"}, got.Result.Successes)
}

func TestVerifyNodes_UnsupportedOOBType(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, orchestrator.ActionVerifyNodes)

	got := f.run(t, task)

	assert.Equal(t, orchestrator.TaskStatusComplete, got.Status)
	assert.Equal(t, orchestrator.ResultFailure, got.Result.Status)
	assert.ElementsMatch(t, []string{"controller01", "compute01"}, got.Result.Failures)
	assert.Contains(t, messages(got), "Node compute01 OOB type manual is not supported.")
	assert.Empty(t, got.SubtaskIDs)
}

func TestPrepareNodes_KnownNodeSkipsOOB(t *testing.T) {
	f := newFixture(t)
	f.register(t, driver.TypeNode, nodeDriverActions...)
	oob := f.register(t, driver.TypeOOB, oobDriverActions...)
	task := f.createTask(t, orchestrator.ActionPrepareNodes, "compute01")

	got := f.run(t, task)

	assert.Equal(t, orchestrator.TaskStatusComplete, got.Status)
	assert.Equal(t, orchestrator.ResultSuccess, got.Result.Status)
	assert.Equal(t, []string{"compute01"}, got.Result.Successes)
	assert.Contains(t, messages(got), "Node found in provisioner, skipping OOB management.")
	assert.Empty(t, oob.Calls())
	assert.Equal(t, []orchestrator.Action{
		orchestrator.ActionIdentifyNode,
		orchestrator.ActionConfigureHardware,
	}, subtaskActions(t, f, got))
}

func TestPrepareNodes_UnknownNodeIsPowerCycled(t *testing.T) {
	f := newFixture(t)
	nd := f.register(t, driver.TypeNode, nodeDriverActions...)
	nd.failFirst(orchestrator.ActionIdentifyNode, "compute01")
	f.register(t, driver.TypeOOB, oobDriverActions...)
	task := f.createTask(t, orchestrator.ActionPrepareNodes, "compute01")

	got := f.run(t, task)

	assert.Equal(t, orchestrator.ResultSuccess, got.Result.Status)
	assert.Equal(t, []string{"compute01"}, got.Result.Successes)
	assert.Empty(t, got.Result.Failures)
	assert.Equal(t, []orchestrator.Action{
		orchestrator.ActionSetNodeBoot,
		orchestrator.ActionPowerCycleNode,
		orchestrator.ActionIdentifyNode,
		orchestrator.ActionConfigureHardware,
	}, subtaskActions(t, f, got))
}

func TestPrepareNodes_PartialSuccess(t *testing.T) {
	f := newFixture(t)
	nd := f.register(t, driver.TypeNode, nodeDriverActions...)
	nd.failOn(orchestrator.ActionConfigureHardware, "compute01")
	f.register(t, driver.TypeOOB, oobDriverActions...)
	task := f.createTask(t, orchestrator.ActionPrepareNodes, "controller01", "compute01")

	got := f.run(t, task)

	assert.Equal(t, orchestrator.TaskStatusComplete, got.Status)
	assert.Equal(t, orchestrator.ResultPartialSuccess, got.Result.Status)
	assert.Equal(t, []string{"controller01"}, got.Result.Successes)
	assert.Equal(t, []string{"compute01"}, got.Result.Failures)

	// One per node subtask, each a prepare_nodes of its own.
	assert.Equal(t, []orchestrator.Action{
		orchestrator.ActionPrepareNodes,
		orchestrator.ActionPrepareNodes,
	}, subtaskActions(t, f, got))
}

func TestPrepareNodes_RetriesConfigureHardware(t *testing.T) {
	f := newFixture(t)
	nd := f.register(t, driver.TypeNode, nodeDriverActions...)
	nd.failFirst(orchestrator.ActionConfigureHardware, "compute01")
	f.register(t, driver.TypeOOB, oobDriverActions...)
	task := f.createTask(t, orchestrator.ActionPrepareNodes, "compute01")

	got := f.run(t, task)

	assert.Equal(t, orchestrator.TaskStatusComplete, got.Status)
	assert.Equal(t, orchestrator.ResultSuccess, got.Result.Status)
	assert.Equal(t, []string{"compute01"}, got.Result.Successes)
	assert.Empty(t, got.Result.Failures)

	subs, err := f.store.GetAllSubtasks(context.Background(), got.ID)
	require.NoError(t, err)
	var hw *orchestrator.Task
	for _, sub := range subs {
		if sub.Action == orchestrator.ActionConfigureHardware {
			hw = sub
		}
	}
	require.NotNil(t, hw)
	assert.Equal(t, 1, hw.Retry)
	assert.Len(t, hw.SubtaskIDs, 2)
	assert.Equal(t, []string{"compute01"}, hw.Result.Successes)
}

func TestPrepareNodes_NoNodeDriver(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, orchestrator.ActionPrepareNodes, "compute01")

	got := f.run(t, task)

	assert.Equal(t, orchestrator.ResultFailure, got.Result.Status)
	assert.Equal(t, "No NodeDriver enabled.", got.Result.Message)
}

func TestPrepareNodes_Terminated(t *testing.T) {
	f := newFixture(t)
	nd := f.register(t, driver.TypeNode, nodeDriverActions...)
	f.register(t, driver.TypeOOB, oobDriverActions...)
	task := f.createTask(t, orchestrator.ActionPrepareNodes, "compute01")

	nd.onNode = func(ctx context.Context, sub *orchestrator.Task, _ string) error {
		if sub.Action == orchestrator.ActionIdentifyNode {
			return f.tasks.Terminate(ctx, task.ID, "operator", false)
		}
		return nil
	}

	got := f.run(t, task)

	assert.Equal(t, orchestrator.TaskStatusTerminated, got.Status)
	assert.Contains(t, messages(got), "Action terminated.")
	assert.NotContains(t, subtaskActions(t, f, got), orchestrator.ActionConfigureHardware)
}

func TestDeployNodes_BootActionReport(t *testing.T) {
	f := newFixture(t)
	nd := f.register(t, driver.TypeNode, nodeDriverActions...)
	task := f.createTask(t, orchestrator.ActionDeployNodes, "compute01")

	// The node reports its signaling boot action once deployed.
	nd.onNode = func(ctx context.Context, sub *orchestrator.Task, node string) error {
		if sub.Action != orchestrator.ActionDeployNode {
			return nil
		}
		recs, err := f.store.GetBootActionsForNode(ctx, node)
		if err != nil {
			return err
		}
		return f.store.PutBootActionStatus(ctx, recs["helloworld"].ActionID, orchestrator.ResultSuccess)
	}

	got := f.run(t, task)

	assert.Equal(t, orchestrator.TaskStatusComplete, got.Status)
	assert.Equal(t, orchestrator.ResultSuccess, got.Result.Status)
	assert.Equal(t, []string{"compute01"}, got.Result.Successes)
	assert.Equal(t, []orchestrator.Action{
		orchestrator.ActionApplyNodeNetworking,
		orchestrator.ActionApplyNodeStorage,
		orchestrator.ActionApplyNodePlatform,
		orchestrator.ActionDeployNode,
		orchestrator.ActionBootactionReport,
	}, subtaskActions(t, f, got))

	subs, err := f.store.GetAllSubtasks(context.Background(), got.ID)
	require.NoError(t, err)
	report := subs[len(subs)-1]
	assert.Contains(t, messages(report), "Boot action helloworld completed with status success")
}

func TestDeployNodes_BootActionTimeout(t *testing.T) {
	f := newFixture(t)
	f.register(t, driver.TypeNode, nodeDriverActions...)
	task := f.createTask(t, orchestrator.ActionDeployNodes, "compute01")

	got := f.run(t, task)

	assert.Equal(t, orchestrator.ResultFailure, got.Result.Status)
	assert.Equal(t, []string{"compute01"}, got.Result.Failures)

	subs, err := f.store.GetAllSubtasks(context.Background(), got.ID)
	require.NoError(t, err)
	report := subs[len(subs)-1]
	assert.Equal(t, orchestrator.ActionBootactionReport, report.Action)
	assert.Contains(t, messages(report), "Boot action helloworld timed out.")
}

func TestDeployNodes_SkipsAfterNetworkingFailure(t *testing.T) {
	f := newFixture(t)
	nd := f.register(t, driver.TypeNode, nodeDriverActions...)
	nd.failOn(orchestrator.ActionApplyNodeNetworking, "controller01")
	task := f.createTask(t, orchestrator.ActionDeployNodes, "controller01")

	got := f.run(t, task)

	assert.Equal(t, orchestrator.ResultFailure, got.Result.Status)
	assert.Equal(t, []string{"controller01"}, got.Result.Failures)
	assert.Contains(t, messages(got), "No nodes successfully networked, skipping storage configuration subtask.")
	assert.Equal(t, []orchestrator.Action{orchestrator.ActionApplyNodeNetworking}, subtaskActions(t, f, got))
}

func TestDestroyNodes(t *testing.T) {
	f := newFixture(t)
	f.register(t, driver.TypeNode, append(nodeDriverActions, orchestrator.ActionDestroyNode)...)
	f.register(t, driver.TypeOOB, oobDriverActions...)
	task := f.createTask(t, orchestrator.ActionDestroyNodes, "compute01")

	got := f.run(t, task)

	assert.Equal(t, orchestrator.ResultSuccess, got.Result.Status)
	assert.Equal(t, []string{"compute01"}, got.Result.Successes)
	assert.Equal(t, []orchestrator.Action{
		orchestrator.ActionDestroyNode,
		orchestrator.ActionPowerOffNode,
	}, subtaskActions(t, f, got))
}

func TestDestroyNodes_UnsupportedByNodeDriver(t *testing.T) {
	f := newFixture(t)
	f.register(t, driver.TypeNode, nodeDriverActions...)
	f.register(t, driver.TypeOOB, oobDriverActions...)
	task := f.createTask(t, orchestrator.ActionDestroyNodes, "compute01")

	got := f.run(t, task)

	assert.Equal(t, orchestrator.ResultPartialSuccess, got.Result.Status)
	assert.Contains(t, messages(got), "No node driver supports destroy_node.")
	assert.Equal(t, []orchestrator.Action{orchestrator.ActionPowerOffNode}, subtaskActions(t, f, got))
}

func TestRelabelNodes(t *testing.T) {
	f := newFixture(t)
	f.register(t, driver.TypeKubernetes, orchestrator.ActionRelabelNode)
	task := f.createTask(t, orchestrator.ActionRelabelNodes)

	got := f.run(t, task)

	assert.Equal(t, orchestrator.ResultSuccess, got.Result.Status)
	assert.ElementsMatch(t, []string{"controller01", "compute01"}, got.Result.Successes)
}

func TestRelabelNodes_NoKubernetesDriver(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, orchestrator.ActionRelabelNodes)

	got := f.run(t, task)

	assert.Equal(t, orchestrator.ResultFailure, got.Result.Status)
	assert.Contains(t, messages(got), "No kubernetes driver enabled, ending task.")
}

func TestCollectSubtasks_Timeout(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, orchestrator.ActionVerifyNodes)
	b := newBase(f.orch, task)

	release := make(chan struct{})
	defer close(release)

	fast := subtaskRun{nodes: []string{"controller01"}, run: func(context.Context) error { return nil }}
	slow := subtaskRun{nodes: []string{"compute01"}, run: func(context.Context) error {
		<-release
		return nil
	}}

	err := b.collectSubtasks(context.Background(), []subtaskRun{fast, slow}, 20*time.Millisecond)

	assert.ErrorIs(t, err, orchestrator.ErrCollectSubtaskTimeout)
	assert.Equal(t, []string{"compute01"}, b.lost)
	assert.Equal(t, orchestrator.ResultFailure, b.task.Result.Status)
	assert.Contains(t, messages(b.task), "Subtask thread for "+slow.id.String()+" still executing after timeout.")
}

func TestCollectSubtasks_RunErrorsAreLogged(t *testing.T) {
	f := newFixture(t)
	task := f.createTask(t, orchestrator.ActionVerifyNodes)
	b := newBase(f.orch, task)

	err := b.collectSubtasks(context.Background(), []subtaskRun{{
		run: func(context.Context) error { return errors.New("boom") },
	}}, time.Second)

	assert.NoError(t, err)
	assert.Empty(t, b.lost)
}
