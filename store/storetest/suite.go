// Package storetest holds behavioural tests shared by every TaskStore implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/nodefilter"
	"github.com/getpup/metal-orchestrator/store"
)

// Run exercises s against the TaskStore contract. newStore must return an
// empty store for every call.
func Run(t *testing.T, newStore func(t *testing.T) store.TaskStore) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.TaskStore)
	}{
		{"PostAndGetTask", testPostAndGetTask},
		{"PostTaskDuplicate", testPostTaskDuplicate},
		{"GetTaskNotFound", testGetTaskNotFound},
		{"PutTaskUpdatesFields", testPutTaskUpdatesFields},
		{"PutTaskNotFound", testPutTaskNotFound},
		{"ResultMessagesAreAppendOnly", testResultMessagesAreAppendOnly},
		{"AddSubtaskIsAtomic", testAddSubtaskIsAtomic},
		{"SubtaskQueries", testSubtaskQueries},
		{"NextQueuedTaskIsOldest", testNextQueuedTaskIsOldest},
		{"NextQueuedTaskNone", testNextQueuedTaskNone},
		{"LeadershipExclusion", testLeadershipExclusion},
		{"BootActions", testBootActions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func newTask(action orchestrator.Action) *orchestrator.Task {
	// Stores may keep microsecond precision only.
	task := orchestrator.NewTask(action, "file:///site.yaml", nodefilter.FromNodeNames([]string{"n1"}))
	task.Created = task.Created.Truncate(time.Millisecond)
	task.Updated = task.Created
	task.Status = orchestrator.TaskStatusQueued
	task.CreatedBy = "tester"
	return task
}

func testPostAndGetTask(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	task := newTask(orchestrator.ActionPrepareNodes)
	task.RequestContext = &orchestrator.RequestContext{User: "ops", Roles: []string{"admin"}}

	require.NoError(t, s.PostTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Action, got.Action)
	assert.Equal(t, task.DesignRef, got.DesignRef)
	assert.Equal(t, task.NodeFilter, got.NodeFilter)
	assert.Equal(t, orchestrator.TaskStatusQueued, got.Status)
	assert.Equal(t, orchestrator.ResultIncomplete, got.Result.Status)
	assert.Equal(t, "tester", got.CreatedBy)
	assert.Equal(t, "ops", got.RequestContext.User)
	assert.True(t, task.Created.Equal(got.Created))
	assert.False(t, got.HasParent())
}

func testPostTaskDuplicate(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	task := newTask(orchestrator.ActionNoop)

	require.NoError(t, s.PostTask(ctx, task))
	assert.ErrorIs(t, s.PostTask(ctx, task), store.ErrTaskExists)
}

func testGetTaskNotFound(t *testing.T, s store.TaskStore) {
	_, err := s.GetTask(context.Background(), uuid.New())

	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func testPutTaskUpdatesFields(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	task := newTask(orchestrator.ActionDeployNodes)
	require.NoError(t, s.PostTask(ctx, task))

	task.Status = orchestrator.TaskStatusComplete
	task.Retry = 2
	task.Terminate = true
	task.TerminatedBy = "ops"
	task.Terminated = time.Now().UTC().Truncate(time.Millisecond)
	task.Failure("n1")
	task.Success("n2")
	task.Result.SetMessage("done")
	task.Result.AddLink("detail", "https://example.com/detail")
	require.NoError(t, s.PutTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.TaskStatusComplete, got.Status)
	assert.Equal(t, 2, got.Retry)
	assert.True(t, got.Terminate)
	assert.Equal(t, "ops", got.TerminatedBy)
	assert.True(t, task.Terminated.Equal(got.Terminated))
	assert.Equal(t, orchestrator.ResultPartialSuccess, got.Result.Status)
	assert.Equal(t, []string{"n2"}, got.Result.Successes)
	assert.Equal(t, []string{"n1"}, got.Result.Failures)
	assert.Equal(t, "done", got.Result.Message)
	assert.Equal(t, []string{"https://example.com/detail"}, got.Result.GetLinks("detail"))
}

func testPutTaskNotFound(t *testing.T, s store.TaskStore) {
	err := s.PutTask(context.Background(), newTask(orchestrator.ActionNoop))

	assert.ErrorIs(t, err, store.ErrTaskNotFound)
}

func testResultMessagesAreAppendOnly(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	task := newTask(orchestrator.ActionNoop)
	require.NoError(t, s.PostTask(ctx, task))

	msg, err := task.Result.AddMessage("first", false, orchestrator.ContextTask, task.ID.String())
	require.NoError(t, err)
	require.NoError(t, s.PostResultMessage(ctx, task.ID, msg))
	msg, err = task.Result.AddMessage("second", true, orchestrator.ContextNode, "n1")
	require.NoError(t, err)
	require.NoError(t, s.PostResultMessage(ctx, task.ID, msg))

	task.Result.Messages = nil
	require.NoError(t, s.PutTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, got.Result.Messages, 2)
	assert.Equal(t, "first", got.Result.Messages[0].Msg)
	assert.Equal(t, "second", got.Result.Messages[1].Msg)
	assert.Equal(t, "n1", got.Result.Messages[1].Context)
	assert.Equal(t, 1, got.Result.ErrorCount)

	assert.ErrorIs(t, s.PostResultMessage(ctx, uuid.New(), msg), store.ErrTaskNotFound)
}

func testAddSubtaskIsAtomic(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	parent := newTask(orchestrator.ActionDeployNodes)
	require.NoError(t, s.PostTask(ctx, parent))

	const n = 20
	children := make([]uuid.UUID, n)
	for i := range children {
		child := newTask(orchestrator.ActionDeployNode)
		child.ParentTaskID = parent.ID
		require.NoError(t, s.PostTask(ctx, child))
		children[i] = child.ID
	}

	var wg sync.WaitGroup
	for _, id := range children {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, s.AddSubtask(ctx, parent.ID, id))
		}(id)
	}
	wg.Wait()

	// A stale in-memory parent must not drop the appended subtasks.
	require.NoError(t, s.PutTask(ctx, parent))

	got, err := s.GetTask(ctx, parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, children, got.SubtaskIDs)

	assert.ErrorIs(t, s.AddSubtask(ctx, uuid.New(), children[0]), store.ErrTaskNotFound)
}

func testSubtaskQueries(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	parent := newTask(orchestrator.ActionPrepareNodes)
	require.NoError(t, s.PostTask(ctx, parent))

	statuses := []orchestrator.TaskStatus{
		orchestrator.TaskStatusComplete,
		orchestrator.TaskStatusRunning,
		orchestrator.TaskStatusTerminated,
		orchestrator.TaskStatusComplete,
	}
	ids := make([]uuid.UUID, len(statuses))
	for i, st := range statuses {
		child := newTask(orchestrator.ActionIdentifyNode)
		child.ParentTaskID = parent.ID
		child.Status = st
		require.NoError(t, s.PostTask(ctx, child))
		require.NoError(t, s.AddSubtask(ctx, parent.ID, child.ID))
		ids[i] = child.ID
	}

	all, err := s.GetAllSubtasks(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, taskIDs(all))

	complete, err := s.GetCompleteSubtasks(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[0], ids[3]}, taskIDs(complete))

	active, err := s.GetActiveSubtasks(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[1]}, taskIDs(active))
	assert.Equal(t, parent.ID, active[0].ParentTaskID)
}

func testNextQueuedTaskIsOldest(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	newer := newTask(orchestrator.ActionPrepareNodes)
	newer.Created = base.Add(time.Second)
	older := newTask(orchestrator.ActionDeployNodes)
	older.Created = base
	oldestDisallowed := newTask(orchestrator.ActionIdentifyNode)
	oldestDisallowed.Created = base.Add(-time.Hour)
	running := newTask(orchestrator.ActionNoop)
	running.Created = base.Add(-time.Minute)
	running.Status = orchestrator.TaskStatusRunning

	for _, task := range []*orchestrator.Task{newer, older, oldestDisallowed, running} {
		require.NoError(t, s.PostTask(ctx, task))
	}

	got, err := s.GetNextQueuedTask(ctx, orchestrator.OrchestratorActions)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)
}

func testNextQueuedTaskNone(t *testing.T, s store.TaskStore) {
	got, err := s.GetNextQueuedTask(context.Background(), orchestrator.OrchestratorActions)

	require.NoError(t, err)
	assert.Nil(t, got)
}

func testLeadershipExclusion(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	ok, err := s.ClaimLeadership(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimLeadership(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok, "a live lease must not be taken over")

	ok, err = s.MaintainLeadership(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MaintainLeadership(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AbdicateLeadership(ctx, b)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.AbdicateLeadership(ctx, a)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ClaimLeadership(ctx, b)
	require.NoError(t, err)
	assert.True(t, ok, "a released lease can be claimed")
}

func testBootActions(t *testing.T, s store.TaskStore) {
	ctx := context.Background()
	taskID := uuid.New()
	key := []byte("0123456789abcdef0123456789abcdef")

	_, err := s.GetBootActionContext(ctx, "n1")
	assert.ErrorIs(t, err, store.ErrBootActionNotFound)

	require.NoError(t, s.PostBootActionContext(ctx, store.BootActionContext{NodeName: "n1", TaskID: uuid.New(), IdentityKey: []byte("old")}))
	require.NoError(t, s.PostBootActionContext(ctx, store.BootActionContext{NodeName: "n1", TaskID: taskID, IdentityKey: key}))

	bac, err := s.GetBootActionContext(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, taskID, bac.TaskID)
	assert.Equal(t, key, bac.IdentityKey)

	rec := store.BootActionRecord{
		ActionID:    uuid.New(),
		ActionName:  "helloworld",
		NodeName:    "n1",
		TaskID:      taskID,
		IdentityKey: key,
		Status:      orchestrator.ResultIncomplete,
	}
	require.NoError(t, s.PostBootAction(ctx, rec))
	other := rec
	other.ActionID = uuid.New()
	other.NodeName = "n2"
	require.NoError(t, s.PostBootAction(ctx, other))

	require.NoError(t, s.PutBootActionStatus(ctx, rec.ActionID, orchestrator.ResultSuccess))

	got, err := s.GetBootAction(ctx, rec.ActionID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.ResultSuccess, got.Status)
	assert.Equal(t, "helloworld", got.ActionName)

	forNode, err := s.GetBootActionsForNode(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, forNode, 1)
	assert.Equal(t, rec.ActionID, forNode["helloworld"].ActionID)

	assert.ErrorIs(t, s.PutBootActionStatus(ctx, uuid.New(), orchestrator.ResultSuccess), store.ErrBootActionNotFound)
	_, err = s.GetBootAction(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrBootActionNotFound)
}

func taskIDs(tasks []*orchestrator.Task) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
