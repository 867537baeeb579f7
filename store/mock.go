package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// MockTaskStore is a configurable mock implementation of TaskStore
// for use in tests. It allows setting up expected return values, tracking method
// calls, and injecting errors for testing error paths.
//
// A method without a Func falls through to Delegate when it is set, and
// returns zero values otherwise.
type MockTaskStore struct {
	mu sync.RWMutex

	// Delegate serves calls that have no Func configured.
	Delegate TaskStore

	GetTaskFunc             func(ctx context.Context, id uuid.UUID) (*orchestrator.Task, error)
	PostTaskFunc            func(ctx context.Context, task *orchestrator.Task) error
	PutTaskFunc             func(ctx context.Context, task *orchestrator.Task) error
	AddSubtaskFunc          func(ctx context.Context, parentID, childID uuid.UUID) error
	GetNextQueuedTaskFunc   func(ctx context.Context, allowed []orchestrator.Action) (*orchestrator.Task, error)
	GetCompleteSubtasksFunc func(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error)
	GetActiveSubtasksFunc   func(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error)
	GetAllSubtasksFunc      func(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error)
	PostResultMessageFunc   func(ctx context.Context, taskID uuid.UUID, msg orchestrator.ResultMessage) error

	ClaimLeadershipFunc    func(ctx context.Context, id uuid.UUID) (bool, error)
	MaintainLeadershipFunc func(ctx context.Context, id uuid.UUID) (bool, error)
	AbdicateLeadershipFunc func(ctx context.Context, id uuid.UUID) (bool, error)

	PostBootActionContextFunc func(ctx context.Context, bac BootActionContext) error
	GetBootActionContextFunc  func(ctx context.Context, node string) (BootActionContext, error)
	PostBootActionFunc        func(ctx context.Context, rec BootActionRecord) error
	PutBootActionStatusFunc   func(ctx context.Context, actionID uuid.UUID, status orchestrator.ActionResult) error
	GetBootActionsForNodeFunc func(ctx context.Context, node string) (map[string]BootActionRecord, error)
	GetBootActionFunc         func(ctx context.Context, actionID uuid.UUID) (BootActionRecord, error)

	// Call tracking
	GetTaskCalls            []uuid.UUID
	PostTaskCalls           []*orchestrator.Task
	PutTaskCalls            []PutTaskCall
	AddSubtaskCalls         []AddSubtaskCall
	GetNextQueuedTaskCalls  [][]orchestrator.Action
	PostResultMessageCalls  []PostResultMessageCall
	ClaimLeadershipCalls    []uuid.UUID
	MaintainLeadershipCalls []uuid.UUID
	AbdicateLeadershipCalls []uuid.UUID
	PostBootActionCalls     []BootActionRecord
}

// PutTaskCall records the state a task had when PutTask was called.
type PutTaskCall struct {
	TaskID uuid.UUID
	Status orchestrator.TaskStatus
	Result orchestrator.ActionResult
}

type AddSubtaskCall struct {
	ParentID uuid.UUID
	ChildID  uuid.UUID
}

type PostResultMessageCall struct {
	TaskID  uuid.UUID
	Message orchestrator.ResultMessage
}

// NewMockTaskStore creates a new mock task store.
func NewMockTaskStore() *MockTaskStore {
	return &MockTaskStore{}
}

// GetTask implements TaskStore.
func (m *MockTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*orchestrator.Task, error) {
	m.mu.Lock()
	m.GetTaskCalls = append(m.GetTaskCalls, id)
	m.mu.Unlock()

	if m.GetTaskFunc != nil {
		return m.GetTaskFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.GetTask(ctx, id)
	}

	return nil, ErrTaskNotFound
}

// PostTask implements TaskStore.
func (m *MockTaskStore) PostTask(ctx context.Context, task *orchestrator.Task) error {
	m.mu.Lock()
	m.PostTaskCalls = append(m.PostTaskCalls, task.Clone())
	m.mu.Unlock()

	if m.PostTaskFunc != nil {
		return m.PostTaskFunc(ctx, task)
	}
	if m.Delegate != nil {
		return m.Delegate.PostTask(ctx, task)
	}

	return nil
}

// PutTask implements TaskStore.
func (m *MockTaskStore) PutTask(ctx context.Context, task *orchestrator.Task) error {
	m.mu.Lock()
	m.PutTaskCalls = append(m.PutTaskCalls, PutTaskCall{
		TaskID: task.ID,
		Status: task.Status,
		Result: task.Result.Status,
	})
	m.mu.Unlock()

	if m.PutTaskFunc != nil {
		return m.PutTaskFunc(ctx, task)
	}
	if m.Delegate != nil {
		return m.Delegate.PutTask(ctx, task)
	}

	return nil
}

// AddSubtask implements TaskStore.
func (m *MockTaskStore) AddSubtask(ctx context.Context, parentID, childID uuid.UUID) error {
	m.mu.Lock()
	m.AddSubtaskCalls = append(m.AddSubtaskCalls, AddSubtaskCall{ParentID: parentID, ChildID: childID})
	m.mu.Unlock()

	if m.AddSubtaskFunc != nil {
		return m.AddSubtaskFunc(ctx, parentID, childID)
	}
	if m.Delegate != nil {
		return m.Delegate.AddSubtask(ctx, parentID, childID)
	}

	return nil
}

// GetNextQueuedTask implements TaskStore.
func (m *MockTaskStore) GetNextQueuedTask(ctx context.Context, allowed []orchestrator.Action) (*orchestrator.Task, error) {
	m.mu.Lock()
	m.GetNextQueuedTaskCalls = append(m.GetNextQueuedTaskCalls, allowed)
	m.mu.Unlock()

	if m.GetNextQueuedTaskFunc != nil {
		return m.GetNextQueuedTaskFunc(ctx, allowed)
	}
	if m.Delegate != nil {
		return m.Delegate.GetNextQueuedTask(ctx, allowed)
	}

	return nil, nil
}

// GetCompleteSubtasks implements TaskStore.
func (m *MockTaskStore) GetCompleteSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error) {
	if m.GetCompleteSubtasksFunc != nil {
		return m.GetCompleteSubtasksFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.GetCompleteSubtasks(ctx, id)
	}

	return []*orchestrator.Task{}, nil
}

// GetActiveSubtasks implements TaskStore.
func (m *MockTaskStore) GetActiveSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error) {
	if m.GetActiveSubtasksFunc != nil {
		return m.GetActiveSubtasksFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.GetActiveSubtasks(ctx, id)
	}

	return []*orchestrator.Task{}, nil
}

// GetAllSubtasks implements TaskStore.
func (m *MockTaskStore) GetAllSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error) {
	if m.GetAllSubtasksFunc != nil {
		return m.GetAllSubtasksFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.GetAllSubtasks(ctx, id)
	}

	return []*orchestrator.Task{}, nil
}

// PostResultMessage implements TaskStore.
func (m *MockTaskStore) PostResultMessage(ctx context.Context, taskID uuid.UUID, msg orchestrator.ResultMessage) error {
	m.mu.Lock()
	m.PostResultMessageCalls = append(m.PostResultMessageCalls, PostResultMessageCall{TaskID: taskID, Message: msg})
	m.mu.Unlock()

	if m.PostResultMessageFunc != nil {
		return m.PostResultMessageFunc(ctx, taskID, msg)
	}
	if m.Delegate != nil {
		return m.Delegate.PostResultMessage(ctx, taskID, msg)
	}

	return nil
}

// ClaimLeadership implements LeadershipStore.
func (m *MockTaskStore) ClaimLeadership(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	m.ClaimLeadershipCalls = append(m.ClaimLeadershipCalls, id)
	m.mu.Unlock()

	if m.ClaimLeadershipFunc != nil {
		return m.ClaimLeadershipFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.ClaimLeadership(ctx, id)
	}

	return false, nil
}

// MaintainLeadership implements LeadershipStore.
func (m *MockTaskStore) MaintainLeadership(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	m.MaintainLeadershipCalls = append(m.MaintainLeadershipCalls, id)
	m.mu.Unlock()

	if m.MaintainLeadershipFunc != nil {
		return m.MaintainLeadershipFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.MaintainLeadership(ctx, id)
	}

	return false, nil
}

// AbdicateLeadership implements LeadershipStore.
func (m *MockTaskStore) AbdicateLeadership(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	m.AbdicateLeadershipCalls = append(m.AbdicateLeadershipCalls, id)
	m.mu.Unlock()

	if m.AbdicateLeadershipFunc != nil {
		return m.AbdicateLeadershipFunc(ctx, id)
	}
	if m.Delegate != nil {
		return m.Delegate.AbdicateLeadership(ctx, id)
	}

	return false, nil
}

// PostBootActionContext implements BootActionStore.
func (m *MockTaskStore) PostBootActionContext(ctx context.Context, bac BootActionContext) error {
	if m.PostBootActionContextFunc != nil {
		return m.PostBootActionContextFunc(ctx, bac)
	}
	if m.Delegate != nil {
		return m.Delegate.PostBootActionContext(ctx, bac)
	}

	return nil
}

// GetBootActionContext implements BootActionStore.
func (m *MockTaskStore) GetBootActionContext(ctx context.Context, node string) (BootActionContext, error) {
	if m.GetBootActionContextFunc != nil {
		return m.GetBootActionContextFunc(ctx, node)
	}
	if m.Delegate != nil {
		return m.Delegate.GetBootActionContext(ctx, node)
	}

	return BootActionContext{}, ErrBootActionNotFound
}

// PostBootAction implements BootActionStore.
func (m *MockTaskStore) PostBootAction(ctx context.Context, rec BootActionRecord) error {
	m.mu.Lock()
	m.PostBootActionCalls = append(m.PostBootActionCalls, rec)
	m.mu.Unlock()

	if m.PostBootActionFunc != nil {
		return m.PostBootActionFunc(ctx, rec)
	}
	if m.Delegate != nil {
		return m.Delegate.PostBootAction(ctx, rec)
	}

	return nil
}

// PutBootActionStatus implements BootActionStore.
func (m *MockTaskStore) PutBootActionStatus(ctx context.Context, actionID uuid.UUID, status orchestrator.ActionResult) error {
	if m.PutBootActionStatusFunc != nil {
		return m.PutBootActionStatusFunc(ctx, actionID, status)
	}
	if m.Delegate != nil {
		return m.Delegate.PutBootActionStatus(ctx, actionID, status)
	}

	return nil
}

// GetBootActionsForNode implements BootActionStore.
func (m *MockTaskStore) GetBootActionsForNode(ctx context.Context, node string) (map[string]BootActionRecord, error) {
	if m.GetBootActionsForNodeFunc != nil {
		return m.GetBootActionsForNodeFunc(ctx, node)
	}
	if m.Delegate != nil {
		return m.Delegate.GetBootActionsForNode(ctx, node)
	}

	return map[string]BootActionRecord{}, nil
}

// GetBootAction implements BootActionStore.
func (m *MockTaskStore) GetBootAction(ctx context.Context, actionID uuid.UUID) (BootActionRecord, error) {
	if m.GetBootActionFunc != nil {
		return m.GetBootActionFunc(ctx, actionID)
	}
	if m.Delegate != nil {
		return m.Delegate.GetBootAction(ctx, actionID)
	}

	return BootActionRecord{}, ErrBootActionNotFound
}

// ClaimCount returns the number of ClaimLeadership calls so far.
func (m *MockTaskStore) ClaimCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ClaimLeadershipCalls)
}

// Reset clears all call tracking data.
func (m *MockTaskStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetTaskCalls = nil
	m.PostTaskCalls = nil
	m.PutTaskCalls = nil
	m.AddSubtaskCalls = nil
	m.GetNextQueuedTaskCalls = nil
	m.PostResultMessageCalls = nil
	m.ClaimLeadershipCalls = nil
	m.MaintainLeadershipCalls = nil
	m.AbdicateLeadershipCalls = nil
	m.PostBootActionCalls = nil
}

var _ TaskStore = (*MockTaskStore)(nil)
