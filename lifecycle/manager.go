package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/nodefilter"
	"github.com/getpup/metal-orchestrator/store"
)

// ErrLeadershipLost is returned by StartLeaseRenewal when another instance holds the lease.
var ErrLeadershipLost = errors.New("leadership lost")

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// Store persists tasks and the leadership lease (required).
	Store store.TaskStore

	// LeaseRenewInterval is the interval between lease renewals (default: 30s).
	LeaseRenewInterval time.Duration

	// Logger is for observability (optional).
	Logger logr.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Manager performs the store backed state transitions of tasks.
// It keeps no state of its own; every operation reads or writes through the store.
type Manager struct {
	config Config
	logger logr.Logger
}

// New creates a new lifecycle Manager with the given configuration.
// Applies default values for LeaseRenewInterval, Logger and Now if not set.
func New(cfg Config) *Manager {
	if cfg.LeaseRenewInterval == 0 {
		cfg.LeaseRenewInterval = 30 * time.Second
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{
		config: cfg,
		logger: cfg.Logger,
	}
}

// Store returns the underlying task store.
func (m *Manager) Store() store.TaskStore {
	return m.config.Store
}

// TaskOption customizes a task created by CreateTask.
type TaskOption func(*orchestrator.Task)

// WithParent sets the parent task ID. The parent's subtask list is only
// extended by RegisterSubtask.
func WithParent(id uuid.UUID) TaskOption {
	return func(t *orchestrator.Task) { t.ParentTaskID = id }
}

// WithRetry sets the retry round.
func WithRetry(retry int) TaskOption {
	return func(t *orchestrator.Task) { t.Retry = retry }
}

// WithCreatedBy sets the creating principal.
func WithCreatedBy(by string) TaskOption {
	return func(t *orchestrator.Task) { t.CreatedBy = by }
}

// WithStatus sets the initial status.
func WithStatus(status orchestrator.TaskStatus) TaskOption {
	return func(t *orchestrator.Task) { t.Status = status }
}

// WithRequestContext attaches the originating request.
func WithRequestContext(rc *orchestrator.RequestContext) TaskOption {
	return func(t *orchestrator.Task) { t.RequestContext = rc }
}

// CreateTask persists a new Queued task and returns it.
func (m *Manager) CreateTask(ctx context.Context, action orchestrator.Action, designRef string, nf *nodefilter.FilterSet, opts ...TaskOption) (*orchestrator.Task, error) {
	task := orchestrator.NewTask(action, designRef, nf)
	now := m.config.Now().UTC()
	task.Created = now
	task.Updated = now
	task.Status = orchestrator.TaskStatusQueued
	for _, opt := range opts {
		opt(task)
	}

	if err := m.config.Store.PostTask(ctx, task); err != nil {
		return nil, fmt.Errorf("%w: error creating task: %w", orchestrator.ErrOrchestrator, err)
	}

	m.logger.V(1).Info("task created", "taskID", task.ID, "action", task.Action, "status", task.Status)
	return task, nil
}

// CreateSubtask persists a Requested subtask of parent on the parent's design
// and retry round, then registers it.
func (m *Manager) CreateSubtask(ctx context.Context, parent *orchestrator.Task, action orchestrator.Action, nf *nodefilter.FilterSet) (*orchestrator.Task, error) {
	sub, err := m.CreateTask(ctx, action, parent.DesignRef, nf,
		WithStatus(orchestrator.TaskStatusRequested),
		WithRetry(parent.Retry),
		WithCreatedBy(parent.CreatedBy),
		WithRequestContext(parent.RequestContext),
	)
	if err != nil {
		return nil, err
	}

	if err := m.RegisterSubtask(ctx, parent, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Get returns the persisted task.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*orchestrator.Task, error) {
	return m.config.Store.GetTask(ctx, id)
}

// Save persists the mutable fields of t.
//
// Termination recorded by another writer is not overwritten: a persisted
// termination request is adopted, a persisted Terminated status is kept,
// and a persisted Terminating status becomes Terminated once t reaches a
// terminal status. A persisted Complete status is kept unless t starts a new
// retry round.
func (m *Manager) Save(ctx context.Context, t *orchestrator.Task) error {
	persisted, err := m.config.Store.GetTask(ctx, t.ID)
	if err != nil && !errors.Is(err, store.ErrTaskNotFound) {
		return fmt.Errorf("%w: error saving task %s: %w", orchestrator.ErrOrchestrator, t.ID, err)
	}

	if persisted != nil {
		switch persisted.Status {
		case orchestrator.TaskStatusTerminated:
			t.Status = persisted.Status
		case orchestrator.TaskStatusComplete:
			if t.Retry <= persisted.Retry {
				t.Status = persisted.Status
			}
		case orchestrator.TaskStatusTerminating:
			if t.Status.IsTerminal() {
				t.Status = orchestrator.TaskStatusTerminated
			} else {
				t.Status = orchestrator.TaskStatusTerminating
			}
		}
		if persisted.Terminate && !t.Terminate {
			t.Terminate = true
			t.Terminated = persisted.Terminated
			t.TerminatedBy = persisted.TerminatedBy
		}
	}

	t.Updated = m.config.Now().UTC()
	if err := m.config.Store.PutTask(ctx, t); err != nil {
		return fmt.Errorf("%w: error saving task %s: %w", orchestrator.ErrOrchestrator, t.ID, err)
	}
	return nil
}

// Reload replaces t with its persisted state.
func (m *Manager) Reload(ctx context.Context, t *orchestrator.Task) error {
	fresh, err := m.config.Store.GetTask(ctx, t.ID)
	if err != nil {
		return err
	}
	*t = *fresh
	return nil
}

// AddStatusMsg appends a message to the result of t and posts it to the store.
func (m *Manager) AddStatusMsg(ctx context.Context, t *orchestrator.Task, msg string, isError bool, ctxType, entity string) error {
	rm, err := t.Result.AddMessage(msg, isError, ctxType, entity)
	if err != nil {
		return fmt.Errorf("%w: %w", orchestrator.ErrOrchestrator, err)
	}
	if err := m.config.Store.PostResultMessage(ctx, t.ID, rm); err != nil {
		return fmt.Errorf("error posting result message for task %s: %w", t.ID, err)
	}
	return nil
}

// MergeStatusMessages copies msgs into the result of t, keeping their
// timestamps and extra data.
func (m *Manager) MergeStatusMessages(ctx context.Context, t *orchestrator.Task, msgs []orchestrator.ResultMessage) error {
	for _, rm := range msgs {
		t.Result.AppendMessage(rm)
		if err := m.config.Store.PostResultMessage(ctx, t.ID, rm); err != nil {
			return fmt.Errorf("error posting result message for task %s: %w", t.ID, err)
		}
	}
	return nil
}

// RegisterSubtask records sub as a subtask of parent and saves sub with its parent set.
// Returns orchestrator.ErrOrchestrator if parent, in memory or as persisted,
// is terminating or finished.
func (m *Manager) RegisterSubtask(ctx context.Context, parent, sub *orchestrator.Task) error {
	if err := checkAcceptsSubtasks(parent); err != nil {
		return err
	}
	persisted, err := m.config.Store.GetTask(ctx, parent.ID)
	switch {
	case err == nil:
		if err := checkAcceptsSubtasks(persisted); err != nil {
			return err
		}
	case !errors.Is(err, store.ErrTaskNotFound):
		return fmt.Errorf("%w: error loading parent %s: %w", orchestrator.ErrOrchestrator, parent.ID, err)
	}

	if err := m.config.Store.AddSubtask(ctx, parent.ID, sub.ID); err != nil {
		return fmt.Errorf("%w: error adding subtask: %w", orchestrator.ErrOrchestrator, err)
	}

	msg := fmt.Sprintf("Started subtask %s for action %s", sub.ID, sub.Action)
	if err := m.AddStatusMsg(ctx, parent, msg, false, orchestrator.ContextTask, parent.ID.String()); err != nil {
		return err
	}
	if !containsID(parent.SubtaskIDs, sub.ID) {
		parent.SubtaskIDs = append(parent.SubtaskIDs, sub.ID)
	}

	sub.ParentTaskID = parent.ID
	return m.Save(ctx, sub)
}

// RetryTask moves t into a new retry round when it recorded failures and
// reopens it as Running.
// A max of zero allows unlimited retries. Returns false without error when
// there is nothing to retry, and orchestrator.ErrMaxRetriesReached once t
// has used max rounds.
func (m *Manager) RetryTask(ctx context.Context, t *orchestrator.Task, max int) (bool, error) {
	if t.Result.Status == orchestrator.ResultSuccess || len(t.Result.Failures) == 0 {
		return false, nil
	}

	if max > 0 && t.Retry >= max {
		if err := m.AddStatusMsg(ctx, t, "Retry requested, out of attempts.", false, orchestrator.ContextNA, orchestrator.ContextNA); err != nil {
			return false, err
		}
		return false, fmt.Errorf("%w: task %s used %d of %d retries", orchestrator.ErrMaxRetriesReached, t.ID, t.Retry, max)
	}

	if err := m.AddStatusMsg(ctx, t, "Retrying task for failed entities.", false, orchestrator.ContextNA, orchestrator.ContextNA); err != nil {
		return false, err
	}
	t.Retry++
	if !t.Terminate {
		t.Status = orchestrator.TaskStatusRunning
	}
	if len(t.Result.Successes) > 0 {
		t.Result.Status = orchestrator.ResultSuccess
	} else {
		t.Result.Status = orchestrator.ResultIncomplete
	}

	m.logger.Info("retrying task", "taskID", t.ID, "retry", t.Retry, "failures", len(t.Result.Failures))
	if err := m.Save(ctx, t); err != nil {
		return false, err
	}
	return true, nil
}

// Terminate records a termination request on task id. A running task
// becomes Terminating and a task that has not started becomes Terminated.
// Finished tasks are left unchanged. With propagate set the request is
// applied to every subtask as well.
func (m *Manager) Terminate(ctx context.Context, id uuid.UUID, by string, propagate bool) error {
	t, err := m.config.Store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	if !t.Status.IsTerminal() {
		t.Terminate = true
		t.Terminated = m.config.Now().UTC()
		t.TerminatedBy = by
		switch t.Status {
		case orchestrator.TaskStatusRequested, orchestrator.TaskStatusQueued:
			t.Status = orchestrator.TaskStatusTerminated
		case orchestrator.TaskStatusRunning:
			t.Status = orchestrator.TaskStatusTerminating
		}

		if err := m.Save(ctx, t); err != nil {
			return err
		}
		m.logger.Info("task termination requested", "taskID", t.ID, "status", t.Status, "by", by)
	}

	if !propagate {
		return nil
	}

	var errs []error
	for _, sid := range t.SubtaskIDs {
		if err := m.Terminate(ctx, sid, by, true); err != nil {
			errs = append(errs, fmt.Errorf("subtask %s: %w", sid, err))
		}
	}
	return errors.Join(errs...)
}

// StartLeaseRenewal renews the leadership lease held by id until the context
// is cancelled. Returns ErrLeadershipLost when the lease is held by another
// instance and the store error when a renewal fails.
func (m *Manager) StartLeaseRenewal(ctx context.Context, id uuid.UUID) error {
	ticker := time.NewTicker(m.config.LeaseRenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ok, err := m.config.Store.MaintainLeadership(ctx, id)
			if err != nil {
				m.logger.Error(err, "lease renewal failed", "instanceID", id)
				return err
			}
			if !ok {
				m.logger.Info("leadership lost", "instanceID", id)
				return ErrLeadershipLost
			}

			m.logger.V(1).Info("lease renewed", "instanceID", id)
		}
	}
}

func checkAcceptsSubtasks(parent *orchestrator.Task) error {
	if parent.Terminate || parent.Status == orchestrator.TaskStatusTerminating {
		return fmt.Errorf("%w: cannot add subtask for parent %s marked for termination", orchestrator.ErrOrchestrator, parent.ID)
	}
	if parent.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot add subtask for parent %s with status %s", orchestrator.ErrOrchestrator, parent.ID, parent.Status)
	}
	return nil
}

func containsID(list []uuid.UUID, id uuid.UUID) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
