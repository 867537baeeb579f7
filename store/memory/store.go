package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/store"
)

// Store is an in-memory implementation of TaskStore for tests and single
// process deployments. It provides thread-safe access using a sync.RWMutex.
type Store struct {
	mu       sync.RWMutex
	tasks    map[uuid.UUID]*orchestrator.Task           // taskID -> task row
	messages map[uuid.UUID][]orchestrator.ResultMessage // taskID -> posted messages
	seq      map[uuid.UUID]int                          // taskID -> insertion order
	contexts map[string]store.BootActionContext         // node -> boot action context
	actions  map[uuid.UUID]store.BootActionRecord       // actionID -> boot action
	next     int
	leader   *lease
	grace    time.Duration
	now      func() time.Time
}

type lease struct {
	identity uuid.UUID
	lastPing time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithGracePeriod sets how long a leadership lease survives without renewal.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Store) {
		s.grace = d
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory store with initialized maps.
func New(opts ...Option) *Store {
	s := &Store{
		tasks:    make(map[uuid.UUID]*orchestrator.Task),
		messages: make(map[uuid.UUID][]orchestrator.ResultMessage),
		seq:      make(map[uuid.UUID]int),
		contexts: make(map[string]store.BootActionContext),
		actions:  make(map[uuid.UUID]store.BootActionRecord),
		grace:    store.DefaultLeaderGracePeriod,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetTask returns the task with the given ID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*orchestrator.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.load(id)
}

// PostTask persists a new task.
// Returns store.ErrTaskExists if the ID is taken.
func (s *Store) PostTask(ctx context.Context, task *orchestrator.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; ok {
		return store.ErrTaskExists
	}

	row := task.Clone()
	s.tasks[task.ID] = row
	s.messages[task.ID] = append([]orchestrator.ResultMessage{}, task.Result.Messages...)
	s.seq[task.ID] = s.next
	s.next++

	return nil
}

// PutTask updates an existing task, keeping its posted messages and subtasks.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *Store) PutTask(ctx context.Context, task *orchestrator.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tasks[task.ID]
	if !ok {
		return store.ErrTaskNotFound
	}

	row := task.Clone()
	row.SubtaskIDs = existing.SubtaskIDs
	s.tasks[task.ID] = row

	return nil
}

// AddSubtask appends childID to the subtasks of parentID.
// Returns store.ErrTaskNotFound if the parent does not exist.
func (s *Store) AddSubtask(ctx context.Context, parentID, childID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.tasks[parentID]
	if !ok {
		return store.ErrTaskNotFound
	}
	for _, id := range parent.SubtaskIDs {
		if id == childID {
			return nil
		}
	}
	parent.SubtaskIDs = append(parent.SubtaskIDs, childID)

	return nil
}

// GetNextQueuedTask returns the oldest Queued task with an allowed action.
func (s *Store) GetNextQueuedTask(ctx context.Context, allowed []orchestrator.Action) (*orchestrator.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*orchestrator.Task
	for _, t := range s.tasks {
		if t.Status != orchestrator.TaskStatusQueued {
			continue
		}
		if len(allowed) > 0 && !containsAction(allowed, t.Action) {
			continue
		}
		candidates = append(candidates, t)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.Created.Equal(b.Created) {
			return a.Created.Before(b.Created)
		}
		return s.seq[a.ID] < s.seq[b.ID]
	})

	return s.load(candidates[0].ID)
}

// GetCompleteSubtasks returns the Complete subtasks of id.
func (s *Store) GetCompleteSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error) {
	return s.subtasks(id, func(t *orchestrator.Task) bool {
		return t.Status == orchestrator.TaskStatusComplete
	})
}

// GetActiveSubtasks returns the subtasks of id that have not finished.
func (s *Store) GetActiveSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error) {
	return s.subtasks(id, func(t *orchestrator.Task) bool {
		return !t.Status.IsTerminal()
	})
}

// GetAllSubtasks returns every subtask of id.
func (s *Store) GetAllSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error) {
	return s.subtasks(id, func(*orchestrator.Task) bool { return true })
}

// PostResultMessage appends msg to the messages of taskID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *Store) PostResultMessage(ctx context.Context, taskID uuid.UUID, msg orchestrator.ResultMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[taskID]; !ok {
		return store.ErrTaskNotFound
	}
	s.messages[taskID] = append(s.messages[taskID], msg)

	return nil
}

// ClaimLeadership takes the lease for id unless another live holder has it.
func (s *Store) ClaimLeadership(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.leader == nil || s.leader.identity == id || now.Sub(s.leader.lastPing) > s.grace {
		s.leader = &lease{identity: id, lastPing: now}
	}

	return s.leader.identity == id, nil
}

// MaintainLeadership renews the lease held by id.
func (s *Store) MaintainLeadership(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leader == nil || s.leader.identity != id {
		return false, nil
	}
	s.leader.lastPing = s.now()

	return true, nil
}

// AbdicateLeadership releases the lease held by id.
func (s *Store) AbdicateLeadership(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leader == nil || s.leader.identity != id {
		return false, nil
	}
	s.leader = nil

	return true, nil
}

// PostBootActionContext records or replaces the context of bac.NodeName.
func (s *Store) PostBootActionContext(ctx context.Context, bac store.BootActionContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bac.IdentityKey = append([]byte{}, bac.IdentityKey...)
	s.contexts[bac.NodeName] = bac

	return nil
}

// GetBootActionContext returns the context of node.
// Returns store.ErrBootActionNotFound if none exists.
func (s *Store) GetBootActionContext(ctx context.Context, node string) (store.BootActionContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bac, ok := s.contexts[node]
	if !ok {
		return store.BootActionContext{}, store.ErrBootActionNotFound
	}
	bac.IdentityKey = append([]byte{}, bac.IdentityKey...)

	return bac, nil
}

// PostBootAction records a boot action instance.
func (s *Store) PostBootAction(ctx context.Context, rec store.BootActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.IdentityKey = append([]byte{}, rec.IdentityKey...)
	s.actions[rec.ActionID] = rec

	return nil
}

// PutBootActionStatus updates the status of a boot action instance.
// Returns store.ErrBootActionNotFound if it does not exist.
func (s *Store) PutBootActionStatus(ctx context.Context, actionID uuid.UUID, status orchestrator.ActionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.actions[actionID]
	if !ok {
		return store.ErrBootActionNotFound
	}
	rec.Status = status
	s.actions[actionID] = rec

	return nil
}

// GetBootActionsForNode returns the boot actions of node keyed by name.
func (s *Store) GetBootActionsForNode(ctx context.Context, node string) (map[string]store.BootActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]store.BootActionRecord)
	for _, rec := range s.actions {
		if rec.NodeName == node {
			out[rec.ActionName] = rec
		}
	}

	return out, nil
}

// GetBootAction returns a boot action instance.
// Returns store.ErrBootActionNotFound if it does not exist.
func (s *Store) GetBootAction(ctx context.Context, actionID uuid.UUID) (store.BootActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.actions[actionID]
	if !ok {
		return store.BootActionRecord{}, store.ErrBootActionNotFound
	}

	return rec, nil
}

// load returns a copy of the task row with its posted messages.
// Callers must hold s.mu.
func (s *Store) load(id uuid.UUID) (*orchestrator.Task, error) {
	row, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	t := row.Clone()
	t.Result.Messages = append([]orchestrator.ResultMessage{}, s.messages[id]...)
	t.Result.ErrorCount = 0
	for _, m := range t.Result.Messages {
		if m.Error {
			t.Result.ErrorCount++
		}
	}

	return t, nil
}

func (s *Store) subtasks(id uuid.UUID, keep func(*orchestrator.Task) bool) ([]*orchestrator.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	parent, ok := s.tasks[id]
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	out := []*orchestrator.Task{}
	for _, childID := range parent.SubtaskIDs {
		child, ok := s.tasks[childID]
		if !ok || !keep(child) {
			continue
		}
		t, err := s.load(childID)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, nil
}

func containsAction(list []orchestrator.Action, a orchestrator.Action) bool {
	for _, v := range list {
		if v == a {
			return true
		}
	}
	return false
}

var _ store.TaskStore = (*Store)(nil)
