package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// TaskStore provides persistence for tasks, leadership and boot actions.
// Implementations must be safe for concurrent access from multiple goroutines
// and, for shared backends, multiple orchestrator instances.
//
// Result messages are persisted separately from the task row: PostTask
// stores the messages present at creation, PutTask never rewrites them, and
// GetTask returns every posted message. Subtask lists are only extended with
// AddSubtask; PutTask leaves them untouched.
type TaskStore interface {
	LeadershipStore
	BootActionStore

	// GetTask returns the task with the given ID.
	// Returns ErrTaskNotFound if the task does not exist.
	GetTask(ctx context.Context, id uuid.UUID) (*orchestrator.Task, error)

	// PostTask persists a new task.
	// Returns ErrTaskExists if a task with the same ID exists.
	PostTask(ctx context.Context, task *orchestrator.Task) error

	// PutTask updates the mutable fields of an existing task.
	// Returns ErrTaskNotFound if the task does not exist.
	PutTask(ctx context.Context, task *orchestrator.Task) error

	// AddSubtask atomically appends childID to the subtasks of parentID.
	// Returns ErrTaskNotFound if the parent does not exist.
	AddSubtask(ctx context.Context, parentID, childID uuid.UUID) error

	// GetNextQueuedTask returns the oldest Queued task whose action is in
	// allowed, or nil when none is queued. An empty allowed list matches any action.
	GetNextQueuedTask(ctx context.Context, allowed []orchestrator.Action) (*orchestrator.Task, error)

	// GetCompleteSubtasks returns the subtasks of id with status Complete.
	GetCompleteSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error)

	// GetActiveSubtasks returns the subtasks of id that are not Complete or Terminated.
	GetActiveSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error)

	// GetAllSubtasks returns every subtask of id in registration order.
	GetAllSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error)

	// PostResultMessage appends msg to the persisted messages of taskID.
	// Returns ErrTaskNotFound if the task does not exist.
	PostResultMessage(ctx context.Context, taskID uuid.UUID, msg orchestrator.ResultMessage) error
}

// LeadershipStore persists the single orchestrator leadership lease.
type LeadershipStore interface {
	// ClaimLeadership takes the lease for id when it is free, already held
	// by id, or its holder has not renewed within the grace period.
	// Returns true when id holds the lease afterwards.
	ClaimLeadership(ctx context.Context, id uuid.UUID) (bool, error)

	// MaintainLeadership renews the lease held by id.
	// Returns false when id no longer holds the lease.
	MaintainLeadership(ctx context.Context, id uuid.UUID) (bool, error)

	// AbdicateLeadership releases the lease held by id.
	// Returns false when id did not hold the lease.
	AbdicateLeadership(ctx context.Context, id uuid.UUID) (bool, error)
}

// BootActionStore persists the per-node boot action state created at deployment.
type BootActionStore interface {
	// PostBootActionContext records or replaces the deployment context of node.
	PostBootActionContext(ctx context.Context, bac BootActionContext) error

	// GetBootActionContext returns the deployment context of node.
	// Returns ErrBootActionNotFound if none exists.
	GetBootActionContext(ctx context.Context, node string) (BootActionContext, error)

	// PostBootAction records a boot action instance.
	PostBootAction(ctx context.Context, rec BootActionRecord) error

	// PutBootActionStatus updates the status of a boot action instance.
	// Returns ErrBootActionNotFound if the instance does not exist.
	PutBootActionStatus(ctx context.Context, actionID uuid.UUID, status orchestrator.ActionResult) error

	// GetBootActionsForNode returns the boot actions of node keyed by action name.
	GetBootActionsForNode(ctx context.Context, node string) (map[string]BootActionRecord, error)

	// GetBootAction returns a boot action instance.
	// Returns ErrBootActionNotFound if the instance does not exist.
	GetBootAction(ctx context.Context, actionID uuid.UUID) (BootActionRecord, error)
}

// BootActionContext ties a node to the deployment task and the key it
// authenticates its boot action reports with.
type BootActionContext struct {
	NodeName    string
	TaskID      uuid.UUID
	IdentityKey []byte
}

// BootActionRecord is one boot action delivered to one node.
type BootActionRecord struct {
	ActionID    uuid.UUID
	ActionName  string
	NodeName    string
	TaskID      uuid.UUID
	IdentityKey []byte
	Status      orchestrator.ActionResult
}

// DefaultLeaderGracePeriod is how long a lease stays valid without renewal.
const DefaultLeaderGracePeriod = 300 * time.Second
