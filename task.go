package orchestrator

import (
	"time"

	"github.com/getpup/metal-orchestrator/nodefilter"
	"github.com/google/uuid"
)

// RequestContext identifies the principal that requested a task.
type RequestContext struct {
	User      string   `json:"user,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	RequestID string   `json:"request_id,omitempty"`
}

// Task is the persistent unit of orchestrated work.
// A parent task owns the lifecycle of the subtasks it registers.
type Task struct {
	// ID is the unique identifier for this task.
	ID uuid.UUID

	// ParentTaskID is the task that registered this task, or uuid.Nil.
	ParentTaskID uuid.UUID

	// Action is the operation this task performs.
	Action Action

	// DesignRef is a URI resolving to the site design documents.
	DesignRef string

	// NodeFilter selects the target nodes. A nil filter selects every node.
	NodeFilter *nodefilter.FilterSet

	// Status is the lifecycle state.
	Status TaskStatus

	// Result is the outcome accounting.
	Result TaskResult

	// Retry is the retry round, starting at 0.
	Retry int

	// SubtaskIDs lists registered subtasks in registration order. It only grows.
	SubtaskIDs []uuid.UUID

	// Terminate is set when termination has been requested.
	Terminate bool

	// TerminatedBy names the principal that requested termination.
	TerminatedBy string

	// Created is when the task was created.
	Created time.Time

	// CreatedBy names the principal that created the task.
	CreatedBy string

	// Updated is when the task was last saved.
	Updated time.Time

	// Terminated is when termination was requested. Zero if never.
	Terminated time.Time

	// RequestContext describes the originating request, if any.
	RequestContext *RequestContext
}

// NewTask returns a Requested task with a fresh ID and an Incomplete result.
func NewTask(action Action, designRef string, nf *nodefilter.FilterSet) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:         uuid.New(),
		Action:     action,
		DesignRef:  designRef,
		NodeFilter: nf,
		Status:     TaskStatusRequested,
		Result:     NewTaskResult(),
		SubtaskIDs: []uuid.UUID{},
		Created:    now,
		Updated:    now,
	}
}

// HasParent reports whether the task was registered as a subtask.
func (t *Task) HasParent() bool {
	return t.ParentTaskID != uuid.Nil
}

// Success records an outcome that is at least a partial success.
// A non-empty focus is added to the result successes.
func (t *Task) Success(focus string) {
	switch t.Result.Status {
	case ResultFailure, ResultPartialSuccess:
		t.Result.Status = ResultPartialSuccess
	default:
		t.Result.Status = ResultSuccess
	}
	if focus != "" {
		t.Result.AddSuccess(focus)
	}
}

// Failure records an outcome that is at least a partial failure.
// A non-empty focus is added to the result failures.
func (t *Task) Failure(focus string) {
	switch t.Result.Status {
	case ResultSuccess, ResultPartialSuccess:
		t.Result.Status = ResultPartialSuccess
	default:
		t.Result.Status = ResultFailure
	}
	if focus != "" {
		t.Result.AddFailure(focus)
	}
}

// CheckTerminate reports whether termination has been requested.
func (t *Task) CheckTerminate() bool {
	return t.Terminate
}

// NodeFilterFromSuccesses returns a filter selecting the nodes in the result successes.
func (t *Task) NodeFilterFromSuccesses() *nodefilter.FilterSet {
	return nodefilter.FromNodeNames(t.Result.Successes)
}

// NodeFilterFromFailures returns a filter selecting the nodes in the result failures.
func (t *Task) NodeFilterFromFailures() *nodefilter.FilterSet {
	return nodefilter.FromNodeNames(t.Result.Failures)
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.SubtaskIDs = append([]uuid.UUID{}, t.SubtaskIDs...)
	c.Result.Successes = append([]string{}, t.Result.Successes...)
	c.Result.Failures = append([]string{}, t.Result.Failures...)
	c.Result.Messages = append([]ResultMessage{}, t.Result.Messages...)
	if t.Result.Links != nil {
		c.Result.Links = make(map[string][]string, len(t.Result.Links))
		for k, v := range t.Result.Links {
			c.Result.Links[k] = append([]string{}, v...)
		}
	}
	if t.NodeFilter != nil {
		nf := *t.NodeFilter
		nf.FilterSet = make([]nodefilter.Filter, len(t.NodeFilter.FilterSet))
		for i, f := range t.NodeFilter.FilterSet {
			nf.FilterSet[i] = cloneFilter(f)
		}
		c.NodeFilter = &nf
	}
	if t.RequestContext != nil {
		rc := *t.RequestContext
		rc.Roles = append([]string{}, t.RequestContext.Roles...)
		c.RequestContext = &rc
	}
	return &c
}

func cloneFilter(f nodefilter.Filter) nodefilter.Filter {
	out := f
	out.NodeNames = append([]string(nil), f.NodeNames...)
	out.NodeTags = append([]string(nil), f.NodeTags...)
	out.RackNames = append([]string(nil), f.RackNames...)
	if f.NodeLabels != nil {
		out.NodeLabels = make(map[string]string, len(f.NodeLabels))
		for k, v := range f.NodeLabels {
			out.NodeLabels[k] = v
		}
	}
	if f.RackLabels != nil {
		out.RackLabels = make(map[string]string, len(f.RackLabels))
		for k, v := range f.RackLabels {
			out.RackLabels[k] = v
		}
	}
	return out
}
