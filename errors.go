package orchestrator

import "errors"

var (
	// ErrOrchestrator indicates a programming or configuration error in task orchestration.
	// Examples are a malformed node filter, a missing driver or registering a subtask on a terminating task.
	ErrOrchestrator = errors.New("orchestrator error")

	// ErrDesign indicates the site design references an entity that does not exist
	// or cannot be compiled into an effective model.
	ErrDesign = errors.New("design error")

	// ErrMaxRetriesReached indicates a task exhausted its retry budget.
	// Actions convert this into a task failure.
	ErrMaxRetriesReached = errors.New("retries reached max attempts")

	// ErrCollectSubtaskTimeout indicates at least one subtask worker was still running
	// when the collection timeout expired.
	ErrCollectSubtaskTimeout = errors.New("timed out collecting subtask results")

	// ErrCollectTaskTimeout indicates persisted subtasks were still active
	// when the collection timeout expired.
	ErrCollectTaskTimeout = errors.New("timed out collecting subtasks")

	// ErrDriver indicates a driver rejected or failed to run a task.
	ErrDriver = errors.New("driver error")

	// ErrInvalidParameterReference indicates a kernel parameter references
	// an unknown hardware profile attribute.
	ErrInvalidParameterReference = errors.New("invalid parameter reference")

	// ErrTaskNotFound indicates the requested task does not exist.
	ErrTaskNotFound = errors.New("task not found")
)
