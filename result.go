package orchestrator

import (
	"errors"
	"time"
)

// ResultMessage is one entry in a task's audit trail.
type ResultMessage struct {
	// Msg is the human readable message.
	Msg string `json:"message"`

	// Error marks messages that describe a failure.
	Error bool `json:"error"`

	// ContextType classifies Context, e.g. "task", "node" or "NA".
	ContextType string `json:"context_type"`

	// Context identifies the entity the message is about.
	Context string `json:"context"`

	// Timestamp is when the message was recorded.
	Timestamp time.Time `json:"ts"`

	// Extra carries driver specific details.
	Extra map[string]any `json:"extra,omitempty"`
}

// TaskResult accounts for the outcome of a task.
type TaskResult struct {
	// Status is the aggregate outcome.
	Status ActionResult `json:"status"`

	// Successes lists entities, usually node names, the task succeeded on.
	Successes []string `json:"successes"`

	// Failures lists entities the task failed on.
	Failures []string `json:"failures"`

	// Messages is the ordered audit trail.
	Messages []ResultMessage `json:"details"`

	// ErrorCount is the number of messages with Error set.
	ErrorCount int `json:"error_count"`

	// Message is a summary of the result.
	Message string `json:"message,omitempty"`

	// Reason explains the summary.
	Reason string `json:"reason,omitempty"`

	// Links maps a relation name to related URIs.
	Links map[string][]string `json:"links,omitempty"`
}

// NewTaskResult returns an Incomplete result.
func NewTaskResult() TaskResult {
	return TaskResult{
		Status:    ResultIncomplete,
		Successes: []string{},
		Failures:  []string{},
		Messages:  []ResultMessage{},
	}
}

// AddSuccess records entity as a success if it is not already recorded.
func (r *TaskResult) AddSuccess(entity string) {
	if !containsString(r.Successes, entity) {
		r.Successes = append(r.Successes, entity)
	}
}

// AddFailure records entity as a failure if it is not already recorded.
func (r *TaskResult) AddFailure(entity string) {
	if !containsString(r.Failures, entity) {
		r.Failures = append(r.Failures, entity)
	}
}

// AddMessage appends a message to the audit trail and returns it.
// Message text, context type and context are required.
func (r *TaskResult) AddMessage(msg string, isError bool, ctxType, ctx string) (ResultMessage, error) {
	if msg == "" || ctxType == "" || ctx == "" {
		return ResultMessage{}, errors.New("result message requires msg, context type and context")
	}

	m := ResultMessage{
		Msg:         msg,
		Error:       isError,
		ContextType: ctxType,
		Context:     ctx,
		Timestamp:   time.Now().UTC(),
	}
	r.AppendMessage(m)
	return m, nil
}

// AppendMessage appends an existing message, keeping its timestamp and extra data.
func (r *TaskResult) AppendMessage(m ResultMessage) {
	r.Messages = append(r.Messages, m)
	if m.Error {
		r.ErrorCount++
	}
}

// SetMessage sets the summary message.
func (r *TaskResult) SetMessage(msg string) {
	r.Message = msg
}

// SetReason sets the reason for the summary.
func (r *TaskResult) SetReason(reason string) {
	r.Reason = reason
}

// AddLink relates uri to the result under rel.
func (r *TaskResult) AddLink(rel, uri string) {
	if r.Links == nil {
		r.Links = make(map[string][]string)
	}
	r.Links[rel] = append(r.Links[rel], uri)
}

// GetLinks returns the URIs related under rel, or every URI when rel is empty.
func (r *TaskResult) GetLinks(rel string) []string {
	if rel != "" {
		return r.Links[rel]
	}
	var out []string
	for _, uris := range r.Links {
		out = append(out, uris...)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
