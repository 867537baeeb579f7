package lifecycle

import (
	"context"
	"fmt"
	"time"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// BubbleResults rebuilds the successes and failures of t from its Complete
// subtasks. Successes come from subtasks whose action matches actionFilter,
// or from every subtask when the filter is empty. Failures come from every
// subtask of the current retry round.
func (m *Manager) BubbleResults(ctx context.Context, t *orchestrator.Task, actionFilter orchestrator.Action) error {
	subtasks, err := m.config.Store.GetCompleteSubtasks(ctx, t.ID)
	if err != nil {
		return err
	}

	t.Result.Successes = []string{}
	t.Result.Failures = []string{}
	for _, st := range subtasks {
		if actionFilter == "" || st.Action == actionFilter {
			for _, s := range st.Result.Successes {
				t.Result.AddSuccess(s)
			}
		}
		if sameRound(t, st) {
			for _, f := range st.Result.Failures {
				t.Result.AddFailure(f)
			}
		}
	}

	return m.Save(ctx, t)
}

// AlignResult folds the result status of the Complete subtasks matching
// actionFilter into the status of t. With reset set the status starts over,
// at Incomplete, or at Success when t has no subtasks at all.
func (m *Manager) AlignResult(ctx context.Context, t *orchestrator.Task, actionFilter orchestrator.Action, reset bool) error {
	if reset {
		all, err := m.config.Store.GetAllSubtasks(ctx, t.ID)
		if err != nil {
			return err
		}
		// A task that delegated nothing has nothing that failed.
		if len(all) == 0 {
			t.Result.Status = orchestrator.ResultSuccess
		} else {
			t.Result.Status = orchestrator.ResultIncomplete
		}
	}

	subtasks, err := m.config.Store.GetCompleteSubtasks(ctx, t.ID)
	if err != nil {
		return err
	}

	for _, st := range subtasks {
		if actionFilter != "" && st.Action != actionFilter {
			continue
		}
		switch st.Result.Status {
		case orchestrator.ResultSuccess:
			t.Success("")
		case orchestrator.ResultPartialSuccess:
			t.Success("")
			if sameRound(t, st) {
				t.Failure("")
			}
		case orchestrator.ResultFailure:
			if sameRound(t, st) {
				t.Failure("")
			}
		}
	}

	return m.Save(ctx, t)
}

// CollectSubtasks waits until no persisted subtask of t with the given action
// is active. An empty action waits for every subtask. Returns
// orchestrator.ErrCollectTaskTimeout when subtasks are still active after timeout.
func (m *Manager) CollectSubtasks(ctx context.Context, t *orchestrator.Task, action orchestrator.Action, poll, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		active, err := m.config.Store.GetActiveSubtasks(ctx, t.ID)
		if err != nil {
			return err
		}

		pending := 0
		for _, st := range active {
			if action == "" || st.Action == action {
				pending++
			}
		}
		if pending == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: %d subtasks of task %s still active", orchestrator.ErrCollectTaskTimeout, pending, t.ID)
		case <-ticker.C:
			m.logger.V(1).Info("waiting for subtasks", "taskID", t.ID, "pending", pending)
		}
	}
}

// sameRound reports whether failures of st count toward the current retry round of t.
func sameRound(t, st *orchestrator.Task) bool {
	return t.Retry == 0 || t.Retry == st.Retry
}
