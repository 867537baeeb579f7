package orchestrator

import "context"

// Orchestrator dispatches queued tasks while this instance holds the leadership lease.
// Redundant instances may run concurrently; at most one dispatches at a time.
type Orchestrator interface {
	// Run claims leadership and dispatches queued tasks until ctx is cancelled.
	//
	// The orchestrator will:
	// 1. Attempt to claim the leadership lease, retrying at the claim interval
	// 2. While leader, poll for the oldest queued task with an accepted action
	// 3. Start the matching action on a bounded worker pool
	// 4. Renew the lease after every poll and return to step 1 if it was lost
	//
	// Run abdicates and returns nil when ctx is cancelled.
	// In-flight actions are not cancelled by a leadership change.
	Run(ctx context.Context) error
}
