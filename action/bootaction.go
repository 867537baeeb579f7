package action

import (
	"context"
	"fmt"
	"sort"
	"time"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/nodefilter"
	"github.com/getpup/metal-orchestrator/store"
)

// BootactionReport waits for deployed nodes to report the final status of
// their signaling boot actions.
type BootactionReport struct{ *base }

// Start implements Action.
func (a *BootactionReport) Start(ctx context.Context) error {
	if err := a.setRunning(ctx); err != nil {
		return err
	}

	nodes, ok, err := a.targets(ctx)
	if !ok {
		return err
	}
	pending := nodefilter.Names(nodes)

	poll := a.orch.config.PollInterval
	deadline := time.Now().Add(a.orch.config.Timeouts.BootactionFinalStatus)

	reports := make(map[string]map[string]store.BootActionRecord, len(pending))
	for len(pending) > 0 {
		var still []string
		for _, n := range pending {
			recs, err := a.tasks.Store().GetBootActionsForNode(ctx, n)
			if err != nil {
				return fmt.Errorf("failed to load boot actions of %s: %w", n, err)
			}
			reports[n] = recs
			if incomplete(recs) {
				still = append(still, n)
			}
		}
		pending = still

		if len(pending) == 0 || !time.Now().Before(deadline) {
			break
		}
		a.logger.V(1).Info("waiting for boot action reports", "nodes", len(pending))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}

	for _, n := range nodefilter.Names(nodes) {
		failed := false
		recs := reports[n]
		for _, name := range sortedKeys(recs) {
			rec := recs[name]
			switch rec.Status {
			case orchestrator.ResultIncomplete:
				failed = true
				if err := a.msg(ctx, fmt.Sprintf("Boot action %s timed out.", name), true, orchestrator.ContextNode, n); err != nil {
					return err
				}
			case orchestrator.ResultUnreported:
			default:
				isErr := rec.Status == orchestrator.ResultFailure
				failed = failed || isErr
				msg := fmt.Sprintf("Boot action %s completed with status %s", name, rec.Status)
				if err := a.msg(ctx, msg, isErr, orchestrator.ContextNode, n); err != nil {
					return err
				}
			}
		}

		if failed {
			a.task.Failure(n)
		} else {
			a.task.Success(n)
		}
	}

	return a.complete(ctx)
}

func incomplete(recs map[string]store.BootActionRecord) bool {
	for _, r := range recs {
		if r.Status == orchestrator.ResultIncomplete {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]store.BootActionRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
