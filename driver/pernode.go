package driver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/nodefilter"
)

// NodeFunc performs the task action on one node. A nil error is a success
// on the node.
type NodeFunc func(ctx context.Context, sub *orchestrator.Task, node *design.BaremetalNode) error

// RunPerNode runs fn once per target node of task, each under its own
// subtask, then folds the subtask results into task and marks it Complete.
//
// On a retry round only the nodes that failed in the previous round are
// targeted. Nodes whose fn has not returned within timeout are failures;
// their goroutines are not interrupted.
func RunPerNode(ctx context.Context, orch Orchestrator, task *orchestrator.Task, timeout time.Duration, fn NodeFunc) error {
	tasks := orch.Tasks()
	logger := orch.Logger().WithValues("taskID", task.ID, "action", task.Action)

	task.Status = orchestrator.TaskStatusRunning
	if err := tasks.Save(ctx, task); err != nil {
		return err
	}

	retrying := task.Retry > 0
	if retrying {
		msg := fmt.Sprintf("Retrying task %s on previous failed entities.", task.ID)
		if err := tasks.AddStatusMsg(ctx, task, msg, false, orchestrator.ContextTask, task.ID.String()); err != nil {
			return err
		}
	}

	nodes, err := orch.GetTargetNodes(ctx, task, retrying, false)
	if err != nil {
		return FailTask(ctx, tasks, task, fmt.Sprintf("Error retrieving target nodes: %v", err))
	}

	var (
		g        errgroup.Group
		done     = make([]atomic.Bool, len(nodes))
		failures []string
	)
	for i, n := range nodes {
		sub, err := tasks.CreateSubtask(ctx, task, task.Action, nodefilter.FromNodeNames([]string{n.Name}))
		if err != nil {
			logger.Error(err, "failed to create node subtask", "node", n.Name)
			failures = append(failures, n.Name)
			done[i].Store(true)
			continue
		}

		g.Go(func() error {
			defer done[i].Store(true)
			runNode(ctx, tasks, logger, sub, n, fn)
			return nil
		})
	}

	finished := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(finished)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var timedOut []string
	select {
	case <-finished:
	case <-timer.C:
		for i, n := range nodes {
			if !done[i].Load() {
				timedOut = append(timedOut, n.Name)
			}
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := tasks.BubbleResults(ctx, task, ""); err != nil {
		return err
	}
	if err := tasks.AlignResult(ctx, task, "", true); err != nil {
		return err
	}

	for _, name := range failures {
		task.Failure(name)
	}
	for _, name := range timedOut {
		msg := fmt.Sprintf("Subtask thread for %s still executing after timeout.", name)
		if err := tasks.AddStatusMsg(ctx, task, msg, true, orchestrator.ContextNode, name); err != nil {
			return err
		}
		task.Failure(name)
	}

	task.Status = orchestrator.TaskStatusComplete
	return tasks.Save(ctx, task)
}

func runNode(ctx context.Context, tasks *lifecycle.Manager, logger logr.Logger, sub *orchestrator.Task, n *design.BaremetalNode, fn NodeFunc) {
	sub.Status = orchestrator.TaskStatusRunning
	if err := tasks.Save(ctx, sub); err != nil {
		logger.Error(err, "failed to start node subtask", "node", n.Name)
	}

	if err := fn(ctx, sub, n); err != nil {
		logger.Info("node action failed", "node", n.Name, "error", err.Error())
		if merr := tasks.AddStatusMsg(ctx, sub, err.Error(), true, orchestrator.ContextNode, n.Name); merr != nil {
			logger.Error(merr, "failed to record node failure", "node", n.Name)
		}
		sub.Failure(n.Name)
	} else {
		sub.Success(n.Name)
	}

	sub.Status = orchestrator.TaskStatusComplete
	if err := tasks.Save(ctx, sub); err != nil {
		logger.Error(err, "failed to complete node subtask", "node", n.Name)
	}
}

// RunOnce marks task Running, runs fn and records its outcome on task as a
// whole, for actions that address a site rather than nodes.
func RunOnce(ctx context.Context, orch Orchestrator, task *orchestrator.Task, fn func(ctx context.Context) error) error {
	tasks := orch.Tasks()

	task.Status = orchestrator.TaskStatusRunning
	if err := tasks.Save(ctx, task); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		return FailTask(ctx, tasks, task, err.Error())
	}

	task.Success("")
	task.Status = orchestrator.TaskStatusComplete
	return tasks.Save(ctx, task)
}

// FailTask records msg as an error on task, fails it and marks it Complete.
func FailTask(ctx context.Context, tasks *lifecycle.Manager, task *orchestrator.Task, msg string) error {
	if err := tasks.AddStatusMsg(ctx, task, msg, true, orchestrator.ContextTask, task.ID.String()); err != nil {
		return err
	}
	task.Failure("")
	task.Status = orchestrator.TaskStatusComplete
	return tasks.Save(ctx, task)
}
