package action

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/nodefilter"
)

// Action executes one orchestrator level task.
type Action interface {
	// Start runs the task to completion. Outcomes are recorded on the task;
	// the error reports a failure to record them.
	Start(ctx context.Context) error
}

// base carries what every action needs.
type base struct {
	task   *orchestrator.Task
	orch   *Orchestrator
	tasks  *lifecycle.Manager
	logger logr.Logger

	// lost holds nodes that failed outside any subtask, such as nodes with
	// no OOB driver. Subtask bubbling resets the result lists, so they are
	// added back when the result is settled.
	lost []string
}

func newBase(o *Orchestrator, t *orchestrator.Task) *base {
	return &base{
		task:   t,
		orch:   o,
		tasks:  o.tasks,
		logger: o.logger.WithValues("taskID", t.ID, "action", t.Action),
	}
}

func (b *base) setRunning(ctx context.Context) error {
	b.task.Status = orchestrator.TaskStatusRunning
	return b.tasks.Save(ctx, b.task)
}

func (b *base) complete(ctx context.Context) error {
	b.task.Status = orchestrator.TaskStatusComplete
	return b.tasks.Save(ctx, b.task)
}

func (b *base) msg(ctx context.Context, msg string, isError bool, ctxType, entity string) error {
	return b.tasks.AddStatusMsg(ctx, b.task, msg, isError, ctxType, entity)
}

func (b *base) taskMsg(ctx context.Context, msg string, isError bool) error {
	return b.msg(ctx, msg, isError, orchestrator.ContextTask, b.task.ID.String())
}

// fail ends the task as a failure with msg.
func (b *base) fail(ctx context.Context, msg string) error {
	if err := b.taskMsg(ctx, msg, true); err != nil {
		return err
	}
	b.task.Failure("")
	return b.complete(ctx)
}

// nodeDriver returns the enabled node driver. Without one the task is
// ended as a configuration failure and ok is false.
func (b *base) nodeDriver(ctx context.Context) (d driver.Driver, ok bool, err error) {
	d, ok = b.orch.drivers.Node()
	if ok {
		return d, true, nil
	}

	b.logger.Info("no node driver enabled, ending task")
	if err := b.taskMsg(ctx, "No node driver enabled, ending task.", true); err != nil {
		return nil, false, err
	}
	b.task.Result.SetMessage("No NodeDriver enabled.")
	b.task.Result.SetReason("Bad Configuration.")
	b.task.Failure("")
	return nil, false, b.complete(ctx)
}

// terminated reports whether termination was requested for the task since
// it started. A terminated task is recorded as such and saved.
func (b *base) terminated(ctx context.Context) (bool, error) {
	fresh, err := b.tasks.Get(ctx, b.task.ID)
	if err != nil {
		return false, err
	}
	if !fresh.CheckTerminate() {
		return false, nil
	}

	b.logger.Info("terminating action")
	b.task.Status = orchestrator.TaskStatusTerminated
	b.task.Failure("")
	if err := b.msg(ctx, "Action terminated.", false, orchestrator.ContextNA, orchestrator.ContextNA); err != nil {
		return true, err
	}
	return true, b.tasks.Save(ctx, b.task)
}

// targets resolves the nodes of the task. A failure to resolve them ends
// the task and returns ok false.
func (b *base) targets(ctx context.Context) (nodes []*design.BaremetalNode, ok bool, err error) {
	nodes, err = b.orch.GetTargetNodes(ctx, b.task, false, false)
	if err != nil {
		b.logger.Error(err, "failed to resolve target nodes")
		return nil, false, b.fail(ctx, fmt.Sprintf("Error retrieving target nodes: %v", err))
	}
	return nodes, true, nil
}

// dispatch runs sub on d and returns its final state. A driver that gives
// up without finishing sub leaves it failed.
func (b *base) dispatch(ctx context.Context, d driver.Driver, sub *orchestrator.Task) (*orchestrator.Task, error) {
	runCtx := ctx
	if timeout := b.orch.config.Timeouts.step(sub.Action); timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	b.logger.Info("starting driver task", "driver", d.Name(), "subtaskID", sub.ID, "subtaskAction", sub.Action)
	derr := b.orch.drivers.Dispatch(runCtx, d, sub)

	fresh, err := b.tasks.Get(ctx, sub.ID)
	if err != nil {
		return nil, err
	}

	if derr != nil {
		b.logger.Error(derr, "driver task failed", "subtaskID", sub.ID)
		if !fresh.Status.IsTerminal() {
			if err := driver.FailTask(ctx, b.tasks, fresh, derr.Error()); err != nil {
				return nil, err
			}
		}
	}
	return fresh, nil
}

// step creates a subtask for action on the nodes nf selects, runs it on d
// and retries it on its failed nodes up to maxRetries times, waiting pause
// between attempts. Running out of retries fails the task.
func (b *base) step(ctx context.Context, d driver.Driver, action orchestrator.Action, nf *nodefilter.FilterSet, maxRetries int, pause time.Duration) (*orchestrator.Task, error) {
	sub, err := b.tasks.CreateSubtask(ctx, b.task, action, nf)
	if err != nil {
		return nil, err
	}

	for {
		sub, err = b.dispatch(ctx, d, sub)
		if err != nil {
			return nil, err
		}
		if maxRetries <= 0 {
			return sub, nil
		}

		retry, err := b.tasks.RetryTask(ctx, sub, maxRetries)
		if errors.Is(err, orchestrator.ErrMaxRetriesReached) {
			b.task.Failure("")
			return sub, nil
		}
		if err != nil {
			return nil, err
		}
		if !retry {
			return sub, nil
		}

		b.logger.V(1).Info("retrying driver task", "subtaskID", sub.ID, "retry", sub.Retry)
		if pause > 0 {
			select {
			case <-ctx.Done():
				return sub, ctx.Err()
			case <-time.After(pause):
			}
		}
	}
}

// collected records that sub was run to completion.
func (b *base) collected(ctx context.Context, sub *orchestrator.Task) error {
	return b.msg(ctx, fmt.Sprintf("Collected subtask %s", sub.ID), false, orchestrator.ContextTask, sub.ID.String())
}

// partitionByOOB groups nodes by oob type, in the order types first appear.
func partitionByOOB(nodes []*design.BaremetalNode) ([]string, map[string][]*design.BaremetalNode) {
	var order []string
	parts := make(map[string][]*design.BaremetalNode)
	for _, n := range nodes {
		t := n.OOBType.Value()
		if _, ok := parts[t]; !ok {
			order = append(order, t)
		}
		parts[t] = append(parts[t], n)
	}
	return order, parts
}

// oobStep runs action on nodes through the OOB driver of each oob type
// present, in parallel. Nodes of a type no driver handles are failed.
// The task takes the successes of the action's subtasks.
func (b *base) oobStep(ctx context.Context, action orchestrator.Action, nodes []*design.BaremetalNode) error {
	order, parts := partitionByOOB(nodes)

	var runs []subtaskRun
	for _, oobType := range order {
		members := parts[oobType]

		d, ok := b.orch.drivers.OOB(oobType)
		if !ok {
			b.logger.Info("node oob type has no enabled driver", "oobType", oobType)
			b.task.Failure("")
			for _, n := range members {
				msg := fmt.Sprintf("Node %s OOB type %s is not supported.", n.Name, oobType)
				if err := b.msg(ctx, msg, true, orchestrator.ContextNode, n.Name); err != nil {
					return err
				}
				b.lost = append(b.lost, n.Name)
			}
			continue
		}

		sub, err := b.tasks.CreateSubtask(ctx, b.task, action, nodefilter.FromNodeNames(nodefilter.Names(members)))
		if err != nil {
			return err
		}
		b.logger.Info("starting oob driver task", "subtaskID", sub.ID, "subtaskAction", action, "oobType", oobType)
		runs = append(runs, subtaskRun{
			id:    sub.ID,
			nodes: nodefilter.Names(members),
			run: func(ctx context.Context) error {
				_, err := b.dispatch(ctx, d, sub)
				return err
			},
		})
	}

	if err := b.collectSubtasks(ctx, runs, b.orch.config.Timeouts.Collect); err != nil {
		if !errors.Is(err, orchestrator.ErrCollectSubtaskTimeout) {
			return err
		}
		b.logger.Info("subtask collection timed out", "error", err.Error())
	}

	return b.tasks.BubbleResults(ctx, b.task, action)
}

// settle derives the task result status from its entity lists, adding back
// the nodes lost outside subtasks.
func (b *base) settle() {
	for _, n := range b.lost {
		b.task.Result.AddFailure(n)
	}
	b.task.Result.Status = orchestrator.ResultIncomplete
	if len(b.task.Result.Successes) > 0 {
		b.task.Success("")
	}
	if len(b.task.Result.Failures) > 0 {
		b.task.Failure("")
	}
	if b.task.Result.Status == orchestrator.ResultIncomplete {
		b.task.Success("")
	}
}

// subtaskRun is one unit of work collectSubtasks waits for.
type subtaskRun struct {
	id    uuid.UUID
	nodes []string
	run   func(ctx context.Context) error
}

// collectSubtasks runs every subtask concurrently, bounded by the worker
// pool size, and waits at most timeout for all of them. A subtask still
// running at the timeout fails the task and its nodes; its goroutine is
// left to finish.
// Returns orchestrator.ErrCollectSubtaskTimeout if any subtask timed out.
func (b *base) collectSubtasks(ctx context.Context, runs []subtaskRun, timeout time.Duration) error {
	if len(runs) == 0 {
		return nil
	}

	var (
		g    errgroup.Group
		done = make([]atomic.Bool, len(runs))
	)
	g.SetLimit(b.orch.config.WorkerPoolSize)

	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i, r := range runs {
			g.Go(func() error {
				defer done[i].Store(true)
				if err := r.run(ctx); err != nil {
					b.logger.Error(err, "subtask failed", "subtaskID", r.id)
				}
				return nil
			})
		}
	}()

	finished := make(chan struct{})
	go func() {
		<-launched
		_ = g.Wait()
		close(finished)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	var timedOut []subtaskRun
	for i, r := range runs {
		if !done[i].Load() {
			timedOut = append(timedOut, r)
		}
	}
	if len(timedOut) == 0 {
		return nil
	}

	for _, r := range timedOut {
		msg := fmt.Sprintf("Subtask thread for %s still executing after timeout.", r.id)
		if err := b.taskMsg(ctx, msg, true); err != nil {
			return err
		}
		b.lost = append(b.lost, r.nodes...)
	}
	b.task.Failure("")
	if b.orch.collector != nil {
		b.orch.collector.IncSubtaskTimeouts(b.task.Action, len(timedOut))
	}
	if err := b.tasks.Save(ctx, b.task); err != nil {
		return err
	}

	return fmt.Errorf("%w: %d subtasks did not finish in %s", orchestrator.ErrCollectSubtaskTimeout, len(timedOut), timeout)
}

// split runs the task action once per node, each under its own subtask,
// then folds the per node results into the task.
func (b *base) split(ctx context.Context, nodes []*design.BaremetalNode) error {
	b.logger.Info("splitting task per node", "nodes", len(nodes))

	var runs []subtaskRun
	for _, n := range nodes {
		sub, err := b.tasks.CreateSubtask(ctx, b.task, b.task.Action, nodefilter.FromNodeNames([]string{n.Name}))
		if err != nil {
			return err
		}
		a, err := b.orch.NewAction(sub)
		if err != nil {
			return err
		}
		runs = append(runs, subtaskRun{id: sub.ID, nodes: []string{n.Name}, run: a.Start})
	}

	if err := b.collectSubtasks(ctx, runs, b.orch.config.Timeouts.Collect); err != nil {
		if !errors.Is(err, orchestrator.ErrCollectSubtaskTimeout) {
			return err
		}
		b.logger.Info("per node subtasks timed out", "error", err.Error())
	}

	if err := b.tasks.BubbleResults(ctx, b.task, b.task.Action); err != nil {
		return err
	}
	if err := b.tasks.AlignResult(ctx, b.task, b.task.Action, true); err != nil {
		return err
	}
	if len(b.lost) == 0 {
		return nil
	}
	for _, n := range b.lost {
		b.task.Failure(n)
	}
	return b.tasks.Save(ctx, b.task)
}

// without returns the nodes whose names are not in exclude.
func without(nodes []*design.BaremetalNode, exclude []string) []*design.BaremetalNode {
	skip := make(map[string]bool, len(exclude))
	for _, n := range exclude {
		skip[n] = true
	}
	out := []*design.BaremetalNode{}
	for _, n := range nodes {
		if !skip[n.Name] {
			out = append(out, n)
		}
	}
	return out
}
