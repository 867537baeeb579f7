// Package engine runs the leadership loop: one instance at a time holds the
// lease and starts the actions of queued tasks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/action"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/metrics"
	"github.com/getpup/metal-orchestrator/nodefilter"
)

// Config holds configuration for the Engine.
type Config struct {
	// Tasks manages task state and the leadership lease (required).
	Tasks *lifecycle.Manager

	// Actions builds the action of every dispatched task (required).
	Actions *action.Orchestrator

	// AllowedActions are the task actions taken from the queue
	// (default: every action Actions supports).
	AllowedActions []orchestrator.Action

	// InstanceID identifies this instance in the lease (default: random).
	InstanceID uuid.UUID

	// PollInterval is how often the leader checks the queue (default: 10s).
	PollInterval time.Duration

	// ClaimInterval is how often a follower tries to claim the lease (default: 30s).
	ClaimInterval time.Duration

	// WorkerPoolSize bounds the actions running at once (default: 16).
	WorkerPoolSize int

	// Logger is for observability (optional).
	Logger logr.Logger

	// MetricsEnabled enables Prometheus metrics collection (default: true).
	// Set to false explicitly to disable metrics.
	MetricsEnabled *bool
}

// Engine is the leadership loop of one orchestrator instance.
type Engine struct {
	config    Config
	tasks     *lifecycle.Manager
	actions   *action.Orchestrator
	logger    logr.Logger
	collector *metrics.Collector

	workers *semaphore.Weighted
	active  atomic.Int64
	wg      sync.WaitGroup

	stop     chan struct{}
	stopOnce sync.Once
}

var _ orchestrator.Orchestrator = (*Engine)(nil)

// New creates a new Engine with the given configuration.
// Applies default values for all duration/int fields if zero.
func New(cfg Config) *Engine {
	if len(cfg.AllowedActions) == 0 && cfg.Actions != nil {
		cfg.AllowedActions = cfg.Actions.Supported()
	}
	if cfg.InstanceID == uuid.Nil {
		cfg.InstanceID = uuid.New()
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.ClaimInterval == 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.WorkerPoolSize == 0 {
		cfg.WorkerPoolSize = 16
	}
	if cfg.Logger.GetSink() == nil {
		cfg.Logger = logr.Discard()
	}

	var collector *metrics.Collector
	metricsEnabled := true
	if cfg.MetricsEnabled != nil {
		metricsEnabled = *cfg.MetricsEnabled
	}
	if metricsEnabled {
		collector = metrics.NewCollector(cfg.InstanceID.String())
	}

	return &Engine{
		config:    cfg,
		tasks:     cfg.Tasks,
		actions:   cfg.Actions,
		logger:    cfg.Logger.WithValues("instanceID", cfg.InstanceID),
		collector: collector,
		workers:   semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		stop:      make(chan struct{}),
	}
}

// ID returns the instance ID the engine claims the lease with.
func (e *Engine) ID() uuid.UUID { return e.config.InstanceID }

// Run claims leadership and dispatches queued tasks until ctx is cancelled
// or Stop is called. It abdicates before returning nil.
func (e *Engine) Run(ctx context.Context) error {
	for {
		leader, err := e.claim(ctx)
		if err != nil {
			return err
		}
		if !leader {
			return nil
		}

		e.logger.Info("claimed leadership")
		if e.collector != nil {
			e.collector.SetLeader(true)
		}

		lost, err := e.lead(ctx)
		if e.collector != nil {
			e.collector.SetLeader(false)
		}
		if err != nil {
			return err
		}
		if !lost {
			e.abdicate()
			return nil
		}

		e.logger.Info("lost leadership")
		if e.collector != nil {
			e.collector.IncLeadershipLost()
		}
	}
}

// claim retries the lease claim until it succeeds. It returns false when
// the engine is stopped first.
func (e *Engine) claim(ctx context.Context) (bool, error) {
	for {
		ok, err := e.tasks.Store().ClaimLeadership(ctx, e.config.InstanceID)
		switch {
		case err != nil:
			e.logger.Error(err, "failed to claim leadership")
			e.countClaim(metrics.ClaimError)
		case ok:
			e.countClaim(metrics.ClaimWon)
			return true, nil
		default:
			e.logger.V(1).Info("leadership held by another instance")
			e.countClaim(metrics.ClaimDenied)
		}

		if !e.sleep(ctx, e.config.ClaimInterval) {
			return false, nil
		}
	}
}

func (e *Engine) countClaim(outcome string) {
	if e.collector != nil {
		e.collector.IncLeadershipClaims(outcome)
	}
}

// lead dispatches queued tasks while the lease holds. It returns lost true
// when the lease was lost, and false when the engine was stopped.
func (e *Engine) lead(ctx context.Context) (lost bool, err error) {
	leaseCtx, cancelLease := context.WithCancel(ctx)
	defer cancelLease()

	leaseDone := make(chan error, 1)
	go func() {
		leaseDone <- e.tasks.StartLeaseRenewal(leaseCtx, e.config.InstanceID)
	}()

	for {
		select {
		case err := <-leaseDone:
			if err != nil && !errors.Is(err, lifecycle.ErrLeadershipLost) {
				e.logger.Error(err, "lease renewal failed")
			}
			if ctx.Err() != nil || e.stopped() {
				return false, nil
			}
			return true, nil
		default:
		}

		dispatched, err := e.dispatchNext(ctx)
		if err != nil {
			e.logger.Error(err, "failed to dispatch queued task")
		} else if dispatched {
			continue
		}

		select {
		case err := <-leaseDone:
			if err != nil && !errors.Is(err, lifecycle.ErrLeadershipLost) {
				e.logger.Error(err, "lease renewal failed")
			}
			if ctx.Err() != nil || e.stopped() {
				return false, nil
			}
			return true, nil
		case <-ctx.Done():
			return false, nil
		case <-e.stop:
			return false, nil
		case <-time.After(e.config.PollInterval):
		}
	}
}

// dispatchNext starts the oldest queued task, if there is one.
func (e *Engine) dispatchNext(ctx context.Context) (bool, error) {
	task, err := e.tasks.Store().GetNextQueuedTask(ctx, e.config.AllowedActions)
	if err != nil {
		return false, fmt.Errorf("failed to fetch next queued task: %w", err)
	}
	if task == nil {
		return false, nil
	}
	logger := e.logger.WithValues("taskID", task.ID, "action", task.Action)

	if task.CheckTerminate() {
		logger.Info("task terminated before dispatch")
		task.Status = orchestrator.TaskStatusTerminated
		if e.collector != nil {
			e.collector.IncTasksTerminated()
		}
		return true, e.tasks.Save(ctx, task)
	}

	a, err := e.actions.NewAction(task)
	if errors.Is(err, action.ErrUnsupportedAction) {
		logger.Info("unsupported action")
		msg := fmt.Sprintf("Unsupported action %s.", task.Action)
		if err := e.tasks.AddStatusMsg(ctx, task, msg, true, orchestrator.ContextTask, task.ID.String()); err != nil {
			return true, err
		}
		task.Failure("")
		task.Status = orchestrator.TaskStatusComplete
		return true, e.tasks.Save(ctx, task)
	}
	if err != nil {
		return true, err
	}

	if err := e.workers.Acquire(ctx, 1); err != nil {
		return false, nil
	}

	// Leaving Queued before the next poll keeps the task from being
	// dispatched twice.
	task.Status = orchestrator.TaskStatusRunning
	if err := e.tasks.Save(ctx, task); err != nil {
		e.workers.Release(1)
		return true, err
	}
	if task.Status == orchestrator.TaskStatusTerminated {
		e.workers.Release(1)
		logger.Info("task terminated before dispatch")
		if e.collector != nil {
			e.collector.IncTasksTerminated()
		}
		return true, nil
	}

	logger.Info("task dispatched")
	if e.collector != nil {
		e.collector.IncTasksDispatched(task.Action)
	}

	e.wg.Add(1)
	e.setActive(e.active.Add(1))
	go e.execute(context.WithoutCancel(ctx), task, a, logger)
	return true, nil
}

// execute runs a to completion. Leadership changes do not interrupt it.
func (e *Engine) execute(ctx context.Context, task *orchestrator.Task, a action.Action, logger logr.Logger) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Errorf("panic: %v", r), "action panicked")
			e.failPanicked(ctx, task, r)
		}
		e.finish(ctx, task, time.Since(start))
		e.setActive(e.active.Add(-1))
		e.workers.Release(1)
		e.wg.Done()
	}()

	if err := a.Start(ctx); err != nil {
		logger.Error(err, "action failed")
	}
}

func (e *Engine) failPanicked(ctx context.Context, task *orchestrator.Task, r any) {
	fresh, err := e.tasks.Get(ctx, task.ID)
	if err != nil {
		e.logger.Error(err, "failed to load panicked task", "taskID", task.ID)
		return
	}
	msg := fmt.Sprintf("Action failed unexpectedly: %v", r)
	if err := e.tasks.AddStatusMsg(ctx, fresh, msg, true, orchestrator.ContextTask, fresh.ID.String()); err != nil {
		e.logger.Error(err, "failed to record panic", "taskID", task.ID)
	}
	fresh.Failure("")
	fresh.Status = orchestrator.TaskStatusComplete
	if err := e.tasks.Save(ctx, fresh); err != nil {
		e.logger.Error(err, "failed to save panicked task", "taskID", task.ID)
	}
}

func (e *Engine) finish(ctx context.Context, task *orchestrator.Task, d time.Duration) {
	if e.collector == nil {
		return
	}
	e.collector.ObserveTaskDuration(task.Action, d)

	fresh, err := e.tasks.Get(ctx, task.ID)
	if err != nil {
		return
	}
	if fresh.Status == orchestrator.TaskStatusTerminated {
		e.collector.IncTasksTerminated()
	}
	e.collector.IncTasksCompleted(task.Action, fresh.Result.Status)
}

func (e *Engine) setActive(n int64) {
	if e.collector != nil {
		e.collector.SetActiveWorkers(int(n))
	}
}

func (e *Engine) abdicate() {
	// The run context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := e.tasks.Store().AbdicateLeadership(ctx, e.config.InstanceID); err != nil {
		e.logger.Error(err, "failed to abdicate leadership")
		return
	}
	e.logger.Info("abdicated leadership")
}

// sleep waits d. It returns false if the engine stops or ctx ends first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stop:
		return true
	default:
		return false
	}
}

// Stop makes Run abdicate and return. It does not wait for in-flight actions.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// Wait blocks until every dispatched action has finished or ctx ends.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateTask queues a task for action on the nodes nf selects in designRef.
func (e *Engine) CreateTask(ctx context.Context, act orchestrator.Action, designRef string, nf *nodefilter.FilterSet, opts ...lifecycle.TaskOption) (*orchestrator.Task, error) {
	return e.tasks.CreateTask(ctx, act, designRef, nf, opts...)
}

// TerminateTask requests termination of task id and all of its subtasks.
func (e *Engine) TerminateTask(ctx context.Context, id uuid.UUID, by string) error {
	return e.tasks.Terminate(ctx, id, by, true)
}
