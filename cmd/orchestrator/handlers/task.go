package handlers

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/config"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/nodefilter"
)

// TaskRequest describes a task to create.
type TaskRequest struct {
	Action    string
	DesignRef string
	NodeNames []string
	NodeTags  []string
	CreatedBy string
}

// filter builds the node filter of r. No names and no tags select every node.
func (r TaskRequest) filter() *nodefilter.FilterSet {
	if len(r.NodeNames) == 0 && len(r.NodeTags) == 0 {
		return nil
	}
	return &nodefilter.FilterSet{
		FilterSetType: nodefilter.Union,
		FilterSet: []nodefilter.Filter{{
			FilterType: nodefilter.Intersection,
			NodeNames:  r.NodeNames,
			NodeTags:   r.NodeTags,
		}},
	}
}

func withTasks(ctx context.Context, opts Options, fn func(*lifecycle.Manager) error) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	return fn(lifecycle.New(lifecycle.Config{Store: s, Logger: opts.logger().WithName("lifecycle")}))
}

// CreateTask queues a task and prints its ID.
func CreateTask(ctx context.Context, opts Options, req TaskRequest) error {
	act := orchestrator.Action(req.Action)
	if !slices.Contains(orchestrator.OrchestratorActions, act) {
		return fmt.Errorf("%w: unsupported action %q, available: %v", orchestrator.ErrOrchestrator, req.Action, orchestrator.OrchestratorActions)
	}
	if req.DesignRef == "" {
		return fmt.Errorf("%w: a design reference is required", orchestrator.ErrOrchestrator)
	}

	return withTasks(ctx, opts, func(tasks *lifecycle.Manager) error {
		task, err := tasks.CreateTask(ctx, act, req.DesignRef, req.filter(), lifecycle.WithCreatedBy(req.CreatedBy))
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(opts.out(), task.ID)
		return nil
	})
}

// taskView is the printed form of a task.
type taskView struct {
	ID           string                  `yaml:"id"`
	Parent       string                  `yaml:"parent,omitempty"`
	Action       orchestrator.Action     `yaml:"action"`
	DesignRef    string                  `yaml:"design_ref"`
	NodeFilter   *nodefilter.FilterSet   `yaml:"node_filter,omitempty"`
	Status       orchestrator.TaskStatus `yaml:"status"`
	Retry        int                     `yaml:"retry"`
	Created      string                  `yaml:"created"`
	CreatedBy    string                  `yaml:"created_by,omitempty"`
	Updated      string                  `yaml:"updated"`
	TerminatedBy string                  `yaml:"terminated_by,omitempty"`
	Subtasks     []string                `yaml:"subtasks,omitempty"`
	Result       resultView              `yaml:"result"`
}

type resultView struct {
	Status    orchestrator.ActionResult `yaml:"status"`
	Message   string                    `yaml:"message,omitempty"`
	Reason    string                    `yaml:"reason,omitempty"`
	Successes []string                  `yaml:"successes,omitempty"`
	Failures  []string                  `yaml:"failures,omitempty"`
	Errors    int                       `yaml:"error_count"`
	Messages  []string                  `yaml:"messages,omitempty"`
}

func newTaskView(t *orchestrator.Task) taskView {
	v := taskView{
		ID:           t.ID.String(),
		Action:       t.Action,
		DesignRef:    t.DesignRef,
		NodeFilter:   t.NodeFilter,
		Status:       t.Status,
		Retry:        t.Retry,
		Created:      t.Created.Format(time.RFC3339),
		CreatedBy:    t.CreatedBy,
		Updated:      t.Updated.Format(time.RFC3339),
		TerminatedBy: t.TerminatedBy,
		Result: resultView{
			Status:    t.Result.Status,
			Message:   t.Result.Message,
			Reason:    t.Result.Reason,
			Successes: t.Result.Successes,
			Failures:  t.Result.Failures,
			Errors:    t.Result.ErrorCount,
		},
	}
	if t.HasParent() {
		v.Parent = t.ParentTaskID.String()
	}
	for _, id := range t.SubtaskIDs {
		v.Subtasks = append(v.Subtasks, id.String())
	}
	for _, m := range t.Result.Messages {
		line := fmt.Sprintf("%s %s/%s: %s", m.Timestamp.Format(time.RFC3339), m.ContextType, m.Context, m.Msg)
		if m.Error {
			line += " (error)"
		}
		v.Result.Messages = append(v.Result.Messages, line)
	}
	return v
}

// ShowTask prints the task with the given ID as YAML.
func ShowTask(ctx context.Context, opts Options, id string) error {
	taskID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", id, err)
	}

	return withTasks(ctx, opts, func(tasks *lifecycle.Manager) error {
		task, err := tasks.Get(ctx, taskID)
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(newTaskView(task))
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		_, err = opts.out().Write(data)
		return err
	})
}

// TerminateTask requests termination of a task and all of its subtasks.
func TerminateTask(ctx context.Context, opts Options, id, by string) error {
	taskID, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("invalid task id %q: %w", id, err)
	}

	return withTasks(ctx, opts, func(tasks *lifecycle.Manager) error {
		if err := tasks.Terminate(ctx, taskID, by, true); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(opts.out(), "Termination requested for task %s\n", taskID)
		return nil
	})
}
