package commands

import (
	"github.com/spf13/cobra"

	"github.com/getpup/metal-orchestrator/cmd/orchestrator/handlers"
)

// Task returns the task command group.
func Task(opts *handlers.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and terminate tasks",
	}

	cmd.AddCommand(taskCreate(opts))
	cmd.AddCommand(taskShow(opts))
	cmd.AddCommand(taskTerminate(opts))

	return cmd
}

func taskCreate(opts *handlers.Options) *cobra.Command {
	var req handlers.TaskRequest

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Queue a task and print its ID",
		Long: `Create queues a task for the leader to run.

Without --node-names and --node-tags the task targets every node of the
design. Both together select nodes matching all of them.

Example:
  metal-orchestrator task create --action deploy_nodes \
    --design-ref file:///etc/metal/site.yaml --node-names compute01,compute02`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.CreateTask(cmd.Context(), *opts, req)
		},
	}

	cmd.Flags().StringVar(&req.Action, "action", "", "Action to run, e.g. prepare_nodes or deploy_nodes (required)")
	cmd.Flags().StringVar(&req.DesignRef, "design-ref", "", "Design reference (required)")
	cmd.Flags().StringSliceVar(&req.NodeNames, "node-names", nil, "Limit the task to these nodes")
	cmd.Flags().StringSliceVar(&req.NodeTags, "node-tags", nil, "Limit the task to nodes with these tags")
	cmd.Flags().StringVar(&req.CreatedBy, "created-by", "cli", "Principal recorded as the task creator")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("design-ref")

	return cmd
}

func taskShow(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.ShowTask(cmd.Context(), *opts, args[0])
		},
	}
}

func taskTerminate(opts *handlers.Options) *cobra.Command {
	var by string

	cmd := &cobra.Command{
		Use:   "terminate <id>",
		Short: "Terminate a task and its subtasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.TerminateTask(cmd.Context(), *opts, args[0], by)
		},
	}

	cmd.Flags().StringVar(&by, "by", "cli", "Principal recorded as having terminated the task")

	return cmd
}
