package commands

import (
	"github.com/spf13/cobra"

	"github.com/getpup/metal-orchestrator/cmd/orchestrator/handlers"
)

// Run returns the command that starts an orchestrator instance.
func Run(opts *handlers.Options) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the orchestrator leadership loop",
		Long: `Run starts an orchestrator instance.

The instance competes for the leadership lease in the task store. The leader
takes queued tasks and runs their actions on a bounded worker pool. Followers
retry the claim until the lease expires or is released.

When metrics are enabled, /metrics and /healthz are served on the configured
address.

Example:
  metal-orchestrator run -c orchestrator.yaml --migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Run(cmd.Context(), *opts, migrate)
		},
	}

	cmd.Flags().BoolVar(&migrate, "migrate", false, "Create the task store tables before starting")

	return cmd
}
