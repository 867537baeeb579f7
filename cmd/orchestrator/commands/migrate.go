package commands

import (
	"github.com/spf13/cobra"

	"github.com/getpup/metal-orchestrator/cmd/orchestrator/handlers"
)

// Migrate returns the command that applies the task store DDL.
func Migrate(opts *handlers.Options) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or drop the task store tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Migrate(cmd.Context(), *opts, down)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "Drop the tables instead of creating them")

	return cmd
}
