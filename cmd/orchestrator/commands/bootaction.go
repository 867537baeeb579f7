package commands

import (
	"github.com/spf13/cobra"

	"github.com/getpup/metal-orchestrator/cmd/orchestrator/handlers"
)

// Bootaction returns the boot action command group.
func Bootaction(opts *handlers.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootaction",
		Short: "Report boot action results",
	}

	cmd.AddCommand(bootactionReport(opts))

	return cmd
}

func bootactionReport(opts *handlers.Options) *cobra.Command {
	var rep handlers.BootActionReport

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Post the final status of a boot action",
		Long: `Report records the outcome of a signalling boot action on a deployed node.
The node authenticates with the identity key issued at deployment.

Example:
  metal-orchestrator bootaction report --id 3f0c... --key 9a1b... --status success`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.ReportBootAction(cmd.Context(), *opts, rep)
		},
	}

	cmd.Flags().StringVar(&rep.ActionID, "id", "", "Boot action ID (required)")
	cmd.Flags().StringVar(&rep.Key, "key", "", "Hex encoded node identity key (required)")
	cmd.Flags().StringVar(&rep.Status, "status", "", "success or failure (required)")
	cmd.Flags().StringVar(&rep.Message, "message", "", "Detail posted on the deployment task")
	for _, name := range []string{"id", "key", "status"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}
