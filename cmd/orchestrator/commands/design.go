package commands

import (
	"github.com/spf13/cobra"

	"github.com/getpup/metal-orchestrator/cmd/orchestrator/handlers"
)

// ValidateDesign returns the command that checks a site design.
func ValidateDesign(opts *handlers.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate-design <designRef>",
		Short: "Compile and validate a site design",
		Long: `Validate-design loads the design, resolves host profile inheritance and
runs the design validators. Every finding is printed; the command fails
when any of them is an error.

Supported references are file:// URLs, plain paths and, when design.s3 is
configured, s3://bucket/key.

Example:
  metal-orchestrator validate-design file:///etc/metal/site.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.ValidateDesign(cmd.Context(), *opts, args[0])
		},
	}
}
