// Package commands defines the CLI command structure and flag bindings.
//
// Command execution is delegated to handler functions in the handlers
// package.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/getpup/metal-orchestrator/cmd/orchestrator/handlers"
)

// Root returns the root command for the metal-orchestrator CLI.
func Root() *cobra.Command {
	opts := &handlers.Options{}

	cmd := &cobra.Command{
		Use:           "metal-orchestrator",
		Short:         "Provision bare metal sites from declarative designs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			opts.Out = cmd.OutOrStdout()
			opts.Err = cmd.ErrOrStderr()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file (default: built-in defaults)")
	cmd.PersistentFlags().IntVarP(&opts.Verbosity, "verbosity", "v", 0, "Log verbosity level")

	cmd.AddCommand(Run(opts))
	cmd.AddCommand(Migrate(opts))
	cmd.AddCommand(ValidateDesign(opts))
	cmd.AddCommand(Task(opts))
	cmd.AddCommand(Bootaction(opts))
	cmd.AddCommand(Version())

	return cmd
}
