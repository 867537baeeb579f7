// Package main is the entry point for the metal-orchestrator CLI.
//
// Commands: run, migrate, validate-design, task, bootaction, version.
//
// For detailed usage information, run:
//
//	metal-orchestrator --help
package main

import (
	"fmt"
	"os"

	"github.com/getpup/metal-orchestrator/cmd/orchestrator/commands"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
