// Command migrate-gen generates SQL migration files for the task store.
//
// Usage:
//
//	go run github.com/getpup/metal-orchestrator/cmd/migrate-gen -output migrations -filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/metal-orchestrator/cmd/migrate-gen -output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/metal-orchestrator/cmd/migrate-gen -adapter postgres -output migrations
//	go run github.com/getpup/metal-orchestrator/cmd/migrate-gen -adapter mysql -output migrations
//	go run github.com/getpup/metal-orchestrator/cmd/migrate-gen -adapter sqlite -output migrations
//
// Customize table names:
//
//	go run github.com/getpup/metal-orchestrator/cmd/migrate-gen -schema provisioning -tasks-table tasks
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/getpup/metal-orchestrator/pkg/migrations"
)

func main() {
	defaults := migrations.DefaultTables()

	var (
		adapter          = flag.String("adapter", "postgres", "Database adapter: postgres, mysql, or sqlite")
		outputFolder     = flag.String("output", "migrations", "Output folder for migration file")
		outputFilename   = flag.String("filename", "", "Output filename (default: timestamp-based)")
		schemaName       = flag.String("schema", "orchestrator", "Schema name (PostgreSQL), database name (MySQL) or table prefix (SQLite)")
		tasksTable       = flag.String("tasks-table", defaults.TasksTable, "Name of tasks table")
		subtasksTable    = flag.String("subtasks-table", defaults.SubtasksTable, "Name of subtask relation table")
		messagesTable    = flag.String("messages-table", defaults.ResultMessagesTable, "Name of result messages table")
		leaderTable      = flag.String("leader-table", defaults.ActiveInstanceTable, "Name of leadership lease table")
		bootContextTable = flag.String("bootaction-context-table", defaults.BootActionContextTable, "Name of boot action context table")
		bootActionTable  = flag.String("bootaction-table", defaults.BootActionTable, "Name of boot action table")
	)

	flag.Parse()

	dialect, err := migrations.ParseDialect(*adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	config := migrations.DefaultConfig()
	config.OutputFolder = *outputFolder
	config.SchemaName = *schemaName
	config.Tables = migrations.Tables{
		TasksTable:             *tasksTable,
		SubtasksTable:          *subtasksTable,
		ResultMessagesTable:    *messagesTable,
		ActiveInstanceTable:    *leaderTable,
		BootActionContextTable: *bootContextTable,
		BootActionTable:        *bootActionTable,
	}

	if *outputFilename != "" {
		config.OutputFilename = *outputFilename
	}

	if err := migrations.Generate(dialect, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", dialect, config.OutputFolder, config.OutputFilename)
}
