package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Dialect names a supported SQL database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect returns the dialect named s.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(s)); d {
	case Postgres, MySQL, SQLite:
		return d, nil
	case "postgresql", "pgx":
		return Postgres, nil
	case "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect '%s'. Supported dialects are: postgres, mysql, sqlite", s)
	}
}

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// Tables names the task store tables.
type Tables struct {
	// TasksTable holds one row per task.
	TasksTable string

	// SubtasksTable relates parent tasks to their subtasks in registration order.
	SubtasksTable string

	// ResultMessagesTable holds the append-only task result messages.
	ResultMessagesTable string

	// ActiveInstanceTable is the singleton leadership lease.
	ActiveInstanceTable string

	// BootActionContextTable holds the per-node deployment context.
	BootActionContextTable string

	// BootActionTable holds one row per boot action delivered to a node.
	BootActionTable string
}

// DefaultTables returns the default table names.
func DefaultTables() Tables {
	return Tables{
		TasksTable:             "tasks",
		SubtasksTable:          "task_subtasks",
		ResultMessagesTable:    "result_messages",
		ActiveInstanceTable:    "active_instance",
		BootActionContextTable: "boot_action_context",
		BootActionTable:        "boot_action",
	}
}

// Validate checks every table name.
func (t Tables) Validate() error {
	for _, f := range []struct{ name, field string }{
		{t.TasksTable, "TasksTable"},
		{t.SubtasksTable, "SubtasksTable"},
		{t.ResultMessagesTable, "ResultMessagesTable"},
		{t.ActiveInstanceTable, "ActiveInstanceTable"},
		{t.BootActionContextTable, "BootActionContextTable"},
		{t.BootActionTable, "BootActionTable"},
	} {
		if err := validateIdentifier(f.name, f.field); err != nil {
			return err
		}
	}
	return nil
}

// TableRef returns how a query refers to table in schema.
// PostgreSQL and MySQL qualify the name; SQLite has no schemas and uses a prefix.
// An empty schema leaves the name unqualified.
func TableRef(d Dialect, schema, table string) string {
	if schema == "" {
		return table
	}
	if d == SQLite {
		return schema + "_" + table
	}
	return schema + "." + table
}

// Config configures migration generation for the task store tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SchemaName is the database schema name (PostgreSQL) or database name (MySQL).
	// For SQLite, table name prefixes are used instead of schemas (e.g., orchestrator_tasks).
	// Empty leaves the tables unqualified.
	SchemaName string

	Tables
}

// DefaultConfig returns the default configuration for task store migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_metal_orchestrator.sql", timestamp),
		SchemaName:     "orchestrator",
		Tables:         DefaultTables(),
	}
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if config.SchemaName != "" {
		if err := validateIdentifier(config.SchemaName, "SchemaName"); err != nil {
			return err
		}
	}
	return config.Tables.Validate()
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return Generate(Postgres, config)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return Generate(MySQL, config)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return Generate(SQLite, config)
}

// Generate writes the migration file for d.
func Generate(d Dialect, config *Config) error {
	// Validate configuration to prevent SQL injection
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	sql := Script(d, config)

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// Script returns the full migration file content for d.
func Script(d Dialect, config *Config) string {
	var b strings.Builder

	fmt.Fprintf(&b, "-- Metal Orchestrator Task Store Migration\n-- Generated: %s\n-- Database: %s\n\n",
		time.Now().Format(time.RFC3339), dialectTitle(d))

	if config.SchemaName != "" {
		switch d {
		case Postgres:
			fmt.Fprintf(&b, "-- Create schema for the task store tables\nCREATE SCHEMA IF NOT EXISTS %s;\n\n", config.SchemaName)
		case MySQL:
			fmt.Fprintf(&b, "-- In MySQL, we use a separate database instead of schema\nCREATE DATABASE IF NOT EXISTS %s\n    DEFAULT CHARACTER SET utf8mb4\n    DEFAULT COLLATE utf8mb4_unicode_ci;\n\n", config.SchemaName)
		}
	}

	for _, stmt := range UpStatements(d, config.SchemaName, config.Tables) {
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}

	return b.String()
}

func dialectTitle(d Dialect) string {
	switch d {
	case Postgres:
		return "PostgreSQL"
	case MySQL:
		return "MySQL/MariaDB"
	default:
		return "SQLite"
	}
}

// UpStatements returns the DDL statements creating the task store tables, in order.
// Statements carry no trailing semicolon so they can be executed one at a time.
func UpStatements(d Dialect, schema string, t Tables) []string {
	ref := func(table string) string { return TableRef(d, schema, table) }

	switch d {
	case Postgres:
		return postgresUp(ref, t)
	case MySQL:
		return mysqlUp(ref, t)
	default:
		return sqliteUp(ref, t)
	}
}

// DownStatements returns the statements dropping the task store tables.
func DownStatements(d Dialect, schema string, t Tables) []string {
	tables := []string{
		t.BootActionTable,
		t.BootActionContextTable,
		t.ActiveInstanceTable,
		t.ResultMessagesTable,
		t.SubtasksTable,
		t.TasksTable,
	}
	out := make([]string, 0, len(tables))
	for _, table := range tables {
		out = append(out, fmt.Sprintf("DROP TABLE IF EXISTS %s", TableRef(d, schema, table)))
	}
	return out
}

func postgresUp(ref func(string) string, t Tables) []string {
	return []string{
		fmt.Sprintf(`-- Tasks table holds one row per orchestrated task
-- Result messages and subtask relations live in their own tables
CREATE TABLE IF NOT EXISTS %s (
    task_id UUID PRIMARY KEY,
    parent_task_id UUID,
    action TEXT NOT NULL,
    design_ref TEXT NOT NULL DEFAULT '',
    node_filter JSONB NOT NULL,
    status TEXT NOT NULL,
    result_status TEXT NOT NULL,
    result_message TEXT NOT NULL DEFAULT '',
    result_reason TEXT NOT NULL DEFAULT '',
    result_successes JSONB NOT NULL,
    result_failures JSONB NOT NULL,
    result_links JSONB NOT NULL,
    retry INTEGER NOT NULL DEFAULT 0,
    terminate BOOLEAN NOT NULL DEFAULT FALSE,
    terminated_by TEXT NOT NULL DEFAULT '',
    created TIMESTAMPTZ NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    updated TIMESTAMPTZ NOT NULL,
    terminated TIMESTAMPTZ,
    request_context JSONB NOT NULL
)`, ref(t.TasksTable)),

		fmt.Sprintf(`-- Index for polling the oldest queued task
CREATE INDEX IF NOT EXISTS idx_%s_queue
    ON %s (status, created)`, t.TasksTable, ref(t.TasksTable)),

		fmt.Sprintf(`-- Subtask relation, appended atomically one row at a time
CREATE TABLE IF NOT EXISTS %s (
    seq BIGSERIAL PRIMARY KEY,
    parent_task_id UUID NOT NULL,
    subtask_id UUID NOT NULL,
    UNIQUE (parent_task_id, subtask_id)
)`, ref(t.SubtasksTable)),

		fmt.Sprintf(`-- Append-only result messages
CREATE TABLE IF NOT EXISTS %s (
    seq BIGSERIAL PRIMARY KEY,
    task_id UUID NOT NULL,
    message TEXT NOT NULL,
    is_error BOOLEAN NOT NULL DEFAULT FALSE,
    context_type TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    msg_timestamp TIMESTAMPTZ NOT NULL,
    extra JSONB NOT NULL
)`, ref(t.ResultMessagesTable)),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_task
    ON %s (task_id, seq)`, t.ResultMessagesTable, ref(t.ResultMessagesTable)),

		fmt.Sprintf(`-- Singleton leadership lease
CREATE TABLE IF NOT EXISTS %s (
    dummy_key INTEGER PRIMARY KEY DEFAULT 1 CHECK (dummy_key = 1),
    identity UUID NOT NULL,
    last_ping TIMESTAMPTZ NOT NULL
)`, ref(t.ActiveInstanceTable)),

		fmt.Sprintf(`-- Boot action context, one row per node
CREATE TABLE IF NOT EXISTS %s (
    node_name TEXT PRIMARY KEY,
    task_id UUID NOT NULL,
    identity_key BYTEA NOT NULL
)`, ref(t.BootActionContextTable)),

		fmt.Sprintf(`-- Boot actions delivered to nodes
CREATE TABLE IF NOT EXISTS %s (
    action_id UUID PRIMARY KEY,
    action_name TEXT NOT NULL,
    node_name TEXT NOT NULL,
    task_id UUID NOT NULL,
    identity_key BYTEA NOT NULL,
    action_status TEXT NOT NULL
)`, ref(t.BootActionTable)),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_node
    ON %s (node_name)`, t.BootActionTable, ref(t.BootActionTable)),
	}
}

func mysqlUp(ref func(string) string, t Tables) []string {
	return []string{
		fmt.Sprintf(`-- Tasks table holds one row per orchestrated task
-- Result messages and subtask relations live in their own tables
CREATE TABLE IF NOT EXISTS %s (
    task_id CHAR(36) PRIMARY KEY,
    parent_task_id CHAR(36) NULL,
    action VARCHAR(64) NOT NULL,
    design_ref TEXT NOT NULL,
    node_filter JSON NOT NULL,
    status VARCHAR(32) NOT NULL,
    result_status VARCHAR(32) NOT NULL,
    result_message TEXT NOT NULL,
    result_reason TEXT NOT NULL,
    result_successes JSON NOT NULL,
    result_failures JSON NOT NULL,
    result_links JSON NOT NULL,
    retry INT NOT NULL DEFAULT 0,
    terminate BOOLEAN NOT NULL DEFAULT FALSE,
    terminated_by VARCHAR(255) NOT NULL DEFAULT '',
    created DATETIME(6) NOT NULL,
    created_by VARCHAR(255) NOT NULL DEFAULT '',
    updated DATETIME(6) NOT NULL,
    terminated DATETIME(6) NULL,
    request_context JSON NOT NULL,

    INDEX idx_%s_queue (status, created)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, ref(t.TasksTable), t.TasksTable),

		fmt.Sprintf(`-- Subtask relation, appended atomically one row at a time
CREATE TABLE IF NOT EXISTS %s (
    seq BIGINT AUTO_INCREMENT PRIMARY KEY,
    parent_task_id CHAR(36) NOT NULL,
    subtask_id CHAR(36) NOT NULL,

    UNIQUE KEY uq_%s_pair (parent_task_id, subtask_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, ref(t.SubtasksTable), t.SubtasksTable),

		fmt.Sprintf(`-- Append-only result messages
CREATE TABLE IF NOT EXISTS %s (
    seq BIGINT AUTO_INCREMENT PRIMARY KEY,
    task_id CHAR(36) NOT NULL,
    message TEXT NOT NULL,
    is_error BOOLEAN NOT NULL DEFAULT FALSE,
    context_type VARCHAR(32) NOT NULL DEFAULT '',
    context VARCHAR(255) NOT NULL DEFAULT '',
    msg_timestamp DATETIME(6) NOT NULL,
    extra JSON NOT NULL,

    INDEX idx_%s_task (task_id, seq)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, ref(t.ResultMessagesTable), t.ResultMessagesTable),

		fmt.Sprintf(`-- Singleton leadership lease
CREATE TABLE IF NOT EXISTS %s (
    dummy_key INT PRIMARY KEY DEFAULT 1,
    identity CHAR(36) NOT NULL,
    last_ping DATETIME(6) NOT NULL,

    CHECK (dummy_key = 1)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, ref(t.ActiveInstanceTable)),

		fmt.Sprintf(`-- Boot action context, one row per node
CREATE TABLE IF NOT EXISTS %s (
    node_name VARCHAR(255) PRIMARY KEY,
    task_id CHAR(36) NOT NULL,
    identity_key VARBINARY(64) NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, ref(t.BootActionContextTable)),

		fmt.Sprintf(`-- Boot actions delivered to nodes
CREATE TABLE IF NOT EXISTS %s (
    action_id CHAR(36) PRIMARY KEY,
    action_name VARCHAR(255) NOT NULL,
    node_name VARCHAR(255) NOT NULL,
    task_id CHAR(36) NOT NULL,
    identity_key VARBINARY(64) NOT NULL,
    action_status VARCHAR(32) NOT NULL,

    INDEX idx_%s_node (node_name)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, ref(t.BootActionTable), t.BootActionTable),
	}
}

func sqliteUp(ref func(string) string, t Tables) []string {
	return []string{
		fmt.Sprintf(`-- Tasks table holds one row per orchestrated task
-- Result messages and subtask relations live in their own tables
CREATE TABLE IF NOT EXISTS %s (
    task_id TEXT PRIMARY KEY,
    parent_task_id TEXT,
    action TEXT NOT NULL,
    design_ref TEXT NOT NULL DEFAULT '',
    node_filter TEXT NOT NULL,
    status TEXT NOT NULL,
    result_status TEXT NOT NULL,
    result_message TEXT NOT NULL DEFAULT '',
    result_reason TEXT NOT NULL DEFAULT '',
    result_successes TEXT NOT NULL,
    result_failures TEXT NOT NULL,
    result_links TEXT NOT NULL,
    retry INTEGER NOT NULL DEFAULT 0,
    terminate BOOLEAN NOT NULL DEFAULT 0,
    terminated_by TEXT NOT NULL DEFAULT '',
    created DATETIME NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    updated DATETIME NOT NULL,
    terminated DATETIME,
    request_context TEXT NOT NULL
)`, ref(t.TasksTable)),

		fmt.Sprintf(`-- Index for polling the oldest queued task
CREATE INDEX IF NOT EXISTS idx_%s_queue
    ON %s (status, created)`, ref(t.TasksTable), ref(t.TasksTable)),

		fmt.Sprintf(`-- Subtask relation, appended atomically one row at a time
CREATE TABLE IF NOT EXISTS %s (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    parent_task_id TEXT NOT NULL,
    subtask_id TEXT NOT NULL,
    UNIQUE (parent_task_id, subtask_id)
)`, ref(t.SubtasksTable)),

		fmt.Sprintf(`-- Append-only result messages
CREATE TABLE IF NOT EXISTS %s (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    message TEXT NOT NULL,
    is_error BOOLEAN NOT NULL DEFAULT 0,
    context_type TEXT NOT NULL DEFAULT '',
    context TEXT NOT NULL DEFAULT '',
    msg_timestamp DATETIME NOT NULL,
    extra TEXT NOT NULL
)`, ref(t.ResultMessagesTable)),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_task
    ON %s (task_id, seq)`, ref(t.ResultMessagesTable), ref(t.ResultMessagesTable)),

		fmt.Sprintf(`-- Singleton leadership lease
CREATE TABLE IF NOT EXISTS %s (
    dummy_key INTEGER PRIMARY KEY DEFAULT 1 CHECK (dummy_key = 1),
    identity TEXT NOT NULL,
    last_ping DATETIME NOT NULL
)`, ref(t.ActiveInstanceTable)),

		fmt.Sprintf(`-- Boot action context, one row per node
CREATE TABLE IF NOT EXISTS %s (
    node_name TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    identity_key BLOB NOT NULL
)`, ref(t.BootActionContextTable)),

		fmt.Sprintf(`-- Boot actions delivered to nodes
CREATE TABLE IF NOT EXISTS %s (
    action_id TEXT PRIMARY KEY,
    action_name TEXT NOT NULL,
    node_name TEXT NOT NULL,
    task_id TEXT NOT NULL,
    identity_key BLOB NOT NULL,
    action_status TEXT NOT NULL
)`, ref(t.BootActionTable)),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_node
    ON %s (node_name)`, ref(t.BootActionTable), ref(t.BootActionTable)),
	}
}
