package migrations

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func generateFile(t *testing.T, d Dialect, config Config) string {
	t.Helper()

	config.OutputFolder = t.TempDir()
	config.OutputFilename = "test_migration.sql"

	if err := Generate(d, &config); err != nil {
		t.Fatalf("Generate(%s) failed: %v", d, err)
	}

	content, err := os.ReadFile(filepath.Join(config.OutputFolder, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read generated file: %v", err)
	}
	return string(content)
}

func requireContains(t *testing.T, sql string, required []string) {
	t.Helper()
	for _, s := range required {
		if !strings.Contains(sql, s) {
			t.Errorf("migration missing required string: %s", s)
		}
	}
}

func TestGeneratePostgres(t *testing.T) {
	config := Config{SchemaName: "orchestrator", Tables: DefaultTables()}

	sql := generateFile(t, Postgres, config)

	requireContains(t, sql, []string{
		"-- Database: PostgreSQL",
		"CREATE SCHEMA IF NOT EXISTS orchestrator;",
		"CREATE TABLE IF NOT EXISTS orchestrator.tasks",
		"task_id UUID PRIMARY KEY",
		"node_filter JSONB NOT NULL",
		"terminated TIMESTAMPTZ,",
		"CREATE INDEX IF NOT EXISTS idx_tasks_queue",
		"ON orchestrator.tasks (status, created)",
		"CREATE TABLE IF NOT EXISTS orchestrator.task_subtasks",
		"seq BIGSERIAL PRIMARY KEY",
		"UNIQUE (parent_task_id, subtask_id)",
		"CREATE TABLE IF NOT EXISTS orchestrator.result_messages",
		"CREATE TABLE IF NOT EXISTS orchestrator.active_instance",
		"dummy_key INTEGER PRIMARY KEY DEFAULT 1 CHECK (dummy_key = 1)",
		"CREATE TABLE IF NOT EXISTS orchestrator.boot_action_context",
		"identity_key BYTEA NOT NULL",
		"CREATE TABLE IF NOT EXISTS orchestrator.boot_action",
	})
}

func TestGenerateMySQL(t *testing.T) {
	config := Config{SchemaName: "orchestrator", Tables: DefaultTables()}

	sql := generateFile(t, MySQL, config)

	requireContains(t, sql, []string{
		"-- Database: MySQL/MariaDB",
		"CREATE DATABASE IF NOT EXISTS orchestrator",
		"CREATE TABLE IF NOT EXISTS orchestrator.tasks",
		"task_id CHAR(36) PRIMARY KEY",
		"created DATETIME(6) NOT NULL",
		"INDEX idx_tasks_queue (status, created)",
		"seq BIGINT AUTO_INCREMENT PRIMARY KEY",
		"UNIQUE KEY uq_task_subtasks_pair (parent_task_id, subtask_id)",
		"identity_key VARBINARY(64) NOT NULL",
		"ENGINE=InnoDB",
	})
	if strings.Contains(sql, "CREATE INDEX") {
		t.Error("MySQL migration must declare indexes inline")
	}
}

func TestGenerateSQLite(t *testing.T) {
	config := Config{SchemaName: "orchestrator", Tables: DefaultTables()}

	sql := generateFile(t, SQLite, config)

	requireContains(t, sql, []string{
		"-- Database: SQLite",
		"CREATE TABLE IF NOT EXISTS orchestrator_tasks",
		"CREATE INDEX IF NOT EXISTS idx_orchestrator_tasks_queue",
		"seq INTEGER PRIMARY KEY AUTOINCREMENT",
		"CREATE TABLE IF NOT EXISTS orchestrator_boot_action_context",
		"identity_key BLOB NOT NULL",
	})
	if strings.Contains(sql, "CREATE SCHEMA") {
		t.Error("SQLite migration must not create a schema")
	}
}

func TestGenerate_CustomNames(t *testing.T) {
	config := Config{
		SchemaName: "provisioning",
		Tables: Tables{
			TasksTable:             "custom_tasks",
			SubtasksTable:          "custom_subtasks",
			ResultMessagesTable:    "custom_messages",
			ActiveInstanceTable:    "custom_leader",
			BootActionContextTable: "custom_bac",
			BootActionTable:        "custom_ba",
		},
	}

	sql := generateFile(t, Postgres, config)

	requireContains(t, sql, []string{
		"provisioning.custom_tasks",
		"provisioning.custom_subtasks",
		"provisioning.custom_messages",
		"provisioning.custom_leader",
		"provisioning.custom_bac",
		"provisioning.custom_ba",
	})
	if strings.Contains(sql, "orchestrator.tasks") {
		t.Error("Found default table name in custom migration")
	}
}

func TestUpStatements_NoSchema(t *testing.T) {
	for _, d := range []Dialect{Postgres, MySQL, SQLite} {
		stmts := UpStatements(d, "", DefaultTables())
		if len(stmts) == 0 {
			t.Fatalf("%s: no statements", d)
		}
		for _, stmt := range stmts {
			if strings.HasSuffix(strings.TrimSpace(stmt), ";") {
				t.Errorf("%s: statement carries a trailing semicolon: %s", d, stmt)
			}
			if strings.Contains(stmt, "orchestrator") {
				t.Errorf("%s: statement is qualified: %s", d, stmt)
			}
		}
	}
}

func TestDownStatements_DropsEveryTable(t *testing.T) {
	stmts := DownStatements(SQLite, "", DefaultTables())

	if len(stmts) != 6 {
		t.Fatalf("Expected 6 drop statements, got %d", len(stmts))
	}
	if stmts[len(stmts)-1] != "DROP TABLE IF EXISTS tasks" {
		t.Errorf("Expected tasks to be dropped last, got %q", stmts[len(stmts)-1])
	}
}

func TestTableRef(t *testing.T) {
	tests := []struct {
		dialect Dialect
		schema  string
		want    string
	}{
		{Postgres, "orchestrator", "orchestrator.tasks"},
		{MySQL, "orchestrator", "orchestrator.tasks"},
		{SQLite, "orchestrator", "orchestrator_tasks"},
		{Postgres, "", "tasks"},
	}

	for _, tt := range tests {
		if got := TableRef(tt.dialect, tt.schema, "tasks"); got != tt.want {
			t.Errorf("TableRef(%s, %q) = %q, want %q", tt.dialect, tt.schema, got, tt.want)
		}
	}
}

func TestParseDialect(t *testing.T) {
	tests := map[string]Dialect{
		"postgres":   Postgres,
		"PostgreSQL": Postgres,
		"mysql":      MySQL,
		"sqlite3":    SQLite,
		"sqlite":     SQLite,
	}
	for in, want := range tests {
		got, err := ParseDialect(in)
		if err != nil {
			t.Errorf("ParseDialect(%q) failed: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseDialect(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseDialect("oracle"); err == nil {
		t.Error("Expected error for unsupported dialect")
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.OutputFolder != "migrations" {
		t.Errorf("Expected OutputFolder to be 'migrations', got '%s'", config.OutputFolder)
	}
	if config.SchemaName != "orchestrator" {
		t.Errorf("Expected SchemaName to be 'orchestrator', got '%s'", config.SchemaName)
	}
	if config.TasksTable != "tasks" {
		t.Errorf("Expected TasksTable to be 'tasks', got '%s'", config.TasksTable)
	}
	if config.ActiveInstanceTable != "active_instance" {
		t.Errorf("Expected ActiveInstanceTable to be 'active_instance', got '%s'", config.ActiveInstanceTable)
	}

	// Verify filename has timestamp format
	if !strings.HasSuffix(config.OutputFilename, "_init_metal_orchestrator.sql") {
		t.Errorf("Expected OutputFilename to end with '_init_metal_orchestrator.sql', got '%s'", config.OutputFilename)
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		wantError bool
	}{
		{"valid simple", "table_name", false},
		{"valid with numbers", "table123", false},
		{"empty string", "", true},
		{"starts with number", "123table", true},
		{"contains dash", "table-name", true},
		{"contains dot", "schema.table", true},
		{"sql injection attempt", "table; DROP TABLE users--", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateIdentifier(tt.value, "TableName")
			if tt.wantError && err == nil {
				t.Errorf("Expected error for value '%s', got nil", tt.value)
			}
			if !tt.wantError && err != nil {
				t.Errorf("Expected no error for value '%s', got: %v", tt.value, err)
			}
		})
	}
}

func TestGenerate_InvalidConfig(t *testing.T) {
	badTables := DefaultTables()
	badTables.BootActionTable = "ba'; DROP TABLE users--"

	tests := []struct {
		name   string
		config Config
	}{
		{"invalid schema", Config{SchemaName: "schema'; DROP TABLE users--", Tables: DefaultTables()}},
		{"invalid table", Config{SchemaName: "orchestrator", Tables: badTables}},
		{"empty table", Config{SchemaName: "orchestrator"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.OutputFolder = t.TempDir()
			tt.config.OutputFilename = "test.sql"

			err := GeneratePostgres(&tt.config)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), "invalid configuration") {
				t.Errorf("Expected error to mention 'invalid configuration', got: %v", err)
			}
		})
	}
}

func TestGenerate_EmptySchemaIsAllowed(t *testing.T) {
	sql := generateFile(t, Postgres, Config{Tables: DefaultTables()})

	if strings.Contains(sql, "CREATE SCHEMA") {
		t.Error("Expected no schema creation without a schema name")
	}
	requireContains(t, sql, []string{"CREATE TABLE IF NOT EXISTS tasks ("})
}
