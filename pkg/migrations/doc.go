// Package migrations generates the DDL for the SQL task store.
// It renders the tasks, subtask relation, result message, leadership lease and
// boot action tables for PostgreSQL, MySQL/MariaDB, and SQLite databases.
package migrations
