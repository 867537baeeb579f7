// Package sqlstore implements store.TaskStore over database/sql for
// PostgreSQL, MySQL and SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-sql-driver/mysql"

	"github.com/getpup/metal-orchestrator/pkg/migrations"
	"github.com/getpup/metal-orchestrator/store"
)

// Config configures a Store.
type Config struct {
	// Dialect selects placeholder style, DDL and upsert syntax.
	Dialect migrations.Dialect

	// Schema qualifies the table names. See migrations.TableRef.
	Schema string

	// Tables names the tables. Zero value uses migrations.DefaultTables().
	Tables migrations.Tables

	// GracePeriod is how long a leadership lease survives without renewal.
	// Default: store.DefaultLeaderGracePeriod
	GracePeriod time.Duration

	// Now is the clock used for lease and message timestamps.
	// Default: time.Now
	Now func() time.Time

	// PingAttempts bounds the connection retries in Open.
	// Default: 5
	PingAttempts uint64
}

// Store is a SQL implementation of store.TaskStore.
type Store struct {
	db      *sql.DB
	dialect migrations.Dialect
	schema  string
	tables  migrations.Tables
	grace   time.Duration
	now     func() time.Time

	tasks, subtasks, messages, leader, bootContexts, bootActions string
}

// New wraps an open database. MySQL connections must be opened with
// parseTime=true; Open takes care of that.
func New(db *sql.DB, cfg Config) *Store {
	if cfg.Dialect == "" {
		cfg.Dialect = migrations.Postgres
	}
	if cfg.Tables == (migrations.Tables{}) {
		cfg.Tables = migrations.DefaultTables()
	}
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = store.DefaultLeaderGracePeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	ref := func(table string) string { return migrations.TableRef(cfg.Dialect, cfg.Schema, table) }

	return &Store{
		db:           db,
		dialect:      cfg.Dialect,
		schema:       cfg.Schema,
		tables:       cfg.Tables,
		grace:        cfg.GracePeriod,
		now:          cfg.Now,
		tasks:        ref(cfg.Tables.TasksTable),
		subtasks:     ref(cfg.Tables.SubtasksTable),
		messages:     ref(cfg.Tables.ResultMessagesTable),
		leader:       ref(cfg.Tables.ActiveInstanceTable),
		bootContexts: ref(cfg.Tables.BootActionContextTable),
		bootActions:  ref(cfg.Tables.BootActionTable),
	}
}

// Open connects to dsn, retrying the ping with exponential backoff, and
// returns a Store over the connection.
func Open(ctx context.Context, dsn string, cfg Config) (*Store, error) {
	if cfg.Tables != (migrations.Tables{}) {
		if err := cfg.Tables.Validate(); err != nil {
			return nil, fmt.Errorf("invalid table configuration: %w", err)
		}
	}

	if cfg.Dialect == migrations.MySQL {
		myCfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
		}
		myCfg.ParseTime = true
		myCfg.Loc = time.UTC
		myCfg.ClientFoundRows = true
		dsn = myCfg.FormatDSN()
	}

	db, err := sql.Open(driverName(cfg.Dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Dialect == migrations.SQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	attempts := cfg.PingAttempts
	if attempts == 0 {
		attempts = 5
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), attempts), ctx)
	if err := backoff.Retry(func() error { return db.PingContext(ctx) }, policy); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, cfg), nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// MigrationUp creates the task store tables if they do not exist.
func (s *Store) MigrationUp(ctx context.Context) error {
	for _, stmt := range migrations.UpStatements(s.dialect, s.schema, s.tables) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration: %w", err)
		}
	}
	return nil
}

// MigrationDown drops the task store tables.
func (s *Store) MigrationDown(ctx context.Context) error {
	for _, stmt := range migrations.DownStatements(s.dialect, s.schema, s.tables) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to revert migration: %w", err)
		}
	}
	return nil
}

func (s *Store) q(query string, args ...any) string {
	return rebind(s.dialect, fmt.Sprintf(query, args...))
}

// timestamp normalises t for storage. Every dialect keeps microseconds.
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

var _ store.TaskStore = (*Store)(nil)
