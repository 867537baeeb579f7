//go:build integration

package integration_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/getpup/metal-orchestrator/action"
	"github.com/getpup/metal-orchestrator/design"
	"github.com/getpup/metal-orchestrator/driver/builtin"
	"github.com/getpup/metal-orchestrator/engine"
	"github.com/getpup/metal-orchestrator/lifecycle"
	"github.com/getpup/metal-orchestrator/pkg/migrations"
	"github.com/getpup/metal-orchestrator/store/sqlstore"
)

// testDialect is PostgreSQL when DATABASE_URL is set and SQLite otherwise.
func testDialect() migrations.Dialect {
	if os.Getenv("DATABASE_URL") != "" {
		return migrations.Postgres
	}
	return migrations.SQLite
}

// openTestStore returns a freshly migrated store. DATABASE_URL selects
// PostgreSQL; otherwise an SQLite file in a temp dir is used.
func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()

	cfg := sqlstore.Config{Dialect: testDialect(), GracePeriod: 2 * time.Second}
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = filepath.Join(t.TempDir(), "tasks.db")
	}

	ctx := context.Background()
	s, err := sqlstore.Open(ctx, dsn, cfg)
	require.NoError(t, err)

	require.NoError(t, s.MigrationDown(ctx))
	require.NoError(t, s.MigrationUp(ctx))

	t.Cleanup(func() {
		if err := s.MigrationDown(context.Background()); err != nil {
			t.Logf("warning: failed to drop tables: %v", err)
		}
		_ = s.Close()
	})

	return s
}

// siteRef returns the reference of the shared test design.
func siteRef(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs("../design/testdata/site.yaml")
	require.NoError(t, err)
	return "file://" + path
}

// instance is one orchestrator process over a shared store.
type instance struct {
	tasks   *lifecycle.Manager
	actions *action.Orchestrator
	engine  *engine.Engine
	done    chan error
}

// newInstance wires manual drivers with no operator wait.
func newInstance(t *testing.T, s *sqlstore.Store) *instance {
	t.Helper()
	disabled := false

	tasks := lifecycle.New(lifecycle.Config{Store: s, LeaseRenewInterval: 50 * time.Millisecond})
	actions := action.New(action.Config{
		Tasks:        tasks,
		Sites:        design.NewSource(design.SourceConfig{}),
		PollInterval: 20 * time.Millisecond,
		NoopDelay:    10 * time.Millisecond,
		Timeouts: action.Timeouts{
			Collect:               10 * time.Second,
			IdentifyNode:          time.Second,
			BootactionFinalStatus: 5 * time.Second,
		},
	})
	require.NoError(t, builtin.Load(actions.Drivers(), actions, builtin.Selection{
		OOB:      []string{"manual"},
		Node:     "manual",
		Settings: map[string]map[string]string{"manual": {"wait": "0s"}},
	}, actions.Logger()))

	eng := engine.New(engine.Config{
		Tasks:          tasks,
		Actions:        actions,
		PollInterval:   20 * time.Millisecond,
		ClaimInterval:  50 * time.Millisecond,
		MetricsEnabled: &disabled,
	})

	return &instance{tasks: tasks, actions: actions, engine: eng, done: make(chan error, 1)}
}

func (i *instance) start() {
	go func() { i.done <- i.engine.Run(context.Background()) }()
}

func (i *instance) stop(t *testing.T) {
	t.Helper()
	i.engine.Stop()
	select {
	case err := <-i.done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("engine did not stop")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, i.engine.Wait(ctx))
}
