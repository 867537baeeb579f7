//go:build integration

package integration_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getpup/metal-orchestrator/pkg/migrations"
)

// TestSetupHelpers checks that the migrated store has every table.
func TestSetupHelpers(t *testing.T) {
	s := openTestStore(t)

	dialect := testDialect()
	tables := migrations.DefaultTables()
	for _, name := range []string{
		tables.TasksTable,
		tables.SubtasksTable,
		tables.ResultMessagesTable,
		tables.ActiveInstanceTable,
		tables.BootActionContextTable,
		tables.BootActionTable,
	} {
		var count int
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", migrations.TableRef(dialect, "", name))
		require.NoError(t, s.DB().QueryRow(query).Scan(&count), name)
		require.Zero(t, count, name)
	}
}
