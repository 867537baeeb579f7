package sqlstore

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/getpup/metal-orchestrator/pkg/migrations"
)

func TestRebind(t *testing.T) {
	query := "UPDATE t SET a = ?, b = ? WHERE c IN (?, ?)"

	assert.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE c IN ($3, $4)", rebind(migrations.Postgres, query))
	assert.Equal(t, query, rebind(migrations.MySQL, query))
	assert.Equal(t, query, rebind(migrations.SQLite, query))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"postgres unique", &pq.Error{Code: "23505"}, true},
		{"postgres other", &pq.Error{Code: "23503"}, false},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, true},
		{"mysql other", &mysql.MySQLError{Number: 1213}, false},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, true},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, false},
		{"wrapped", fmt.Errorf("failed to insert: %w", &pq.Error{Code: "23505"}), true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestUpsertBootActionContext(t *testing.T) {
	assert.Contains(t, upsertBootActionContext(migrations.MySQL, "bac"), "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, upsertBootActionContext(migrations.Postgres, "bac"), "ON CONFLICT (node_name) DO UPDATE")
	assert.Contains(t, upsertBootActionContext(migrations.SQLite, "bac"), "ON CONFLICT (node_name) DO UPDATE")
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, Config{Dialect: migrations.SQLite, Schema: "orchestrator"})

	assert.Equal(t, "orchestrator_tasks", s.tasks)
	assert.Equal(t, "orchestrator_active_instance", s.leader)
	assert.Equal(t, migrations.DefaultTables(), s.tables)
	assert.NotNil(t, s.now)
}
