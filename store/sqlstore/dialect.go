package sqlstore

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/getpup/metal-orchestrator/pkg/migrations"
)

// driverName returns the database/sql driver registered for d.
func driverName(d migrations.Dialect) string {
	switch d {
	case migrations.Postgres:
		return "postgres"
	case migrations.MySQL:
		return "mysql"
	default:
		return "sqlite3"
	}
}

// rebind rewrites ? placeholders into the positional form of d.
// Queries in this package never contain a literal question mark.
func rebind(d migrations.Dialect, query string) string {
	if d != migrations.Postgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// placeholders returns n comma separated ? placeholders.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// isUniqueViolation reports whether err is a primary key or unique constraint
// violation from any supported driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	return false
}

// upsertBootActionContext returns the statement replacing a node's boot action context.
func upsertBootActionContext(d migrations.Dialect, table string) string {
	insert := "INSERT INTO " + table + " (node_name, task_id, identity_key) VALUES (?, ?, ?)"
	if d == migrations.MySQL {
		return insert + " ON DUPLICATE KEY UPDATE task_id = VALUES(task_id), identity_key = VALUES(identity_key)"
	}
	return insert + " ON CONFLICT (node_name) DO UPDATE SET task_id = excluded.task_id, identity_key = excluded.identity_key"
}
