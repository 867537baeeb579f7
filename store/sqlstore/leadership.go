package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// ClaimLeadership takes the singleton lease for id when it is free, already
// held by id, or its holder has not renewed within the grace period.
//
// The row is overwritten with a conditional update; when no row exists it is
// inserted, and a concurrent insert from another instance loses on the key.
func (s *Store) ClaimLeadership(ctx context.Context, id uuid.UUID) (bool, error) {
	now := timestamp(s.now())
	cutoff := now.Add(-s.grace)

	query := s.q(`
		UPDATE %s
		SET identity = ?, last_ping = ?
		WHERE dummy_key = 1 AND (identity = ? OR last_ping < ?)
	`, s.leader)

	result, err := s.db.ExecContext(ctx, query, id, now, id, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to claim leadership: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	} else if n > 0 {
		return true, nil
	}

	insert := s.q(`INSERT INTO %s (dummy_key, identity, last_ping) VALUES (1, ?, ?)`, s.leader)
	if _, err := s.db.ExecContext(ctx, insert, id, now); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim leadership: %w", err)
	}

	return true, nil
}

// MaintainLeadership renews the lease held by id.
// Returns false when another instance holds the lease.
func (s *Store) MaintainLeadership(ctx context.Context, id uuid.UUID) (bool, error) {
	query := s.q(`UPDATE %s SET last_ping = ? WHERE dummy_key = 1 AND identity = ?`, s.leader)

	result, err := s.db.ExecContext(ctx, query, timestamp(s.now()), id)
	if err != nil {
		return false, fmt.Errorf("failed to maintain leadership: %w", err)
	}
	return exactlyOne(result)
}

// AbdicateLeadership releases the lease held by id.
func (s *Store) AbdicateLeadership(ctx context.Context, id uuid.UUID) (bool, error) {
	query := s.q(`DELETE FROM %s WHERE dummy_key = 1 AND identity = ?`, s.leader)

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to abdicate leadership: %w", err)
	}
	return exactlyOne(result)
}

func exactlyOne(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n == 1, nil
}
