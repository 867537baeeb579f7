package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/store"
)

// PostBootActionContext records or replaces the context of bac.NodeName.
func (s *Store) PostBootActionContext(ctx context.Context, bac store.BootActionContext) error {
	query := rebind(s.dialect, upsertBootActionContext(s.dialect, s.bootContexts))

	if _, err := s.db.ExecContext(ctx, query, bac.NodeName, bac.TaskID, bac.IdentityKey); err != nil {
		return fmt.Errorf("failed to post boot action context: %w", err)
	}
	return nil
}

// GetBootActionContext returns the context of node.
// Returns store.ErrBootActionNotFound if none exists.
func (s *Store) GetBootActionContext(ctx context.Context, node string) (store.BootActionContext, error) {
	query := s.q(`SELECT node_name, task_id, identity_key FROM %s WHERE node_name = ?`, s.bootContexts)

	var bac store.BootActionContext
	err := s.db.QueryRowContext(ctx, query, node).Scan(&bac.NodeName, &bac.TaskID, &bac.IdentityKey)
	if errors.Is(err, sql.ErrNoRows) {
		return store.BootActionContext{}, store.ErrBootActionNotFound
	}
	if err != nil {
		return store.BootActionContext{}, fmt.Errorf("failed to get boot action context: %w", err)
	}

	return bac, nil
}

// PostBootAction records a boot action instance.
func (s *Store) PostBootAction(ctx context.Context, rec store.BootActionRecord) error {
	query := s.q(`
		INSERT INTO %s (action_id, action_name, node_name, task_id, identity_key, action_status)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.bootActions)

	_, err := s.db.ExecContext(ctx, query, rec.ActionID, rec.ActionName, rec.NodeName, rec.TaskID, rec.IdentityKey, string(rec.Status))
	if err != nil {
		return fmt.Errorf("failed to post boot action: %w", err)
	}
	return nil
}

// PutBootActionStatus updates the status of a boot action instance.
// Returns store.ErrBootActionNotFound if it does not exist.
func (s *Store) PutBootActionStatus(ctx context.Context, actionID uuid.UUID, status orchestrator.ActionResult) error {
	query := s.q(`UPDATE %s SET action_status = ? WHERE action_id = ?`, s.bootActions)

	result, err := s.db.ExecContext(ctx, query, string(status), actionID)
	if err != nil {
		return fmt.Errorf("failed to update boot action status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		if _, err := s.GetBootAction(ctx, actionID); err != nil {
			return err
		}
	}

	return nil
}

// GetBootActionsForNode returns the boot actions of node keyed by name.
func (s *Store) GetBootActionsForNode(ctx context.Context, node string) (map[string]store.BootActionRecord, error) {
	query := s.q(`
		SELECT action_id, action_name, node_name, task_id, identity_key, action_status
		FROM %s
		WHERE node_name = ?
	`, s.bootActions)

	rows, err := s.db.QueryContext(ctx, query, node)
	if err != nil {
		return nil, fmt.Errorf("failed to query boot actions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.BootActionRecord)
	for rows.Next() {
		rec, err := scanBootAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan boot action: %w", err)
		}
		out[rec.ActionName] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating boot actions: %w", err)
	}

	return out, nil
}

// GetBootAction returns a boot action instance.
// Returns store.ErrBootActionNotFound if it does not exist.
func (s *Store) GetBootAction(ctx context.Context, actionID uuid.UUID) (store.BootActionRecord, error) {
	query := s.q(`
		SELECT action_id, action_name, node_name, task_id, identity_key, action_status
		FROM %s
		WHERE action_id = ?
	`, s.bootActions)

	rec, err := scanBootAction(s.db.QueryRowContext(ctx, query, actionID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.BootActionRecord{}, store.ErrBootActionNotFound
	}
	if err != nil {
		return store.BootActionRecord{}, fmt.Errorf("failed to get boot action: %w", err)
	}

	return rec, nil
}

func scanBootAction(row rowScanner) (store.BootActionRecord, error) {
	var (
		rec    store.BootActionRecord
		status string
	)
	if err := row.Scan(&rec.ActionID, &rec.ActionName, &rec.NodeName, &rec.TaskID, &rec.IdentityKey, &status); err != nil {
		return store.BootActionRecord{}, err
	}
	rec.Status = orchestrator.ActionResult(status)
	return rec, nil
}
