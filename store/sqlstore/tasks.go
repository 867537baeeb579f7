package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	orchestrator "github.com/getpup/metal-orchestrator"
	"github.com/getpup/metal-orchestrator/store"
)

const taskColumns = `task_id, parent_task_id, action, design_ref, node_filter, status,
	result_status, result_message, result_reason, result_successes, result_failures, result_links,
	retry, terminate, terminated_by, created, created_by, updated, terminated, request_context`

type rowScanner interface {
	Scan(dest ...any) error
}

// GetTask returns the task with the given ID, its posted messages and its subtask IDs.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*orchestrator.Task, error) {
	query := s.q(`SELECT %s FROM %s WHERE task_id = ?`, taskColumns, s.tasks)

	task, err := scanTask(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	if task.Result.Messages, err = s.loadMessages(ctx, id); err != nil {
		return nil, err
	}
	task.Result.ErrorCount = 0
	for _, m := range task.Result.Messages {
		if m.Error {
			task.Result.ErrorCount++
		}
	}

	if task.SubtaskIDs, err = s.loadSubtaskIDs(ctx, id); err != nil {
		return nil, err
	}

	return task, nil
}

// PostTask persists a new task and its initial messages.
// Returns store.ErrTaskExists if the ID is taken.
func (s *Store) PostTask(ctx context.Context, task *orchestrator.Task) error {
	args, err := taskArgs(task)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := s.q(`INSERT INTO %s (%s) VALUES (%s)`, s.tasks, taskColumns, placeholders(len(args)))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return store.ErrTaskExists
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}

	for _, msg := range task.Result.Messages {
		if err := s.insertMessage(ctx, tx, task.ID, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task: %w", err)
	}
	return nil
}

// PutTask updates the mutable columns of an existing task.
// Messages and subtask relations are not touched.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *Store) PutTask(ctx context.Context, task *orchestrator.Task) error {
	args, err := taskArgs(task)
	if err != nil {
		return err
	}

	query := s.q(`
		UPDATE %s
		SET parent_task_id = ?, action = ?, design_ref = ?, node_filter = ?, status = ?,
			result_status = ?, result_message = ?, result_reason = ?,
			result_successes = ?, result_failures = ?, result_links = ?,
			retry = ?, terminate = ?, terminated_by = ?, created = ?, created_by = ?,
			updated = ?, terminated = ?, request_context = ?
		WHERE task_id = ?
	`, s.tasks)

	// taskArgs leads with the ID; the update takes it last.
	updateArgs := append(args[1:len(args):len(args)], args[0])

	result, err := s.db.ExecContext(ctx, query, updateArgs...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// MySQL reports changed rather than matched rows unless clientFoundRows is set.
		ok, err := s.taskExists(ctx, task.ID)
		if err != nil {
			return err
		}
		if !ok {
			return store.ErrTaskNotFound
		}
	}

	return nil
}

// AddSubtask appends childID to the subtasks of parentID.
// Appending an already registered child is a no-op.
// Returns store.ErrTaskNotFound if the parent does not exist.
func (s *Store) AddSubtask(ctx context.Context, parentID, childID uuid.UUID) error {
	ok, err := s.taskExists(ctx, parentID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrTaskNotFound
	}

	query := s.q(`INSERT INTO %s (parent_task_id, subtask_id) VALUES (?, ?)`, s.subtasks)
	if _, err := s.db.ExecContext(ctx, query, parentID, childID); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to add subtask: %w", err)
	}

	return nil
}

// GetNextQueuedTask returns the oldest Queued task with an allowed action,
// or nil when none is queued.
func (s *Store) GetNextQueuedTask(ctx context.Context, allowed []orchestrator.Action) (*orchestrator.Task, error) {
	args := []any{string(orchestrator.TaskStatusQueued)}
	filter := ""
	if len(allowed) > 0 {
		filter = fmt.Sprintf(" AND action IN (%s)", placeholders(len(allowed)))
		for _, a := range allowed {
			args = append(args, string(a))
		}
	}

	query := s.q(`SELECT task_id FROM %s WHERE status = ?%s ORDER BY created ASC, task_id ASC LIMIT 1`, s.tasks, filter)

	var id uuid.UUID
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get next queued task: %w", err)
	}

	task, err := s.GetTask(ctx, id)
	if errors.Is(err, store.ErrTaskNotFound) {
		return nil, nil
	}
	return task, err
}

// GetCompleteSubtasks returns the Complete subtasks of id.
func (s *Store) GetCompleteSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error) {
	return s.subtasksWhere(ctx, id, func(st orchestrator.TaskStatus) bool {
		return st == orchestrator.TaskStatusComplete
	})
}

// GetActiveSubtasks returns the subtasks of id that have not finished.
func (s *Store) GetActiveSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error) {
	return s.subtasksWhere(ctx, id, func(st orchestrator.TaskStatus) bool {
		return !st.IsTerminal()
	})
}

// GetAllSubtasks returns every subtask of id in registration order.
func (s *Store) GetAllSubtasks(ctx context.Context, id uuid.UUID) ([]*orchestrator.Task, error) {
	return s.subtasksWhere(ctx, id, func(orchestrator.TaskStatus) bool { return true })
}

// PostResultMessage appends msg to the messages of taskID.
// Returns store.ErrTaskNotFound if the task does not exist.
func (s *Store) PostResultMessage(ctx context.Context, taskID uuid.UUID, msg orchestrator.ResultMessage) error {
	ok, err := s.taskExists(ctx, taskID)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrTaskNotFound
	}
	return s.insertMessage(ctx, s.db, taskID, msg)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertMessage(ctx context.Context, db execer, taskID uuid.UUID, msg orchestrator.ResultMessage) error {
	extra, err := json.Marshal(msg.Extra)
	if err != nil {
		return fmt.Errorf("failed to encode message extra: %w", err)
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}

	query := s.q(`
		INSERT INTO %s (task_id, message, is_error, context_type, context, msg_timestamp, extra)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.messages)

	if _, err := db.ExecContext(ctx, query, taskID, msg.Msg, msg.Error, msg.ContextType, msg.Context, timestamp(ts), string(extra)); err != nil {
		return fmt.Errorf("failed to insert result message: %w", err)
	}
	return nil
}

func (s *Store) loadMessages(ctx context.Context, id uuid.UUID) ([]orchestrator.ResultMessage, error) {
	query := s.q(`
		SELECT message, is_error, context_type, context, msg_timestamp, extra
		FROM %s
		WHERE task_id = ?
		ORDER BY seq ASC
	`, s.messages)

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query result messages: %w", err)
	}
	defer rows.Close()

	msgs := []orchestrator.ResultMessage{}
	for rows.Next() {
		var (
			m     orchestrator.ResultMessage
			extra []byte
		)
		if err := rows.Scan(&m.Msg, &m.Error, &m.ContextType, &m.Context, &m.Timestamp, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan result message: %w", err)
		}
		if err := json.Unmarshal(extra, &m.Extra); err != nil {
			return nil, fmt.Errorf("failed to decode message extra: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result messages: %w", err)
	}

	return msgs, nil
}

func (s *Store) loadSubtaskIDs(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	query := s.q(`SELECT subtask_id FROM %s WHERE parent_task_id = ? ORDER BY seq ASC`, s.subtasks)

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtasks: %w", err)
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var child uuid.UUID
		if err := rows.Scan(&child); err != nil {
			return nil, fmt.Errorf("failed to scan subtask: %w", err)
		}
		ids = append(ids, child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subtasks: %w", err)
	}

	return ids, nil
}

func (s *Store) subtasksWhere(ctx context.Context, id uuid.UUID, keep func(orchestrator.TaskStatus) bool) ([]*orchestrator.Task, error) {
	ok, err := s.taskExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, store.ErrTaskNotFound
	}

	query := s.q(`
		SELECT s.subtask_id, t.status
		FROM %s s
		JOIN %s t ON t.task_id = s.subtask_id
		WHERE s.parent_task_id = ?
		ORDER BY s.seq ASC
	`, s.subtasks, s.tasks)

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtasks: %w", err)
	}

	var ids []uuid.UUID
	for rows.Next() {
		var (
			child  uuid.UUID
			status string
		)
		if err := rows.Scan(&child, &status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan subtask: %w", err)
		}
		if keep(orchestrator.TaskStatus(status)) {
			ids = append(ids, child)
		}
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("error iterating subtasks: %w", err)
	}

	// Rows are closed before loading so a single-connection pool does not block.
	out := make([]*orchestrator.Task, 0, len(ids))
	for _, child := range ids {
		t, err := s.GetTask(ctx, child)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}

	return out, nil
}

func (s *Store) taskExists(ctx context.Context, id uuid.UUID) (bool, error) {
	query := s.q(`SELECT 1 FROM %s WHERE task_id = ?`, s.tasks)

	var one int
	err := s.db.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check task: %w", err)
	}
	return true, nil
}

// taskArgs returns the column values of task in taskColumns order.
func taskArgs(task *orchestrator.Task) ([]any, error) {
	nodeFilter, err := json.Marshal(task.NodeFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to encode node filter: %w", err)
	}
	successes, err := json.Marshal(task.Result.Successes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode successes: %w", err)
	}
	failures, err := json.Marshal(task.Result.Failures)
	if err != nil {
		return nil, fmt.Errorf("failed to encode failures: %w", err)
	}
	links, err := json.Marshal(task.Result.Links)
	if err != nil {
		return nil, fmt.Errorf("failed to encode links: %w", err)
	}
	requestContext, err := json.Marshal(task.RequestContext)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request context: %w", err)
	}

	var terminated sql.NullTime
	if !task.Terminated.IsZero() {
		terminated = sql.NullTime{Time: timestamp(task.Terminated), Valid: true}
	}

	return []any{
		task.ID,
		uuid.NullUUID{UUID: task.ParentTaskID, Valid: task.HasParent()},
		string(task.Action),
		task.DesignRef,
		string(nodeFilter),
		string(task.Status),
		string(task.Result.Status),
		task.Result.Message,
		task.Result.Reason,
		string(successes),
		string(failures),
		string(links),
		task.Retry,
		task.Terminate,
		task.TerminatedBy,
		timestamp(task.Created),
		task.CreatedBy,
		timestamp(task.Updated),
		terminated,
		string(requestContext),
	}, nil
}

func scanTask(row rowScanner) (*orchestrator.Task, error) {
	var (
		t            orchestrator.Task
		parent       uuid.NullUUID
		terminated   sql.NullTime
		action       string
		status       string
		resultStatus string
	)
	var nodeFilter, successes, failures, links, requestContext []byte

	err := row.Scan(
		&t.ID,
		&parent,
		&action,
		&t.DesignRef,
		&nodeFilter,
		&status,
		&resultStatus,
		&t.Result.Message,
		&t.Result.Reason,
		&successes,
		&failures,
		&links,
		&t.Retry,
		&t.Terminate,
		&t.TerminatedBy,
		&t.Created,
		&t.CreatedBy,
		&t.Updated,
		&terminated,
		&requestContext,
	)
	if err != nil {
		return nil, err
	}

	t.Action = orchestrator.Action(action)
	t.Status = orchestrator.TaskStatus(status)
	t.Result.Status = orchestrator.ActionResult(resultStatus)
	if parent.Valid {
		t.ParentTaskID = parent.UUID
	}
	if terminated.Valid {
		t.Terminated = terminated.Time
	}

	for _, col := range []struct {
		name string
		data []byte
		dest any
	}{
		{"node_filter", nodeFilter, &t.NodeFilter},
		{"result_successes", successes, &t.Result.Successes},
		{"result_failures", failures, &t.Result.Failures},
		{"result_links", links, &t.Result.Links},
		{"request_context", requestContext, &t.RequestContext},
	} {
		if err := json.Unmarshal(col.data, col.dest); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", strings.ReplaceAll(col.name, "_", " "), err)
		}
	}

	return &t, nil
}
