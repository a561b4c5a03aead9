package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evanray/taskweave/internal/task"
)

const taskColumns = `id, summary, description, status, priority, complexity, deferred,
	assignee, priority_score, COALESCE(closed_reason, ''), closed_note, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	t := &task.Task{}
	err := row.Scan(&t.ID, &t.Summary, &t.Description, &t.Status, &t.Priority,
		&t.Complexity, &t.Deferred, &t.Assignee, &t.PriorityScore,
		&t.ClosedReason, &t.ClosedNote, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateTask inserts a new task in ToDo. Integer ids come from AUTOINCREMENT
// and are never reused.
func (s *SQLiteStore) CreateTask(ctx context.Context, draft TaskDraft) (*task.Task, error) {
	if draft.Summary == "" {
		return nil, fmt.Errorf("task summary is required")
	}
	priority := draft.Priority
	if priority == "" {
		priority = task.PriorityMedium
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}
	if !draft.Complexity.IsValid() {
		return nil, fmt.Errorf("invalid complexity %q", draft.Complexity)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (summary, description, status, priority, complexity, deferred, assignee)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, draft.Summary, draft.Description, task.StatusToDo, priority, draft.Complexity, draft.Deferred, draft.Assignee)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new task id: %w", err)
	}
	return s.GetTask(ctx, id)
}

// GetTask retrieves a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task %d: %w", id, err)
	}
	return t, nil
}

// UpdateTask applies a partial metadata edit.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id int64, patch TaskPatch) error {
	if patch.Priority != nil && !patch.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", *patch.Priority)
	}
	if patch.Complexity != nil && !patch.Complexity.IsValid() {
		return fmt.Errorf("invalid complexity %q", *patch.Complexity)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	set := "updated_at = CURRENT_TIMESTAMP"
	args := []any{}
	appendSet := func(col string, v any) {
		set += ", " + col + " = ?"
		args = append(args, v)
	}
	if patch.Summary != nil {
		appendSet("summary", *patch.Summary)
	}
	if patch.Description != nil {
		appendSet("description", *patch.Description)
	}
	if patch.Priority != nil {
		appendSet("priority", *patch.Priority)
	}
	if patch.Complexity != nil {
		appendSet("complexity", *patch.Complexity)
	}
	if patch.Deferred != nil {
		appendSet("deferred", *patch.Deferred)
	}
	if patch.Assignee != nil {
		appendSet("assignee", *patch.Assignee)
	}
	args = append(args, id)

	res, err := tx.ExecContext(ctx, `UPDATE tasks SET `+set+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit task update: %w", err)
	}
	return nil
}

// ListTasks returns all tasks in creation order.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// SetStatus transitions a task through the state machine. The guard and the
// Done-requires-reason check run inside the same transaction as the write,
// so a concurrent reader never observes a Done task without its closure
// reason. Reaching Done also ends the task's active work session.
func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status task.Status, reason, note string) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	cur, err := scanTask(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query task %d: %w", id, err)
	}

	if err := task.ValidateTransition(cur.Status, status, reason, s.reasons); err != nil {
		s.log.Debug().Int64("task", id).Str("from", string(cur.Status)).
			Str("to", string(status)).Err(err).Msg("rejected status transition")
		return fmt.Errorf("task %d: %w", id, err)
	}

	if status == task.StatusDone {
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, closed_reason = ?, closed_note = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, status, reason, note, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks
			SET status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, status, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update status of task %d: %w", id, err)
	}

	if status == task.StatusDone {
		if _, err := tx.ExecContext(ctx, `
			UPDATE work_sessions SET ended_at = CURRENT_TIMESTAMP
			WHERE task_id = ? AND ended_at IS NULL
		`, id); err != nil {
			return fmt.Errorf("failed to end work session for task %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status transition: %w", err)
	}
	return nil
}

// ForceReopen is the escape hatch past the state-machine guard: InProgress or
// Done back to ToDo. It runs as a single atomic unit — status reset, closure
// reason cleared, and any in-flight work session closed — because a partial
// application would leave the guard's invariants silently broken.
func (s *SQLiteStore) ForceReopen(ctx context.Context, id int64) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, closed_reason = NULL, closed_note = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, task.StatusToDo, id)
	if err != nil {
		return fmt.Errorf("failed to reopen task %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE work_sessions SET ended_at = CURRENT_TIMESTAMP
		WHERE task_id = ? AND ended_at IS NULL
	`, id); err != nil {
		return fmt.Errorf("failed to close work session for task %d: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit force reopen: %w", err)
	}
	s.log.Info().Int64("task", id).Msg("force-reopened task")
	return nil
}

// SetPriorityScores rewrites the cached WSJF scores in one transaction.
func (s *SQLiteStore) SetPriorityScores(ctx context.Context, scores map[int64]int) error {
	if len(scores) == 0 {
		return nil
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for id, score := range scores {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET priority_score = ? WHERE id = ?
		`, score, id); err != nil {
			return fmt.Errorf("failed to set score for task %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit score update: %w", err)
	}
	return nil
}
