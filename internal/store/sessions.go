package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/evanray/taskweave/internal/task"
)

// StartSession opens a work session for a task and marks the task InProgress
// if it was ToDo. The partial unique index on work_sessions enforces at most
// one active session per task across processes; when two callers race, the
// loser's insert fails the uniqueness check and transparently adopts the
// winner's session instead of propagating an error.
func (s *SQLiteStore) StartSession(ctx context.Context, taskID int64, worker string) (*task.WorkSession, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	cur, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query task %d: %w", taskID, err)
	}
	if cur.Status == task.StatusDone {
		return nil, fmt.Errorf("task %d is done: %w", taskID, task.ErrIllegalTransition)
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO work_sessions (id, task_id, worker)
		VALUES (?, ?, ?)
	`, id, taskID, worker)
	if isUniqueViolation(err) {
		// Lost the race: adopt the active session that beat us.
		tx.Rollback()
		sess, adoptErr := s.ActiveSession(ctx, taskID)
		if adoptErr != nil {
			return nil, fmt.Errorf("failed to adopt concurrent session for task %d: %w", taskID, adoptErr)
		}
		s.log.Debug().Int64("task", taskID).Str("session", sess.ID).Msg("adopted concurrent work session")
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert work session for task %d: %w", taskID, err)
	}

	if cur.Status == task.StatusToDo {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, task.StatusInProgress, taskID); err != nil {
			return nil, fmt.Errorf("failed to mark task %d in progress: %w", taskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		// The commit itself can lose the race under concurrent writers.
		if isUniqueViolation(err) {
			sess, adoptErr := s.ActiveSession(ctx, taskID)
			if adoptErr == nil {
				return sess, nil
			}
		}
		return nil, fmt.Errorf("failed to commit work session: %w", err)
	}

	return &task.WorkSession{ID: id, TaskID: taskID, Worker: worker}, nil
}

// EndSession closes the active session for a task, if any. Idempotent.
func (s *SQLiteStore) EndSession(ctx context.Context, taskID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE work_sessions SET ended_at = CURRENT_TIMESTAMP
		WHERE task_id = ? AND ended_at IS NULL
	`, taskID)
	if err != nil {
		return fmt.Errorf("failed to end session for task %d: %w", taskID, err)
	}
	return nil
}

// ActiveSession returns the open session for a task, or ErrNotFound.
func (s *SQLiteStore) ActiveSession(ctx context.Context, taskID int64) (*task.WorkSession, error) {
	sess := &task.WorkSession{TaskID: taskID}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, worker, started_at
		FROM work_sessions
		WHERE task_id = ? AND ended_at IS NULL
	`, taskID).Scan(&sess.ID, &sess.Worker, &sess.StartedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active session for task %d: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session for task %d: %w", taskID, err)
	}
	return sess, nil
}
