package store

import (
	"context"
	"fmt"

	"github.com/evanray/taskweave/internal/task"
)

// AddExternalBlocker attaches an unresolved external obstacle to a task.
func (s *SQLiteStore) AddExternalBlocker(ctx context.Context, taskID int64, description string) (*task.ExternalBlocker, error) {
	if description == "" {
		return nil, fmt.Errorf("blocker description is required")
	}

	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, taskID).Scan(&one); err != nil {
		return nil, fmt.Errorf("task %d: %w", taskID, ErrNotFound)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO external_blockers (task_id, description)
		VALUES (?, ?)
	`, taskID, description)
	if err != nil {
		return nil, fmt.Errorf("failed to insert blocker for task %d: %w", taskID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new blocker id: %w", err)
	}
	return &task.ExternalBlocker{ID: id, TaskID: taskID, Description: description}, nil
}

// ResolveExternalBlocker marks a blocker resolved. Idempotent.
func (s *SQLiteStore) ResolveExternalBlocker(ctx context.Context, blockerID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE external_blockers
		SET resolved = 1, resolved_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, blockerID)
	if err != nil {
		return fmt.Errorf("failed to resolve blocker %d: %w", blockerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("blocker %d: %w", blockerID, ErrNotFound)
	}
	return nil
}

// ListExternalBlockers returns the blockers attached to a task.
func (s *SQLiteStore) ListExternalBlockers(ctx context.Context, taskID int64) ([]*task.ExternalBlocker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, description, resolved, created_at
		FROM external_blockers
		WHERE task_id = ?
		ORDER BY id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query blockers for task %d: %w", taskID, err)
	}
	defer rows.Close()

	var out []*task.ExternalBlocker
	for rows.Next() {
		b := &task.ExternalBlocker{}
		if err := rows.Scan(&b.ID, &b.TaskID, &b.Description, &b.Resolved, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan blocker: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blockers: %w", err)
	}
	return out, nil
}
