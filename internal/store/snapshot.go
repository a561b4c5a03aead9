package store

import (
	"context"
	"fmt"
)

// Snapshot loads the full graph: all tasks, all edges, and unresolved
// external blocker counts. Callers reload whenever they need a fresh view;
// the graph mutates rarely relative to how often readiness is queried, so
// recomputation beats an incrementally-patched cache at this scale.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*SnapshotData, error) {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	edges, err := s.ListEdges(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, COUNT(*)
		FROM external_blockers
		WHERE resolved = 0
		GROUP BY task_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocker counts: %w", err)
	}
	defer rows.Close()

	blockers := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan blocker count: %w", err)
		}
		blockers[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating blocker counts: %w", err)
	}

	return &SnapshotData{Tasks: tasks, Edges: edges, Blockers: blockers}, nil
}
