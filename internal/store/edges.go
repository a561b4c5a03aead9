package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evanray/taskweave/internal/graph"
	"github.com/evanray/taskweave/internal/task"
)

// AddEdge declares that taskID depends on dependsOnID. Within one
// transaction it rejects self-edges, unknown endpoints, duplicates, and any
// edge that would close a cycle over the existing Blocking ∪ Contingent edge
// set. A failed check leaves the store unchanged.
func (s *SQLiteStore) AddEdge(ctx context.Context, taskID, dependsOnID int64, typ task.RelationType) error {
	if !typ.IsValid() {
		return fmt.Errorf("invalid relationship type %q", typ)
	}
	if taskID == dependsOnID {
		return fmt.Errorf("task %d: %w", taskID, ErrSelfEdge)
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Both endpoints must exist.
	for _, id := range []int64{taskID, dependsOnID} {
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&one); err != nil {
			return fmt.Errorf("task %d: %w", id, ErrNotFound)
		}
	}

	var dup int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM dependencies WHERE task_id = ? AND depends_on_id = ?
	`, taskID, dependsOnID).Scan(&dup)
	if err == nil {
		return fmt.Errorf("edge %d -> %d: %w", taskID, dependsOnID, ErrDuplicateEdge)
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to check for duplicate edge: %w", err)
	}

	// Cycle check over the edges visible to this transaction: DFS from the
	// prerequisite in the depends-on direction; if the dependent is
	// reachable, the new edge would close a cycle.
	edges, err := listEdgesTx(ctx, tx)
	if err != nil {
		return err
	}
	snap := graph.NewSnapshot(nil, edges, nil)
	if snap.WouldCycle(taskID, dependsOnID) {
		s.log.Debug().Int64("task", taskID).Int64("depends_on", dependsOnID).
			Msg("rejected edge: cycle")
		return fmt.Errorf("edge %d -> %d: %w", taskID, dependsOnID, ErrCycle)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO dependencies (task_id, depends_on_id, rel_type)
		VALUES (?, ?, ?)
	`, taskID, dependsOnID, typ); err != nil {
		return fmt.Errorf("failed to insert edge %d -> %d: %w", taskID, dependsOnID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit edge insert: %w", err)
	}
	return nil
}

// RemoveEdge deletes a dependency edge.
func (s *SQLiteStore) RemoveEdge(ctx context.Context, taskID, dependsOnID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dependencies WHERE task_id = ? AND depends_on_id = ?
	`, taskID, dependsOnID)
	if err != nil {
		return fmt.Errorf("failed to delete edge %d -> %d: %w", taskID, dependsOnID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("edge %d -> %d: %w", taskID, dependsOnID, ErrNotFound)
	}
	return nil
}

// ListEdges returns every dependency edge.
func (s *SQLiteStore) ListEdges(ctx context.Context) ([]task.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, depends_on_id, rel_type, created_at
		FROM dependencies
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []task.Edge
	for rows.Next() {
		var e task.Edge
		if err := rows.Scan(&e.TaskID, &e.DependsOnID, &e.Type, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return edges, nil
}

// listEdgesTx reads all edges under the given transaction, so the cycle check
// sees exactly the committed state it will be applied against.
func listEdgesTx(ctx context.Context, tx *sql.Tx) ([]task.Edge, error) {
	rows, err := tx.QueryContext(ctx, `SELECT task_id, depends_on_id, rel_type FROM dependencies`)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []task.Edge
	for rows.Next() {
		var e task.Edge
		if err := rows.Scan(&e.TaskID, &e.DependsOnID, &e.Type); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return edges, nil
}
