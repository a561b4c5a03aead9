package store

import (
	"context"
	"fmt"
)

// migrations are applied in order inside a single transaction per migration.
// The schema_version row is bumped only after the migration's DDL succeeds,
// never before, so a crash mid-migration cannot leave the store at a version
// that claims a guarantee it has not implemented.
var migrations = []string{
	// v1: initial schema. Dependency edges carry a relationship type; both
	// self-edges and Done-without-reason are rejected by CHECK constraints in
	// addition to the Go guards. The partial unique index on work_sessions is
	// the cross-process "one active session per task" enforcement.
	`
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		summary TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'todo',
		priority TEXT NOT NULL DEFAULT 'medium',
		complexity TEXT NOT NULL DEFAULT '',
		deferred INTEGER NOT NULL DEFAULT 0,
		assignee TEXT NOT NULL DEFAULT '',
		priority_score INTEGER NOT NULL DEFAULT 0,
		closed_reason TEXT,
		closed_note TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CHECK (status != 'done' OR closed_reason IS NOT NULL)
	);

	CREATE TABLE IF NOT EXISTS dependencies (
		task_id INTEGER NOT NULL,
		depends_on_id INTEGER NOT NULL,
		rel_type TEXT NOT NULL CHECK (rel_type IN ('blocking', 'contingent')),
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (task_id, depends_on_id),
		CHECK (task_id != depends_on_id),
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
		FOREIGN KEY (depends_on_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on ON dependencies(depends_on_id);

	CREATE TABLE IF NOT EXISTS external_blockers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		resolved_at DATETIME,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_external_blockers_task ON external_blockers(task_id, resolved);

	CREATE TABLE IF NOT EXISTS work_sessions (
		id TEXT PRIMARY KEY,
		task_id INTEGER NOT NULL,
		worker TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		ended_at DATETIME,
		FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_work_sessions_active
		ON work_sessions(task_id) WHERE ended_at IS NULL;
	`,
}

// Migrate applies all pending migrations.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if err != nil {
		// No row yet: version 0.
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return fmt.Errorf("failed to seed schema version: %w", err)
		}
		version = 0
	}

	for i := version; i < len(migrations); i++ {
		next := i + 1
		tx, err := s.begin(ctx)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", next, err)
		}

		// Version bump is the last statement in the same transaction.
		if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, next); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to bump schema version to %d: %w", next, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", next, err)
		}
		s.log.Debug().Int("version", next).Msg("applied schema migration")
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
