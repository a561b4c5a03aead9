// Package store is the durable, transactional graph store: tasks, typed
// dependency edges, external blockers, and work sessions, backed by SQLite.
// Structural invariants (no self-edges, no cycles, Done requires a closure
// reason, one active session per task) are enforced at write time; a failed
// check leaves the store unchanged.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/evanray/taskweave/internal/task"
)

// Sentinel errors for structural validation failures.
var (
	ErrNotFound      = errors.New("not found")
	ErrSelfEdge      = errors.New("a task cannot depend on itself")
	ErrCycle         = errors.New("dependency would create a cycle")
	ErrDuplicateEdge = errors.New("dependency already exists")
)

// Store is the persistence interface for the task graph.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, draft TaskDraft) (*task.Task, error)
	GetTask(ctx context.Context, id int64) (*task.Task, error)
	UpdateTask(ctx context.Context, id int64, patch TaskPatch) error
	ListTasks(ctx context.Context) ([]*task.Task, error)
	SetStatus(ctx context.Context, id int64, status task.Status, reason, note string) error
	ForceReopen(ctx context.Context, id int64) error
	SetPriorityScores(ctx context.Context, scores map[int64]int) error

	// Edges
	AddEdge(ctx context.Context, taskID, dependsOnID int64, typ task.RelationType) error
	RemoveEdge(ctx context.Context, taskID, dependsOnID int64) error
	ListEdges(ctx context.Context) ([]task.Edge, error)

	// External blockers
	AddExternalBlocker(ctx context.Context, taskID int64, description string) (*task.ExternalBlocker, error)
	ResolveExternalBlocker(ctx context.Context, blockerID int64) error

	// Work sessions
	StartSession(ctx context.Context, taskID int64, worker string) (*task.WorkSession, error)
	EndSession(ctx context.Context, taskID int64) error
	ActiveSession(ctx context.Context, taskID int64) (*task.WorkSession, error)

	// Snapshot loads the full graph for pure derivations.
	Snapshot(ctx context.Context) (*SnapshotData, error)

	Close() error
}

// SnapshotData is the raw material for a graph.Snapshot.
type SnapshotData struct {
	Tasks    []*task.Task
	Edges    []task.Edge
	Blockers map[int64]int // taskID -> unresolved external blockers
}

// TaskDraft is the input to CreateTask.
type TaskDraft struct {
	Summary     string
	Description string
	Priority    task.Priority
	Complexity  task.Complexity
	Deferred    bool
	Assignee    string
}

// TaskPatch is a partial metadata update; nil fields are left untouched.
type TaskPatch struct {
	Summary     *string
	Description *string
	Priority    *task.Priority
	Complexity  *task.Complexity
	Deferred    *bool
	Assignee    *string
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	reasons *task.ReasonSet
	log     zerolog.Logger
}

// Options tune store construction.
type Options struct {
	// Reasons is the compiled closure-reason vocabulary. Nil means the
	// built-in vocabulary.
	Reasons *task.ReasonSet
	Logger  zerolog.Logger
}

// Open creates a SQLite-backed store at the given path, creating parent
// directories if needed. Enables WAL mode, foreign keys, and a busy timeout,
// then applies pending migrations.
func Open(ctx context.Context, dbPath string, opts Options) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr, opts)
}

// OpenMemory creates an in-memory store for testing. Uses a shared cache so
// multiple connections see the same database.
func OpenMemory(ctx context.Context, opts Options) (*SQLiteStore, error) {
	return open(ctx, "file::memory:?mode=memory&cache=shared&_busy_timeout=5000", opts)
}

func open(ctx context.Context, connStr string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Two connections: one for primary queries, one for subqueries.
	db.SetMaxOpenConns(2)

	reasons := opts.Reasons
	if reasons == nil {
		reasons = task.NewReasonSet(nil, nil)
	}

	s := &SQLiteStore{db: db, reasons: reasons, log: opts.Logger}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// begin starts a serializable transaction (BEGIN IMMEDIATE under SQLite).
func (s *SQLiteStore) begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
// The duplicate-session race is the one place this is an expected, recoverable
// outcome rather than a bug.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
