package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/evanray/taskweave/internal/task"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenMemory(context.Background(), Options{})
	if err != nil {
		t.Fatalf("failed to open memory store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *SQLiteStore, summary string) *task.Task {
	t.Helper()
	tk, err := s.CreateTask(context.Background(), TaskDraft{Summary: summary})
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	return tk
}

func TestCreateAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk, err := s.CreateTask(ctx, TaskDraft{
		Summary:    "wire the frobnicator",
		Priority:   task.PriorityHigh,
		Complexity: task.ComplexityS,
	})
	if err != nil {
		t.Fatal(err)
	}
	if tk.ID == 0 {
		t.Error("expected non-zero id")
	}
	if tk.Status != task.StatusToDo {
		t.Errorf("new task status = %s, want todo", tk.Status)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != "wire the frobnicator" || got.Priority != task.PriorityHigh {
		t.Errorf("round trip mismatch: %+v", got)
	}

	if _, err := s.GetTask(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing task error = %v, want ErrNotFound", err)
	}
}

// TestAddEdgeCycleRejection asserts the core structural invariant: an edge
// that would create a cycle, directly or transitively, always fails and
// leaves the graph unchanged.
func TestAddEdgeCycleRejection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	c := mustCreate(t, s, "c")

	if err := s.AddEdge(ctx, b.ID, a.ID, task.RelationBlocking); err != nil {
		t.Fatal(err)
	}
	if err := s.AddEdge(ctx, c.ID, b.ID, task.RelationContingent); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		from    int64
		to      int64
		typ     task.RelationType
		wantErr error
	}{
		{"self edge", a.ID, a.ID, task.RelationBlocking, ErrSelfEdge},
		{"direct cycle", a.ID, b.ID, task.RelationBlocking, ErrCycle},
		{"transitive cycle through contingent", a.ID, c.ID, task.RelationBlocking, ErrCycle},
		{"duplicate", b.ID, a.ID, task.RelationBlocking, ErrDuplicateEdge},
		{"missing endpoint", a.ID, 9999, task.RelationBlocking, ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.AddEdge(ctx, tt.from, tt.to, tt.typ); !errors.Is(err, tt.wantErr) {
				t.Errorf("AddEdge(%d, %d) = %v, want %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}

	// Failed inserts left the edge set unchanged.
	edges, err := s.ListEdges(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 2 {
		t.Errorf("edge count = %d, want 2", len(edges))
	}
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "lifecycle")

	if err := s.SetStatus(ctx, tk.ID, task.StatusDone, "", ""); !errors.Is(err, task.ErrClosedReasonRequired) {
		t.Errorf("done without reason = %v, want ErrClosedReasonRequired", err)
	}

	if err := s.SetStatus(ctx, tk.ID, task.StatusInProgress, "", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, tk.ID, task.StatusDone, task.ReasonCompleted, ""); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusDone || got.ClosedReason != task.ReasonCompleted {
		t.Errorf("after close: status=%s reason=%q", got.Status, got.ClosedReason)
	}

	// Done is terminal for normal operations.
	if err := s.SetStatus(ctx, tk.ID, task.StatusInProgress, "", ""); !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("done -> in_progress = %v, want ErrIllegalTransition", err)
	}
	if err := s.SetStatus(ctx, tk.ID, task.StatusToDo, "", ""); !errors.Is(err, task.ErrIllegalTransition) {
		t.Errorf("done -> todo = %v, want ErrIllegalTransition", err)
	}
}

func TestForceReopen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "reopen me")
	if _, err := s.StartSession(ctx, tk.ID, "worker-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStatus(ctx, tk.ID, task.StatusDone, task.ReasonAbandoned, ""); err != nil {
		t.Fatal(err)
	}

	if err := s.ForceReopen(ctx, tk.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusToDo {
		t.Errorf("status after reopen = %s, want todo", got.Status)
	}
	if got.ClosedReason != "" {
		t.Errorf("closed reason not cleared: %q", got.ClosedReason)
	}
	if _, err := s.ActiveSession(ctx, tk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("active session after reopen = %v, want ErrNotFound", err)
	}
}

func TestSessionUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "contested")

	first, err := s.StartSession(ctx, tk.ID, "worker-1")
	if err != nil {
		t.Fatal(err)
	}

	// A second starter adopts the existing session instead of erroring.
	second, err := s.StartSession(ctx, tk.ID, "worker-2")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Errorf("second caller got session %s, want adopted %s", second.ID, first.ID)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusInProgress {
		t.Errorf("task status = %s, want in_progress", got.Status)
	}
}

// TestSessionRace fires concurrent starters at one task; afterwards exactly
// one active session exists and all callers observed the same identity.
func TestSessionRace(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "raced")

	const callers = 4
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for {
				sess, err := s.StartSession(ctx, tk.ID, "worker")
				if err != nil {
					if strings.Contains(err.Error(), "locked") || strings.Contains(err.Error(), "busy") {
						continue // writer contention, retry
					}
					t.Errorf("caller %d: %v", i, err)
					return
				}
				ids[i] = sess.ID
				return
			}
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d saw session %s, caller 0 saw %s", i, ids[i], ids[0])
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM work_sessions WHERE task_id = ? AND ended_at IS NULL
	`, tk.ID).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("active session rows = %d, want 1", count)
	}
}

func TestExternalBlockers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "waiting on vendor")
	b, err := s.AddExternalBlocker(ctx, tk.ID, "vendor contract pending")
	if err != nil {
		t.Fatal(err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Blockers[tk.ID] != 1 {
		t.Errorf("unresolved blockers = %d, want 1", snap.Blockers[tk.ID])
	}

	if err := s.ResolveExternalBlocker(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	snap, err = s.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Blockers[tk.ID] != 0 {
		t.Errorf("unresolved blockers after resolve = %d, want 0", snap.Blockers[tk.ID])
	}
}

func TestSchemaVersion(t *testing.T) {
	s := newTestStore(t)
	v, err := s.SchemaVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != len(migrations) {
		t.Errorf("schema version = %d, want %d", v, len(migrations))
	}

	// Migrate is idempotent.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateTaskPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := mustCreate(t, s, "old summary")
	newSummary := "new summary"
	deferred := true
	if err := s.UpdateTask(ctx, tk.ID, TaskPatch{Summary: &newSummary, Deferred: &deferred}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Summary != newSummary || !got.Deferred {
		t.Errorf("patch not applied: %+v", got)
	}

	bad := task.Priority("urgent")
	if err := s.UpdateTask(ctx, tk.ID, TaskPatch{Priority: &bad}); err == nil {
		t.Error("expected error for invalid priority")
	}
}
