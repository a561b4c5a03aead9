package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/evanray/taskweave/internal/dispatch"
	"github.com/evanray/taskweave/internal/graph"
	"github.com/evanray/taskweave/internal/score"
	"github.com/evanray/taskweave/internal/store"
	"github.com/evanray/taskweave/internal/task"
)

// fakeWorker is a deterministic executor: it closes its task through the
// store, or deliberately exits without doing so to simulate a stall.
type fakeWorker struct {
	st     store.Store
	reason string // closure reason applied on completion

	mu         sync.Mutex
	stallTimes map[int64]int // dispatches that stall before one completes
	dispatches map[int64]int
	runs       map[string]chan struct{}
}

func newFakeWorker(st store.Store) *fakeWorker {
	return newFakeWorkerWithReason(st, task.ReasonCompleted)
}

func newFakeWorkerWithReason(st store.Store, reason string) *fakeWorker {
	return &fakeWorker{
		st:         st,
		reason:     reason,
		stallTimes: make(map[int64]int),
		dispatches: make(map[int64]int),
		runs:       make(map[string]chan struct{}),
	}
}

func (w *fakeWorker) stallFirst(taskID int64, times int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stallTimes[taskID] = times
}

func (w *fakeWorker) Dispatch(ctx context.Context, t *task.Task) (*dispatch.Handle, error) {
	w.mu.Lock()
	w.dispatches[t.ID]++
	stall := w.stallTimes[t.ID] > 0
	if stall {
		w.stallTimes[t.ID]--
	}
	done := make(chan struct{})
	h := &dispatch.Handle{ID: uuid.NewString(), TaskID: t.ID}
	w.runs[h.ID] = done
	w.mu.Unlock()

	go func() {
		defer close(done)
		if stall {
			return // exit without the task reaching Done
		}
		_ = w.st.SetStatus(ctx, t.ID, task.StatusDone, w.reason, "")
	}()
	return h, nil
}

func (w *fakeWorker) IsAlive(h *dispatch.Handle) bool {
	w.mu.Lock()
	done, ok := w.runs[h.ID]
	w.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (w *fakeWorker) Result(h *dispatch.Handle) (string, error) {
	return "", nil
}

func (w *fakeWorker) dispatchCount(taskID int64) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dispatches[taskID]
}

func testConfig() Config {
	return Config{
		PollInterval: 5 * time.Millisecond,
		Concurrency:  4,
		Weights:      score.DefaultWeights(),
	}
}

func newChainStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenMemory(context.Background(), store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func create(t *testing.T, s *store.SQLiteStore, summary string) *task.Task {
	t.Helper()
	tk, err := s.CreateTask(context.Background(), store.TaskDraft{Summary: summary})
	if err != nil {
		t.Fatal(err)
	}
	return tk
}

func TestChainCompletes(t *testing.T) {
	ctx := context.Background()
	s := newChainStore(t)
	head := create(t, s, "head")
	left := create(t, s, "left")
	right := create(t, s, "right")
	if err := s.AddEdge(ctx, left.ID, head.ID, task.RelationBlocking); err != nil {
		t.Fatal(err)
	}
	if err := s.AddEdge(ctx, right.ID, head.ID, task.RelationBlocking); err != nil {
		t.Fatal(err)
	}

	w := newFakeWorker(s)
	r := New(s, w, AutoDecider(DecisionSkip), nil, testConfig())

	report, err := r.Run(ctx, []int64{head.ID})
	if err != nil {
		t.Fatal(err)
	}
	if report.Phase != PhaseDone {
		t.Errorf("phase = %s, want done", report.Phase)
	}
	if report.Waves != 2 {
		t.Errorf("waves = %d, want 2 (head wave + dependents)", report.Waves)
	}
	for _, id := range []int64{head.ID, left.ID, right.ID} {
		got, err := s.GetTask(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != task.StatusDone {
			t.Errorf("task %d status = %s, want done", id, got.Status)
		}
	}
	if report.Reconcile.ScoresRefreshed != 0 {
		t.Errorf("all tasks closed, expected 0 refreshed scores, got %d", report.Reconcile.ScoresRefreshed)
	}
}

// TestHeadOnlyScope: a head with zero downstream dependents has a scope of
// exactly itself, and a fully-Done scope reports Done, not Stuck.
func TestHeadOnlyScope(t *testing.T) {
	ctx := context.Background()
	s := newChainStore(t)
	head := create(t, s, "solo")

	w := newFakeWorker(s)
	r := New(s, w, AutoDecider(DecisionAbort), nil, testConfig())

	report, err := r.Run(ctx, []int64{head.ID})
	if err != nil {
		t.Fatal(err)
	}
	if report.Phase != PhaseDone {
		t.Errorf("phase = %s, want done", report.Phase)
	}
	if report.Waves != 1 {
		t.Errorf("waves = %d, want 1", report.Waves)
	}

	// Running again over the now-Done scope dispatches nothing.
	again, err := New(s, w, AutoDecider(DecisionAbort), nil, testConfig()).Run(ctx, []int64{head.ID})
	if err != nil {
		t.Fatal(err)
	}
	if again.Phase != PhaseDone || again.Waves != 0 {
		t.Errorf("re-run phase=%s waves=%d, want done with no waves", again.Phase, again.Waves)
	}
}

func TestChainStuckReportsBlocked(t *testing.T) {
	ctx := context.Background()
	s := newChainStore(t)
	head := create(t, s, "head")
	dep := create(t, s, "blocked dependent")
	if err := s.AddEdge(ctx, dep.ID, head.ID, task.RelationBlocking); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddExternalBlocker(ctx, dep.ID, "waiting on vendor"); err != nil {
		t.Fatal(err)
	}

	w := newFakeWorker(s)
	r := New(s, w, AutoDecider(DecisionAbort), nil, testConfig())

	report, err := r.Run(ctx, []int64{head.ID})
	if err != nil {
		t.Fatal(err)
	}
	if report.Phase != PhaseStuck {
		t.Fatalf("phase = %s, want stuck", report.Phase)
	}
	if len(report.Stuck) != 1 || report.Stuck[0].ID != dep.ID {
		t.Fatalf("stuck = %+v, want just task %d", report.Stuck, dep.ID)
	}
	if report.Stuck[0].Reason != graph.BlockedExternally {
		t.Errorf("reason = %s, want external", report.Stuck[0].Reason)
	}
}

func TestStallSkip(t *testing.T) {
	ctx := context.Background()
	s := newChainStore(t)
	head := create(t, s, "stalling head")

	w := newFakeWorker(s)
	w.stallFirst(head.ID, 1000) // stalls forever

	r := New(s, w, AutoDecider(DecisionSkip), nil, testConfig())
	report, err := r.Run(ctx, []int64{head.ID})
	if err != nil {
		t.Fatal(err)
	}
	if report.Phase != PhaseDone {
		t.Errorf("phase = %s, want done after skip", report.Phase)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != head.ID {
		t.Errorf("skipped = %v, want [%d]", report.Skipped, head.ID)
	}

	// Skip leaves the task open.
	got, err := s.GetTask(ctx, head.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status == task.StatusDone {
		t.Error("skipped task must stay open")
	}
}

func TestStallResume(t *testing.T) {
	ctx := context.Background()
	s := newChainStore(t)
	head := create(t, s, "flaky head")

	w := newFakeWorker(s)
	w.stallFirst(head.ID, 1) // first dispatch stalls, resume succeeds

	r := New(s, w, AutoDecider(DecisionResume), nil, testConfig())
	report, err := r.Run(ctx, []int64{head.ID})
	if err != nil {
		t.Fatal(err)
	}
	if report.Phase != PhaseDone {
		t.Errorf("phase = %s, want done", report.Phase)
	}
	if n := w.dispatchCount(head.ID); n != 2 {
		t.Errorf("dispatch count = %d, want 2 (original + resume)", n)
	}
}

func TestStallAbort(t *testing.T) {
	ctx := context.Background()
	s := newChainStore(t)
	head := create(t, s, "doomed head")

	w := newFakeWorker(s)
	w.stallFirst(head.ID, 1000)

	r := New(s, w, AutoDecider(DecisionAbort), nil, testConfig())
	report, err := r.Run(ctx, []int64{head.ID})
	if !errors.Is(err, ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
	if report.Phase != PhaseAborted {
		t.Errorf("phase = %s, want aborted", report.Phase)
	}
}

func TestChainRunsConsolidation(t *testing.T) {
	ctx := context.Background()
	s := newChainStore(t)
	head := create(t, s, "head")
	hanger := create(t, s, "contingent hanger-on")
	if err := s.AddEdge(ctx, hanger.ID, head.ID, task.RelationContingent); err != nil {
		t.Fatal(err)
	}

	// The worker closes the head as abandoned and stalls on the dependent,
	// which the decider skips; consolidation then cascade-closes it.
	w := newFakeWorkerWithReason(s, task.ReasonAbandoned)
	w.stallFirst(hanger.ID, 1000)
	r := New(s, w, AutoDecider(DecisionSkip), nil, testConfig())

	report, err := r.Run(ctx, []int64{head.ID})
	if err != nil {
		t.Fatal(err)
	}
	if report.Reconcile.CascadeClosed != 1 {
		t.Errorf("cascade closed = %d, want 1", report.Reconcile.CascadeClosed)
	}
	got, err := s.GetTask(ctx, hanger.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusDone || got.ClosedReason != task.ReasonCascade {
		t.Errorf("hanger-on: status=%s reason=%q, want cascade-closed", got.Status, got.ClosedReason)
	}
}

func TestChannelDeciderSerializes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var inFlight, maxInFlight int
	d := NewChannelDecider(8, func(ctx context.Context, s Stall) (Decision, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return DecisionSkip, nil
	})
	d.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			decision, err := d.Decide(ctx, Stall{TaskID: int64(i)})
			if err != nil || decision != DecisionSkip {
				t.Errorf("decide = %v, %v", decision, err)
			}
		}(i)
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("prompts interleaved: max in flight = %d", maxInFlight)
	}

	cancel()
	d.Stop()
}
