package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/evanray/taskweave/internal/task"
)

func testWorker(t *testing.T, cfg CommandConfig) *CommandWorker {
	t.Helper()
	w, err := NewCommandWorker(cfg, NewProcessManager(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func waitDead(t *testing.T, w *CommandWorker, h *Handle) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for w.IsAlive(h) {
		if time.Now().After(deadline) {
			t.Fatal("worker did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCommandWorkerRoundTrip(t *testing.T) {
	w := testWorker(t, CommandConfig{
		Command: "sh",
		Args:    []string{"-c", "echo task {{id}}: {{summary}}"},
	})

	h, err := w.Dispatch(context.Background(), &task.Task{ID: 42, Summary: "ship it"})
	if err != nil {
		t.Fatal(err)
	}
	waitDead(t, w, h)

	out, err := w.Result(h)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "task 42: ship it") {
		t.Errorf("output = %q, want substituted placeholders", out)
	}
}

func TestResultWhileRunning(t *testing.T) {
	w := testWorker(t, CommandConfig{Command: "sleep", Args: []string{"5"}})

	h, err := w.Dispatch(context.Background(), &task.Task{ID: 1, Summary: "slow"})
	if err != nil {
		t.Fatal(err)
	}
	defer w.pm.KillAll()

	if !w.IsAlive(h) {
		t.Error("worker should be alive")
	}
	if _, err := w.Result(h); !errors.Is(err, ErrStillRunning) {
		t.Errorf("Result while running = %v, want ErrStillRunning", err)
	}
}

func TestWorkerFailureSurfacesStderr(t *testing.T) {
	w := testWorker(t, CommandConfig{
		Command: "sh",
		Args:    []string{"-c", "echo boom >&2; exit 3"},
	})

	h, err := w.Dispatch(context.Background(), &task.Task{ID: 2, Summary: "broken"})
	if err != nil {
		t.Fatal(err)
	}
	waitDead(t, w, h)

	_, err = w.Result(h)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("error = %v, want stderr context", err)
	}
}

func TestUnknownHandle(t *testing.T) {
	w := testWorker(t, CommandConfig{Command: "true"})
	h := &Handle{ID: "nope", TaskID: 1}

	if w.IsAlive(h) {
		t.Error("unknown handle must not be alive")
	}
	if _, err := w.Result(h); err == nil {
		t.Error("expected error for unknown handle")
	}
}

func TestProcessManagerTracksAndKills(t *testing.T) {
	pm := NewProcessManager()
	w, err := NewCommandWorker(CommandConfig{Command: "sleep", Args: []string{"30"}}, pm, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	h, err := w.Dispatch(context.Background(), &task.Task{ID: 3, Summary: "long"})
	if err != nil {
		t.Fatal(err)
	}
	if pm.Count() != 1 {
		t.Errorf("tracked = %d, want 1", pm.Count())
	}

	if err := pm.KillAll(); err != nil {
		t.Fatal(err)
	}
	waitDead(t, w, h)
	if pm.Count() != 0 {
		t.Errorf("tracked after kill = %d, want 0", pm.Count())
	}
}

func TestTaskLocksSerializePerTask(t *testing.T) {
	locks := newTaskLocks()
	var counter int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locks.Lock(7)
			counter++
			locks.Unlock(7)
		}()
	}
	wg.Wait()

	if counter != 8 {
		t.Errorf("counter = %d, want 8", counter)
	}
}

func TestSpawnGuardGivesUpOnMissingBinary(t *testing.T) {
	w, err := NewCommandWorker(CommandConfig{Command: "taskweave-no-such-binary"}, nil, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	// Shrink the retry budget so the test does not sit in backoff.
	w.spawner.retry.MaxElapsedTime = 200 * time.Millisecond
	w.spawner.retry.InitialInterval = 10 * time.Millisecond

	if _, err := w.Dispatch(context.Background(), &task.Task{ID: 4, Summary: "doomed"}); err == nil {
		t.Error("expected spawn failure")
	}
}
