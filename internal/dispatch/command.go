package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/evanray/taskweave/internal/task"
)

// CommandConfig describes the external worker command. Args may contain
// {{id}} and {{summary}} placeholders, substituted per task.
type CommandConfig struct {
	Command string
	Args    []string
	WorkDir string
}

// run is the in-memory record of one dispatched subprocess.
type run struct {
	cmd    *exec.Cmd
	done   chan struct{}
	output string
	err    error
}

// CommandWorker dispatches each task to a configured command in its own
// process group. What the command does is its business; the scheduler only
// watches the task's status afterwards.
type CommandWorker struct {
	cfg     CommandConfig
	pm      *ProcessManager
	locks   *taskLocks
	spawner *spawnGuard
	log     zerolog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

// NewCommandWorker creates a CommandWorker. pm may be shared with other
// components so shutdown can kill every tracked subprocess.
func NewCommandWorker(cfg CommandConfig, pm *ProcessManager, log zerolog.Logger) (*CommandWorker, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("worker command is required")
	}
	if pm == nil {
		pm = NewProcessManager()
	}
	return &CommandWorker{
		cfg:     cfg,
		pm:      pm,
		locks:   newTaskLocks(),
		spawner: newSpawnGuard(cfg.Command, DefaultRetryConfig(), log),
		log:     log,
		runs:    make(map[string]*run),
	}, nil
}

// Dispatch starts the worker command for a task and returns a handle without
// waiting for completion. Spawn failures are retried behind the spawn guard;
// anything after a successful start is the worker's own affair.
func (w *CommandWorker) Dispatch(ctx context.Context, t *task.Task) (*Handle, error) {
	w.locks.Lock(t.ID)
	defer w.locks.Unlock(t.ID)

	args := make([]string, 0, len(w.cfg.Args))
	for _, a := range w.cfg.Args {
		a = strings.ReplaceAll(a, "{{id}}", strconv.FormatInt(t.ID, 10))
		a = strings.ReplaceAll(a, "{{summary}}", t.Summary)
		args = append(args, a)
	}

	r, err := w.spawner.spawn(ctx, func() (*run, error) {
		return w.start(ctx, args)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch task %d: %w", t.ID, err)
	}

	h := &Handle{ID: uuid.NewString(), TaskID: t.ID}
	w.mu.Lock()
	w.runs[h.ID] = r
	w.mu.Unlock()

	w.log.Info().Int64("task", t.ID).Str("handle", h.ID).Msg("dispatched worker")
	return h, nil
}

// start launches the subprocess and begins draining its pipes concurrently,
// so output beyond the pipe buffer capacity cannot deadlock the worker.
func (w *CommandWorker) start(ctx context.Context, args []string) (*run, error) {
	cmd := newCommand(ctx, w.cfg.Command, args...)
	if w.cfg.WorkDir != "" {
		cmd.Dir = w.cfg.WorkDir
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker command: %w", err)
	}
	w.pm.Track(cmd)

	r := &run{cmd: cmd, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		defer w.pm.Untrack(cmd)

		var stdout, stderr bytes.Buffer
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			io.Copy(&stdout, stdoutPipe)
		}()
		go func() {
			defer wg.Done()
			io.Copy(&stderr, stderrPipe)
		}()
		wg.Wait()

		waitErr := cmd.Wait()
		r.output = stdout.String()
		if waitErr != nil {
			if stderr.Len() > 0 {
				r.err = fmt.Errorf("worker command failed: %w (stderr: %s)", waitErr, stderr.String())
			} else {
				r.err = fmt.Errorf("worker command failed: %w", waitErr)
			}
		}
	}()

	return r, nil
}

// IsAlive reports whether the worker behind h is still running. An unknown
// handle is not alive.
func (w *CommandWorker) IsAlive(h *Handle) bool {
	w.mu.Lock()
	r, ok := w.runs[h.ID]
	w.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Result returns the worker's stdout once it has exited, or ErrStillRunning.
func (w *CommandWorker) Result(h *Handle) (string, error) {
	w.mu.Lock()
	r, ok := w.runs[h.ID]
	w.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("unknown worker handle %s", h.ID)
	}
	select {
	case <-r.done:
		return r.output, r.err
	default:
		return "", ErrStillRunning
	}
}
