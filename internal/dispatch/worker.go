// Package dispatch is the narrow boundary through which the scheduler hands a
// task to an external executor and later learns whether it finished. Workers
// are opaque: the scheduler observes task-level completion through the graph
// store and worker liveness through this interface, nothing more.
package dispatch

import (
	"context"
	"errors"

	"github.com/evanray/taskweave/internal/task"
)

// ErrStillRunning is returned by Result while the worker is alive.
var ErrStillRunning = errors.New("worker is still running")

// Handle identifies one dispatched worker.
type Handle struct {
	ID     string
	TaskID int64
}

// Worker is the dispatch boundary. A concrete executor may be a subprocess,
// a remote job, or a human; the scheduler only requires that it eventually
// causes the task's status to change — or does not, which is a stall.
type Worker interface {
	// Dispatch hands a task to the executor and returns immediately.
	Dispatch(ctx context.Context, t *task.Task) (*Handle, error)

	// IsAlive reports whether the worker behind the handle is still running.
	IsAlive(h *Handle) bool

	// Result returns the worker's output once it has finished, or
	// ErrStillRunning while it is alive.
	Result(h *Handle) (string, error)
}
