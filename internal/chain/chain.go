// Package chain drives wave-by-wave execution of the downstream sub-graph of
// one or more head tasks: scope computation, frontier dispatch to external
// workers, stall handling, and final consolidation.
package chain

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/evanray/taskweave/internal/dispatch"
	"github.com/evanray/taskweave/internal/graph"
	"github.com/evanray/taskweave/internal/reconcile"
	"github.com/evanray/taskweave/internal/score"
	"github.com/evanray/taskweave/internal/task"
)

// Phase is the chain run state machine.
type Phase string

const (
	PhaseScoping        Phase = "scoping"
	PhaseExecutingHeads Phase = "executing_heads"
	PhaseWaveLoop       Phase = "wave_loop"
	PhaseConsolidating  Phase = "consolidating"
	PhaseDone           Phase = "done"
	PhaseStuck          Phase = "stuck"
	PhaseAborted        Phase = "aborted"
)

// ErrAborted is returned when the operator aborts the chain. Already-running
// external workers are left to finish or be abandoned; the scheduler has no
// authority over them.
var ErrAborted = errors.New("chain aborted by operator")

// Decision is the operator's answer to a stall. There is no automatic
// default: repeated silent retries against a non-deterministic worker can
// mask a genuine blocker, so every stall requires an explicit choice.
type Decision int

const (
	// DecisionResume re-dispatches the same task, relying on idempotent
	// task resumption in the worker.
	DecisionResume Decision = iota
	// DecisionSkip leaves the task open and lets the chain proceed.
	DecisionSkip
	// DecisionAbort stops the whole chain.
	DecisionAbort
)

// Stall describes a worker that finished without its task reaching Done.
type Stall struct {
	TaskID  int64
	Summary string
	Handle  *dispatch.Handle
	Output  string // worker output, when available
}

// Decider supplies the operator's stall decisions.
type Decider interface {
	Decide(ctx context.Context, s Stall) (Decision, error)
}

// Config tunes a chain run.
type Config struct {
	// PollInterval is how often monitored tasks are re-checked. There is no
	// push-based completion notification; polling keeps the scheduler
	// decoupled from worker implementation.
	PollInterval time.Duration

	// Concurrency bounds parallel workers per wave.
	Concurrency int

	// Policy is the readiness-gating policy for frontier computation.
	Policy graph.Policy

	// Reasons and Weights feed the consolidation sweep.
	Reasons *task.ReasonSet
	Weights score.Weights

	// ExpireAfter is passed through to the consolidation sweep.
	ExpireAfter time.Duration

	Logger zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// BlockedInfo names one blocked task in a stuck report.
type BlockedInfo struct {
	ID      int64
	Summary string
	Reason  graph.BlockReason
	On      []int64
}

// Report is the outcome of a chain run.
type Report struct {
	Phase      Phase
	Waves      int
	Dispatched []int64
	Skipped    []int64
	Stuck      []BlockedInfo
	Reconcile  reconcile.Result
}
