package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() int64
}

// Topic constants
const (
	TopicTask      = "task"
	TopicChain     = "chain"
	TopicReconcile = "reconcile"
)

// Event type constants
const (
	EventTypeTaskDispatched = "task.dispatched"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeTaskStalled    = "task.stalled"
	EventTypeTaskSkipped    = "task.skipped"
	EventTypeWaveStarted    = "chain.wave_started"
	EventTypeChainPhase     = "chain.phase"
	EventTypeChainStuck     = "chain.stuck"
	EventTypeReconcileRan   = "reconcile.ran"
)

// TaskDispatchedEvent is published when a task is handed to a worker.
type TaskDispatchedEvent struct {
	ID        int64
	Summary   string
	Handle    string
	Timestamp time.Time
}

func (e TaskDispatchedEvent) EventType() string { return EventTypeTaskDispatched }
func (e TaskDispatchedEvent) TaskID() int64     { return e.ID }

// TaskCompletedEvent is published when a monitored task reaches Done.
type TaskCompletedEvent struct {
	ID        int64
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() int64     { return e.ID }

// TaskStalledEvent is published when a worker finished but its task did not
// reach a terminal state.
type TaskStalledEvent struct {
	ID        int64
	Handle    string
	Timestamp time.Time
}

func (e TaskStalledEvent) EventType() string { return EventTypeTaskStalled }
func (e TaskStalledEvent) TaskID() int64     { return e.ID }

// TaskSkippedEvent is published when an operator chose to skip a stalled task.
type TaskSkippedEvent struct {
	ID        int64
	Timestamp time.Time
}

func (e TaskSkippedEvent) EventType() string { return EventTypeTaskSkipped }
func (e TaskSkippedEvent) TaskID() int64     { return e.ID }

// WaveStartedEvent is published when a chain dispatches a new frontier.
type WaveStartedEvent struct {
	Wave      int
	Tasks     []int64
	Timestamp time.Time
}

func (e WaveStartedEvent) EventType() string { return EventTypeWaveStarted }
func (e WaveStartedEvent) TaskID() int64     { return 0 }

// ChainPhaseEvent is published on every chain phase transition.
type ChainPhaseEvent struct {
	Phase     string
	Timestamp time.Time
}

func (e ChainPhaseEvent) EventType() string { return EventTypeChainPhase }
func (e ChainPhaseEvent) TaskID() int64     { return 0 }

// BlockedTask names one blocked task and why, for stuck reports.
type BlockedTask struct {
	ID     int64
	Reason string
}

// ChainStuckEvent is published when a chain has work remaining but an empty
// frontier.
type ChainStuckEvent struct {
	Blocked   []BlockedTask
	Timestamp time.Time
}

func (e ChainStuckEvent) EventType() string { return EventTypeChainStuck }
func (e ChainStuckEvent) TaskID() int64     { return 0 }

// ReconcileRanEvent is published after a reconciliation sweep.
type ReconcileRanEvent struct {
	CascadeClosed   int
	Expired         int
	ScoresRefreshed int
	Timestamp       time.Time
}

func (e ReconcileRanEvent) EventType() string { return EventTypeReconcileRan }
func (e ReconcileRanEvent) TaskID() int64     { return 0 }
