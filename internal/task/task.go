// Package task defines the core vocabulary of the tracker: tasks, typed
// dependency edges, external blockers, work sessions, and the status state
// machine that governs lifecycle transitions.
package task

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a task. Done is terminal.
type Status string

const (
	StatusToDo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

// Priority is the operator-assigned value band of a task.
type Priority string

const (
	PriorityHighest Priority = "highest"
	PriorityHigh    Priority = "high"
	PriorityMedium  Priority = "medium"
	PriorityLow     Priority = "low"
	PriorityLowest  Priority = "lowest"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityHighest, PriorityHigh, PriorityMedium, PriorityLow, PriorityLowest:
		return true
	}
	return false
}

// Complexity is a t-shirt-size cost-of-delay proxy. Empty means unset.
type Complexity string

const (
	ComplexityXS Complexity = "xs"
	ComplexityS  Complexity = "s"
	ComplexityM  Complexity = "m"
	ComplexityL  Complexity = "l"
	ComplexityXL Complexity = "xl"
)

// IsValid reports whether c is a known size or unset.
func (c Complexity) IsValid() bool {
	switch c {
	case "", ComplexityXS, ComplexityS, ComplexityM, ComplexityL, ComplexityXL:
		return true
	}
	return false
}

// RelationType categorizes a dependency edge. Blocking edges gate readiness;
// contingent edges are advisory and only participate in cycle detection and
// cascade reconciliation.
type RelationType string

const (
	RelationBlocking   RelationType = "blocking"
	RelationContingent RelationType = "contingent"
)

// IsValid reports whether r is a known relation type.
func (r RelationType) IsValid() bool {
	return r == RelationBlocking || r == RelationContingent
}

// Well-known closure reasons. The vocabulary is extensible via configuration
// (see ReasonSet) but must never be empty when a task reaches Done.
const (
	ReasonCompleted = "completed"
	ReasonExpired   = "expired"
	ReasonAbandoned = "abandoned"
	ReasonDuplicate = "duplicate"
	ReasonCascade   = "cascade"
)

// ReasonSet is the compiled closure-reason vocabulary, built from defaults plus
// configuration at process start and passed by reference to the store.
type ReasonSet struct {
	allowed map[string]bool
	moot    map[string]bool
}

// NewReasonSet builds a reason set from the allowed vocabulary and the subset
// considered "moot" for cascade purposes. The built-in reasons are always
// allowed.
func NewReasonSet(extra []string, moot []string) *ReasonSet {
	rs := &ReasonSet{
		allowed: map[string]bool{
			ReasonCompleted: true,
			ReasonExpired:   true,
			ReasonAbandoned: true,
			ReasonDuplicate: true,
			ReasonCascade:   true,
		},
		moot: make(map[string]bool),
	}
	for _, r := range extra {
		rs.allowed[r] = true
	}
	if len(moot) == 0 {
		moot = []string{ReasonAbandoned, ReasonExpired}
	}
	for _, r := range moot {
		rs.moot[r] = true
	}
	return rs
}

// Allows reports whether reason is part of the vocabulary.
func (rs *ReasonSet) Allows(reason string) bool {
	return rs.allowed[reason]
}

// Moot reports whether a task closed with reason should cascade-close its
// contingent dependents.
func (rs *ReasonSet) Moot(reason string) bool {
	return rs.moot[reason]
}

// Task is a unit of work.
type Task struct {
	ID            int64
	Summary       string
	Description   string
	Status        Status
	Priority      Priority
	Complexity    Complexity
	Deferred      bool
	Assignee      string
	PriorityScore int
	ClosedReason  string
	ClosedNote    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Open reports whether the task has not reached its terminal state.
func (t *Task) Open() bool {
	return t.Status != StatusDone
}

// Edge is a directed dependency: Task depends on DependsOn.
type Edge struct {
	TaskID      int64
	DependsOnID int64
	Type        RelationType
	CreatedAt   time.Time
}

// ExternalBlocker is an obstacle outside the graph attached to one task. An
// unresolved blocker excludes the task from readiness regardless of
// dependency state.
type ExternalBlocker struct {
	ID          int64
	TaskID      int64
	Description string
	Resolved    bool
	CreatedAt   time.Time
	ResolvedAt  time.Time
}

// WorkSession records one active execution of a task. At most one session per
// task may be open at a time; the store enforces this with a uniqueness
// constraint so it holds across processes.
type WorkSession struct {
	ID        string
	TaskID    int64
	Worker    string
	StartedAt time.Time
	EndedAt   time.Time
	Ended     bool
}

// Sentinel errors for state-machine violations.
var (
	ErrIllegalTransition    = errors.New("illegal status transition")
	ErrClosedReasonRequired = errors.New("closing a task requires a closure reason")
	ErrUnknownClosedReason  = errors.New("closure reason is not in the allowed vocabulary")
)

// CanTransition reports whether the normal state machine permits from -> to.
// Self-transitions are permitted no-ops. Done is terminal and InProgress never
// returns to ToDo; only the force-reopen escape hatch bypasses this.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusToDo:
		return to == StatusInProgress || to == StatusDone
	case StatusInProgress:
		return to == StatusDone
	}
	return false
}

// ValidateTransition checks a status write against the state machine and the
// Done-requires-reason rule. reasons may be nil, in which case only the
// built-in vocabulary is accepted.
func ValidateTransition(from, to Status, reason string, reasons *ReasonSet) error {
	if !to.IsValid() {
		return fmt.Errorf("status %q: %w", to, ErrIllegalTransition)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrIllegalTransition)
	}
	if to != StatusDone {
		return nil
	}
	if reason == "" {
		return ErrClosedReasonRequired
	}
	if reasons == nil {
		reasons = NewReasonSet(nil, nil)
	}
	if !reasons.Allows(reason) {
		return fmt.Errorf("%q: %w", reason, ErrUnknownClosedReason)
	}
	return nil
}
