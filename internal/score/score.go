// Package score implements the WSJF priority scorer: value signals summed
// into a raw score, divided by a complexity weight so small high-value tasks
// outrank large ones of similar priority.
package score

import (
	"context"
	"math"

	"github.com/evanray/taskweave/internal/graph"
	"github.com/evanray/taskweave/internal/store"
	"github.com/evanray/taskweave/internal/task"
)

// Weights are the scoring constants, compiled from configuration at process
// start and passed by value to keep scoring deterministic per run.
type Weights struct {
	Base              map[task.Priority]int
	ActiveBonus       int // added when the task is not flagged deferred
	UnblocksBonus     int // per direct dependent
	UnblocksCap       int
	ContingentPenalty int // subtracted for contingent-only dependency profiles
	Complexity        map[task.Complexity]int
	DefaultComplexity int
}

// DefaultWeights returns the standard WSJF constants.
func DefaultWeights() Weights {
	return Weights{
		Base: map[task.Priority]int{
			task.PriorityHighest: 100,
			task.PriorityHigh:    80,
			task.PriorityMedium:  60,
			task.PriorityLow:     40,
			task.PriorityLowest:  20,
		},
		ActiveBonus:       10,
		UnblocksBonus:     5,
		UnblocksCap:       15,
		ContingentPenalty: 10,
		Complexity: map[task.Complexity]int{
			task.ComplexityXS: 1,
			task.ComplexityS:  2,
			task.ComplexityM:  3,
			task.ComplexityL:  5,
			task.ComplexityXL: 8,
		},
		DefaultComplexity: 3,
	}
}

// Score computes the WSJF rank for one task given its edge profile.
// directDependents counts tasks that directly depend on it (any edge type);
// hasBlocking/hasContingent describe the task's own dependencies.
func Score(t *task.Task, directDependents int, hasBlocking, hasContingent bool, w Weights) int {
	raw := w.Base[t.Priority]

	// Deferred work is deliberately down-ranked.
	if !t.Deferred {
		raw += w.ActiveBonus
	}

	unblocks := directDependents * w.UnblocksBonus
	if unblocks > w.UnblocksCap {
		unblocks = w.UnblocksCap
	}
	raw += unblocks

	// Work whose necessity is still uncertain scores lower.
	if hasContingent && !hasBlocking {
		raw -= w.ContingentPenalty
	}

	weight, ok := w.Complexity[t.Complexity]
	if !ok || weight <= 0 {
		weight = w.DefaultComplexity
	}

	return int(math.Round(float64(raw) / float64(weight)))
}

// ScoreAll computes scores for every open task in the snapshot.
func ScoreAll(snap *graph.Snapshot, tasks []*task.Task, w Weights) map[int64]int {
	scores := make(map[int64]int)
	for _, t := range tasks {
		if !t.Open() {
			continue
		}
		var hasBlocking, hasContingent bool
		for _, e := range snap.DependsOn(t.ID) {
			switch e.Type {
			case task.RelationBlocking:
				hasBlocking = true
			case task.RelationContingent:
				hasContingent = true
			}
		}
		scores[t.ID] = Score(t, len(snap.Dependents(t.ID)), hasBlocking, hasContingent, w)
	}
	return scores
}

// RecomputeAll refreshes the cached priority_score for all open tasks. The
// whole open set is recomputed rather than incrementally patched; it is
// O(tasks) and tasks are bounded in the hundreds.
func RecomputeAll(ctx context.Context, st store.Store, w Weights) (int, error) {
	data, err := st.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	snap := graph.NewSnapshot(data.Tasks, data.Edges, data.Blockers)
	scores := ScoreAll(snap, data.Tasks, w)
	if err := st.SetPriorityScores(ctx, scores); err != nil {
		return 0, err
	}
	return len(scores), nil
}
