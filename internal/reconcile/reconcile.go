// Package reconcile implements the batch reconciliation sweep: cascade-close
// contingent dependents of moot upstream closures, expire stale deferred
// work, and refresh cached priority scores. The sweep is deliberately not a
// live trigger — it is idempotent and safe to invoke repeatedly, so a missed
// event cannot skip it and a repeat cannot double-apply it.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/evanray/taskweave/internal/graph"
	"github.com/evanray/taskweave/internal/score"
	"github.com/evanray/taskweave/internal/store"
	"github.com/evanray/taskweave/internal/task"
)

// Config tunes the sweep.
type Config struct {
	// Reasons decides which upstream closure reasons count as moot.
	Reasons *task.ReasonSet

	// ExpireAfter closes deferred ToDo tasks untouched for longer than this.
	// Zero disables expiry.
	ExpireAfter time.Duration

	// Weights for the score refresh that ends the sweep.
	Weights score.Weights

	Logger zerolog.Logger
}

// Result counts affected tasks per category, for observability.
type Result struct {
	CascadeClosed   int
	Expired         int
	ScoresRefreshed int
}

// Run executes one reconciliation pass. Only open tasks are acted on, which
// is what makes repeated invocation safe.
func Run(ctx context.Context, st store.Store, cfg Config) (Result, error) {
	var res Result

	reasons := cfg.Reasons
	if reasons == nil {
		reasons = task.NewReasonSet(nil, nil)
	}

	data, err := st.Snapshot(ctx)
	if err != nil {
		return res, err
	}
	snap := graph.NewSnapshot(data.Tasks, data.Edges, data.Blockers)

	// Cascade: open tasks with a contingent dependency on an upstream that
	// closed as moot no longer have a justification to exist.
	for _, t := range data.Tasks {
		if !t.Open() {
			continue
		}
		upstream := mootUpstream(snap, t.ID, reasons)
		if upstream == nil {
			continue
		}
		note := fmt.Sprintf("contingent on task %d, closed %s", upstream.ID, upstream.ClosedReason)
		if err := st.SetStatus(ctx, t.ID, task.StatusDone, task.ReasonCascade, note); err != nil {
			return res, fmt.Errorf("failed to cascade-close task %d: %w", t.ID, err)
		}
		cfg.Logger.Info().Int64("task", t.ID).Int64("upstream", upstream.ID).
			Str("upstream_reason", upstream.ClosedReason).Msg("cascade-closed task")
		res.CascadeClosed++
	}

	// Expiry: deferred backlog that nobody has touched within the window.
	if cfg.ExpireAfter > 0 {
		cutoff := time.Now().Add(-cfg.ExpireAfter)
		for _, t := range data.Tasks {
			if t.Status != task.StatusToDo || !t.Deferred {
				continue
			}
			if t.UpdatedAt.After(cutoff) {
				continue
			}
			note := fmt.Sprintf("untouched since %s", t.UpdatedAt.Format(time.RFC3339))
			if err := st.SetStatus(ctx, t.ID, task.StatusDone, task.ReasonExpired, note); err != nil {
				return res, fmt.Errorf("failed to expire task %d: %w", t.ID, err)
			}
			cfg.Logger.Info().Int64("task", t.ID).Msg("expired stale deferred task")
			res.Expired++
		}
	}

	// Closures above may have shifted rankings; refresh the cached scores.
	n, err := score.RecomputeAll(ctx, st, cfg.Weights)
	if err != nil {
		return res, err
	}
	res.ScoresRefreshed = n

	return res, nil
}

// mootUpstream returns the first contingent prerequisite of id that is Done
// with a moot closure reason, or nil.
func mootUpstream(snap *graph.Snapshot, id int64, reasons *task.ReasonSet) *task.Task {
	for _, e := range snap.DependsOn(id) {
		if e.Type != task.RelationContingent {
			continue
		}
		dep, ok := snap.Task(e.DependsOnID)
		if !ok || dep.Status != task.StatusDone {
			continue
		}
		if reasons.Moot(dep.ClosedReason) {
			return dep
		}
	}
	return nil
}
