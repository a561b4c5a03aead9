package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evanray/taskweave/internal/dispatch"
	"github.com/evanray/taskweave/internal/events"
	"github.com/evanray/taskweave/internal/graph"
	"github.com/evanray/taskweave/internal/reconcile"
	"github.com/evanray/taskweave/internal/store"
	"github.com/evanray/taskweave/internal/task"
)

// Runner executes one chain: scope, head wave, frontier waves, consolidation.
type Runner struct {
	st      store.Store
	worker  dispatch.Worker
	decider Decider
	bus     *events.Bus
	cfg     Config

	mu      sync.Mutex
	skipped map[int64]bool
	report  Report
}

// New creates a chain runner. bus may be nil when nothing observes the run.
func New(st store.Store, worker dispatch.Worker, decider Decider, bus *events.Bus, cfg Config) *Runner {
	if bus == nil {
		bus = events.NewBus()
	}
	return &Runner{
		st:      st,
		worker:  worker,
		decider: decider,
		bus:     bus,
		cfg:     cfg.withDefaults(),
		skipped: make(map[int64]bool),
	}
}

// Run drives the chain for the given head tasks until it is done, stuck, or
// aborted. A stuck chain is reported, not an error: only the operator can
// judge what to do with it. Abort returns ErrAborted.
func (r *Runner) Run(ctx context.Context, heads []int64) (*Report, error) {
	if len(heads) == 0 {
		return nil, fmt.Errorf("chain requires at least one head task")
	}

	// Scope: BFS along depended-on-by edges, fixed for the whole run.
	r.setPhase(PhaseScoping)
	snap, err := r.snapshot(ctx)
	if err != nil {
		return &r.report, err
	}
	scopeEntries, err := snap.Scope(heads)
	if err != nil {
		return &r.report, err
	}
	scope := make(map[int64]bool, len(scopeEntries))
	for _, e := range scopeEntries {
		scope[e.ID] = true
	}
	r.cfg.Logger.Info().Ints64("heads", heads).Int("scope", len(scopeEntries)).Msg("chain scoped")

	// Heads run first and must reach Done before any dependent enters a
	// frontier.
	r.setPhase(PhaseExecutingHeads)
	var headWave []int64
	for _, id := range heads {
		t, ok := snap.Task(id)
		if !ok {
			return &r.report, fmt.Errorf("unknown head task %d", id)
		}
		if t.Status != task.StatusDone {
			headWave = append(headWave, id)
		}
	}
	if err := r.runWave(ctx, headWave); err != nil {
		return r.finish(err)
	}

	r.setPhase(PhaseWaveLoop)
	for {
		if err := ctx.Err(); err != nil {
			return &r.report, err
		}

		snap, err := r.snapshot(ctx)
		if err != nil {
			return &r.report, err
		}

		frontier := r.frontier(snap, scope)
		if len(frontier) == 0 {
			if r.remaining(snap, scope) == 0 {
				break // every task in scope is Done or explicitly skipped
			}
			return r.stuck(snap, scope)
		}

		if err := r.runWave(ctx, frontier); err != nil {
			return r.finish(err)
		}
	}

	// Consolidation: the batched deferred actions accumulated during the
	// chain run as one atomic-feeling step instead of per-task overhead.
	r.setPhase(PhaseConsolidating)
	res, err := reconcile.Run(ctx, r.st, reconcile.Config{
		Reasons:     r.cfg.Reasons,
		ExpireAfter: r.cfg.ExpireAfter,
		Weights:     r.cfg.Weights,
		Logger:      r.cfg.Logger,
	})
	if err != nil {
		return &r.report, err
	}
	r.report.Reconcile = res
	r.bus.Publish(events.TopicReconcile, events.ReconcileRanEvent{
		CascadeClosed:   res.CascadeClosed,
		Expired:         res.Expired,
		ScoresRefreshed: res.ScoresRefreshed,
		Timestamp:       time.Now(),
	})

	r.setPhase(PhaseDone)
	return &r.report, nil
}

func (r *Runner) snapshot(ctx context.Context) (*graph.Snapshot, error) {
	data, err := r.st.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return graph.NewSnapshot(data.Tasks, data.Edges, data.Blockers), nil
}

// frontier is ready ∩ scope minus tasks the operator skipped.
func (r *Runner) frontier(snap *graph.Snapshot, scope map[int64]bool) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for _, e := range snap.Ready(r.cfg.Policy) {
		if scope[e.ID] && !r.skipped[e.ID] {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// remaining counts scope tasks that are neither Done nor skipped.
func (r *Runner) remaining(snap *graph.Snapshot, scope map[int64]bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id := range scope {
		t, ok := snap.Task(id)
		if !ok {
			continue
		}
		if t.Status != task.StatusDone && !r.skipped[id] {
			n++
		}
	}
	return n
}

// runWave dispatches every task in the wave concurrently and blocks until
// each one is Done or explicitly skipped. There is no ordering guarantee
// within a wave.
func (r *Runner) runWave(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	r.report.Waves++
	wave := r.report.Waves
	r.bus.Publish(events.TopicChain, events.WaveStartedEvent{
		Wave: wave, Tasks: ids, Timestamp: time.Now(),
	})
	r.cfg.Logger.Info().Int("wave", wave).Ints64("tasks", ids).Msg("dispatching wave")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return r.runTask(gctx, id)
		})
	}
	return g.Wait()
}

// runTask dispatches one task and monitors it to completion, routing stalls
// through the decider.
func (r *Runner) runTask(ctx context.Context, id int64) error {
	t, err := r.st.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Status == task.StatusDone {
		return nil
	}

	// The uniqueness constraint makes this safe against concurrent starters;
	// losing the race means adopting the winner's session.
	if _, err := r.st.StartSession(ctx, id, "chain"); err != nil {
		return err
	}

	handle, err := r.worker.Dispatch(ctx, t)
	if err != nil {
		return fmt.Errorf("task %d: %w", id, err)
	}
	r.recordDispatch(id)
	started := time.Now()
	r.bus.Publish(events.TopicTask, events.TaskDispatchedEvent{
		ID: id, Summary: t.Summary, Handle: handle.ID, Timestamp: started,
	})

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cur, err := r.st.GetTask(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status == task.StatusDone {
			r.bus.Publish(events.TopicTask, events.TaskCompletedEvent{
				ID: id, Duration: time.Since(started), Timestamp: time.Now(),
			})
			return nil
		}

		if r.worker.IsAlive(handle) {
			continue
		}

		// Worker finished without the task reaching Done: a stall, not a
		// structural error. Surface it and wait for an explicit choice.
		output, _ := r.worker.Result(handle)
		r.bus.Publish(events.TopicTask, events.TaskStalledEvent{
			ID: id, Handle: handle.ID, Timestamp: time.Now(),
		})
		r.cfg.Logger.Warn().Int64("task", id).Str("handle", handle.ID).Msg("worker stalled")

		decision, err := r.decider.Decide(ctx, Stall{
			TaskID: id, Summary: cur.Summary, Handle: handle, Output: output,
		})
		if err != nil {
			return err
		}

		switch decision {
		case DecisionResume:
			handle, err = r.worker.Dispatch(ctx, cur)
			if err != nil {
				return fmt.Errorf("task %d: %w", id, err)
			}
			r.bus.Publish(events.TopicTask, events.TaskDispatchedEvent{
				ID: id, Summary: cur.Summary, Handle: handle.ID, Timestamp: time.Now(),
			})
		case DecisionSkip:
			r.markSkipped(id)
			if err := r.st.EndSession(ctx, id); err != nil {
				return err
			}
			r.bus.Publish(events.TopicTask, events.TaskSkippedEvent{ID: id, Timestamp: time.Now()})
			return nil
		case DecisionAbort:
			return ErrAborted
		default:
			return fmt.Errorf("unknown stall decision %d for task %d", decision, id)
		}
	}
}

// stuck reports a frontier that is empty while work remains.
func (r *Runner) stuck(snap *graph.Snapshot, scope map[int64]bool) (*Report, error) {
	var blocked []BlockedInfo
	var evBlocked []events.BlockedTask
	for _, b := range snap.Blocked(r.cfg.Policy) {
		if !scope[b.ID] || r.isSkipped(b.ID) {
			continue
		}
		blocked = append(blocked, BlockedInfo{
			ID: b.ID, Summary: b.Summary, Reason: b.Reason, On: b.BlockedOn,
		})
		evBlocked = append(evBlocked, events.BlockedTask{ID: b.ID, Reason: string(b.Reason)})
	}

	r.report.Stuck = blocked
	r.setPhase(PhaseStuck)
	r.bus.Publish(events.TopicChain, events.ChainStuckEvent{Blocked: evBlocked, Timestamp: time.Now()})
	r.cfg.Logger.Warn().Int("blocked", len(blocked)).Msg("chain stuck: empty frontier with work remaining")
	return &r.report, nil
}

// finish maps a wave error to the terminal phase.
func (r *Runner) finish(err error) (*Report, error) {
	if errors.Is(err, ErrAborted) {
		r.setPhase(PhaseAborted)
	}
	return &r.report, err
}

func (r *Runner) setPhase(p Phase) {
	r.report.Phase = p
	r.bus.Publish(events.TopicChain, events.ChainPhaseEvent{Phase: string(p), Timestamp: time.Now()})
	r.cfg.Logger.Debug().Str("phase", string(p)).Msg("chain phase")
}

func (r *Runner) recordDispatch(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Dispatched = append(r.report.Dispatched, id)
}

func (r *Runner) markSkipped(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped[id] = true
	r.report.Skipped = append(r.report.Skipped, id)
}

func (r *Runner) isSkipped(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.skipped[id]
}
