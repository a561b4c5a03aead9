// Package graph holds the pure derivations over a loaded slice of tracker
// state: cycle checks, readiness, chain scope, and frontier computation. A
// Snapshot is immutable once built; callers reload rather than patch, because
// the graph mutates rarely relative to how often it is queried.
package graph

import (
	"fmt"
	"sort"

	"github.com/gammazero/toposort"

	"github.com/evanray/taskweave/internal/task"
)

// Policy names the readiness-gating behavior for contingent edges. Two
// iterations of this tracker disagreed on whether contingent edges gate
// readiness; the flag keeps both behaviors assertable.
type Policy struct {
	// ContingentGates makes contingent edges gate readiness like blocking
	// edges. Default false: contingent edges participate only in cycle
	// detection and cascade reconciliation.
	ContingentGates bool
}

// Snapshot is a point-in-time view of tasks, edges, and unresolved external
// blocker counts.
type Snapshot struct {
	tasks      map[int64]*task.Task
	dependsOn  map[int64][]task.Edge // taskID -> edges it depends on
	dependents map[int64][]task.Edge // taskID -> edges depending on it
	blockers   map[int64]int         // taskID -> unresolved external blockers
}

// NewSnapshot indexes tasks, edges, and unresolved blocker counts.
func NewSnapshot(tasks []*task.Task, edges []task.Edge, unresolvedBlockers map[int64]int) *Snapshot {
	s := &Snapshot{
		tasks:      make(map[int64]*task.Task, len(tasks)),
		dependsOn:  make(map[int64][]task.Edge),
		dependents: make(map[int64][]task.Edge),
		blockers:   make(map[int64]int, len(unresolvedBlockers)),
	}
	for _, t := range tasks {
		s.tasks[t.ID] = t
	}
	for _, e := range edges {
		s.dependsOn[e.TaskID] = append(s.dependsOn[e.TaskID], e)
		s.dependents[e.DependsOnID] = append(s.dependents[e.DependsOnID], e)
	}
	for id, n := range unresolvedBlockers {
		s.blockers[id] = n
	}
	return s
}

// Task returns the task by id.
func (s *Snapshot) Task(id int64) (*task.Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// Dependents returns the edges whose prerequisite is id.
func (s *Snapshot) Dependents(id int64) []task.Edge {
	return s.dependents[id]
}

// DependsOn returns the edges id depends on.
func (s *Snapshot) DependsOn(id int64) []task.Edge {
	return s.dependsOn[id]
}

// UnresolvedBlockers returns the count of unresolved external blockers on id.
func (s *Snapshot) UnresolvedBlockers(id int64) int {
	return s.blockers[id]
}

// WouldCycle reports whether adding an edge taskID -> dependsOnID (taskID
// depends on dependsOnID) would close a cycle. It walks existing edges in the
// depends-on direction from dependsOnID with an explicit stack; if taskID is
// reachable, the edge is rejected. Both edge types participate.
func (s *Snapshot) WouldCycle(taskID, dependsOnID int64) bool {
	if taskID == dependsOnID {
		return true
	}

	stack := []int64{dependsOnID}
	visited := make(map[int64]bool)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == taskID {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		for _, e := range s.dependsOn[cur] {
			if !visited[e.DependsOnID] {
				stack = append(stack, e.DependsOnID)
			}
		}
	}
	return false
}

// BlockReason tags why a task is excluded from the ready set.
type BlockReason string

const (
	BlockedByDependency BlockReason = "dependency"
	BlockedExternally   BlockReason = "external"
)

// Entry is a readiness or scope query result row.
type Entry struct {
	ID         int64
	Summary    string
	Priority   task.Priority
	Complexity task.Complexity
	Assignee   string
	Depth      int // scope queries only
}

// BlockedEntry is a blocked-set row with its reason and the blocking ids.
type BlockedEntry struct {
	Entry
	Reason     BlockReason
	BlockedOn  []int64 // unfinished prerequisite task ids, for dependency blocks
	BlockerIDs []int64 // unresolved external blocker ids are counted, not listed here
}

func entryFor(t *task.Task) Entry {
	return Entry{
		ID:         t.ID,
		Summary:    t.Summary,
		Priority:   t.Priority,
		Complexity: t.Complexity,
		Assignee:   t.Assignee,
	}
}

// gating returns the unfinished prerequisites that gate t under pol.
func (s *Snapshot) gating(t *task.Task, pol Policy) []int64 {
	var open []int64
	for _, e := range s.dependsOn[t.ID] {
		if e.Type == task.RelationContingent && !pol.ContingentGates {
			continue
		}
		dep, ok := s.tasks[e.DependsOnID]
		if !ok || dep.Status != task.StatusDone {
			open = append(open, e.DependsOnID)
		}
	}
	return open
}

// Ready returns the tasks eligible to start right now: status ToDo, no
// unresolved external blocker, and no gating dependency whose prerequisite is
// not Done. Results are sorted by cached priority score, highest first, with
// id as the tiebreaker.
func (s *Snapshot) Ready(pol Policy) []Entry {
	ready := []Entry{}
	for _, t := range s.tasks {
		if t.Status != task.StatusToDo {
			continue
		}
		if s.blockers[t.ID] > 0 {
			continue
		}
		if len(s.gating(t, pol)) > 0 {
			continue
		}
		ready = append(ready, entryFor(t))
	}
	sort.Slice(ready, func(i, j int) bool {
		si, sj := s.tasks[ready[i].ID].PriorityScore, s.tasks[ready[j].ID].PriorityScore
		if si != sj {
			return si > sj
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// Blocked returns the open tasks excluded from the ready set, each tagged
// with why. External blockers take precedence in the tag when both apply.
func (s *Snapshot) Blocked(pol Policy) []BlockedEntry {
	blocked := []BlockedEntry{}
	for _, t := range s.tasks {
		if t.Status == task.StatusDone {
			continue
		}
		gating := s.gating(t, pol)
		external := s.blockers[t.ID] > 0
		if t.Status == task.StatusToDo && !external && len(gating) == 0 {
			continue // ready, not blocked
		}
		if t.Status == task.StatusInProgress && !external && len(gating) == 0 {
			continue // running, not blocked
		}
		be := BlockedEntry{Entry: entryFor(t), BlockedOn: gating}
		if external {
			be.Reason = BlockedExternally
		} else {
			be.Reason = BlockedByDependency
		}
		blocked = append(blocked, be)
	}
	sort.Slice(blocked, func(i, j int) bool { return blocked[i].ID < blocked[j].ID })
	return blocked
}

// Scope computes the chain scope for a head set: the heads plus every task
// that directly or transitively depends on any of them, found by breadth-first
// traversal along depended-on-by edges. Depth 0 is a head. Unknown head ids
// are an error.
func (s *Snapshot) Scope(heads []int64) ([]Entry, error) {
	type qitem struct {
		id    int64
		depth int
	}
	var queue []qitem
	seen := make(map[int64]int)
	for _, h := range heads {
		if _, ok := s.tasks[h]; !ok {
			return nil, fmt.Errorf("unknown head task %d", h)
		}
		if _, dup := seen[h]; !dup {
			seen[h] = 0
			queue = append(queue, qitem{h, 0})
		}
	}

	var out []Entry
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		t := s.tasks[cur.id]
		e := entryFor(t)
		e.Depth = cur.depth
		out = append(out, e)
		for _, edge := range s.dependents[cur.id] {
			if _, dup := seen[edge.TaskID]; dup {
				continue
			}
			seen[edge.TaskID] = cur.depth + 1
			queue = append(queue, qitem{edge.TaskID, cur.depth + 1})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Frontier returns ready ∩ scope: the tasks in scope that can be dispatched
// in the next wave.
func (s *Snapshot) Frontier(scope []Entry, pol Policy) []Entry {
	inScope := make(map[int64]bool, len(scope))
	for _, e := range scope {
		inScope[e.ID] = true
	}
	var frontier []Entry
	for _, e := range s.Ready(pol) {
		if inScope[e.ID] {
			frontier = append(frontier, e)
		}
	}
	return frontier
}

// Validate runs a topological sort over the whole edge set and returns the
// order. Used as a full-graph audit after migrations; insert-time checks use
// WouldCycle.
func (s *Snapshot) Validate() ([]int64, error) {
	var edges []toposort.Edge
	for id, t := range s.tasks {
		deps := s.dependsOn[id]
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		for _, e := range deps {
			edges = append(edges, toposort.Edge{e.DependsOnID, e.TaskID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]int64, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(int64))
		}
	}
	return order, nil
}
