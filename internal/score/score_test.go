package score

import (
	"context"
	"testing"

	"github.com/evanray/taskweave/internal/graph"
	"github.com/evanray/taskweave/internal/store"
	"github.com/evanray/taskweave/internal/task"
)

func baseTask(p task.Priority, c task.Complexity) *task.Task {
	return &task.Task{ID: 1, Status: task.StatusToDo, Priority: p, Complexity: c}
}

func TestScoreTable(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name          string
		task          *task.Task
		dependents    int
		hasBlocking   bool
		hasContingent bool
		want          int
	}{
		// (100 + 10) / 3 = 36.67 -> 37
		{"highest default complexity", baseTask(task.PriorityHighest, ""), 0, false, false, 37},
		// (20 + 10) / 1 = 30
		{"lowest xs", baseTask(task.PriorityLowest, task.ComplexityXS), 0, false, false, 30},
		// (60 + 10 + 15) / 3: cap applies at 3 dependents
		{"unblocks capped", baseTask(task.PriorityMedium, task.ComplexityM), 5, false, false, 28},
		// (60 + 10 + 10) / 3 = 26.67 -> 27
		{"two dependents", baseTask(task.PriorityMedium, task.ComplexityM), 2, false, false, 27},
		// (60 + 10 - 10) / 3 = 20: contingent-only profile penalized
		{"contingent only", baseTask(task.PriorityMedium, task.ComplexityM), 0, false, true, 20},
		// penalty does not apply when a blocking dep exists too
		{"contingent and blocking", baseTask(task.PriorityMedium, task.ComplexityM), 0, true, true, 23},
		// (80 + 0) / 8 = 10: deferred loses the active bonus
		{"deferred xl", func() *task.Task {
			tk := baseTask(task.PriorityHigh, task.ComplexityXL)
			tk.Deferred = true
			return tk
		}(), 0, false, false, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.task, tt.dependents, tt.hasBlocking, tt.hasContingent, w)
			if got != tt.want {
				t.Errorf("Score() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestScoreMonotonicity checks the two ordering properties: non-increasing in
// complexity weight for a fixed numerator, and non-decreasing in dependents
// up to the cap.
func TestScoreMonotonicity(t *testing.T) {
	w := DefaultWeights()

	sizes := []task.Complexity{task.ComplexityXS, task.ComplexityS, task.ComplexityM, task.ComplexityL, task.ComplexityXL}
	prev := int(^uint(0) >> 1)
	for _, c := range sizes {
		got := Score(baseTask(task.PriorityHigh, c), 0, false, false, w)
		if got > prev {
			t.Errorf("score increased with complexity %s: %d > %d", c, got, prev)
		}
		prev = got
	}

	prev = -1
	var capped int
	for deps := 0; deps <= 6; deps++ {
		got := Score(baseTask(task.PriorityMedium, task.ComplexityM), deps, false, false, w)
		if got < prev {
			t.Errorf("score decreased with %d dependents: %d < %d", deps, got, prev)
		}
		if deps == 3 {
			capped = got
		}
		if deps > 3 && got != capped {
			t.Errorf("cap not applied at %d dependents: %d != %d", deps, got, capped)
		}
		prev = got
	}
}

func TestRecomputeAll(t *testing.T) {
	ctx := context.Background()
	s, err := store.OpenMemory(ctx, store.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	a, err := s.CreateTask(ctx, store.TaskDraft{Summary: "a", Priority: task.PriorityHighest, Complexity: task.ComplexityXS})
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.CreateTask(ctx, store.TaskDraft{Summary: "b", Priority: task.PriorityLow})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddEdge(ctx, b.ID, a.ID, task.RelationBlocking); err != nil {
		t.Fatal(err)
	}

	n, err := RecomputeAll(ctx, s, DefaultWeights())
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("recomputed %d tasks, want 2", n)
	}

	got, err := s.GetTask(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	// (100 + 10 + 5) / 1 = 115: one direct dependent
	if got.PriorityScore != 115 {
		t.Errorf("task a score = %d, want 115", got.PriorityScore)
	}
}

func TestScoreAllSkipsClosed(t *testing.T) {
	done := baseTask(task.PriorityHighest, "")
	done.Status = task.StatusDone
	open := baseTask(task.PriorityMedium, "")
	open.ID = 2

	snap := graph.NewSnapshot([]*task.Task{done, open}, nil, nil)
	scores := ScoreAll(snap, []*task.Task{done, open}, DefaultWeights())
	if _, ok := scores[done.ID]; ok {
		t.Error("closed task should not be scored")
	}
	if _, ok := scores[open.ID]; !ok {
		t.Error("open task missing from scores")
	}
}
