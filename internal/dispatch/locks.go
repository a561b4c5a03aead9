package dispatch

import (
	"sync"
)

// taskLocks provides per-task mutual exclusion for dispatch attempts inside
// one process. Cross-process exclusion is the store's uniqueness constraint;
// this only keeps a resume re-dispatch from racing the monitor's bookkeeping
// for the same task.
type taskLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newTaskLocks() *taskLocks {
	return &taskLocks{locks: make(map[int64]*sync.Mutex)}
}

// Lock acquires the per-task mutex, creating it on first use.
func (l *taskLocks) Lock(taskID int64) {
	l.mu.Lock()
	m, ok := l.locks[taskID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[taskID] = m
	}
	l.mu.Unlock()

	// Acquire outside the map lock to avoid serializing unrelated tasks.
	m.Lock()
}

// Unlock releases the per-task mutex.
func (l *taskLocks) Unlock(taskID int64) {
	l.mu.Lock()
	m, ok := l.locks[taskID]
	l.mu.Unlock()

	if ok {
		m.Unlock()
	}
}
