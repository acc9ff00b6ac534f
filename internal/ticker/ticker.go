// Package ticker schedules one-shot, delay-based callbacks: the building
// block behind the Lease Extender's sweep alarm and the Deadline
// Controller's periodic tick (spec.md §3, §6). The teacher's scheduler
// package solves the same "named entry, start/stop, mutex-guarded map"
// shape for cron expressions; a cron parser is the wrong primitive for a
// per-message delay though, so this package schedules with time.AfterFunc
// instead and keeps only the entry-bookkeeping idiom.
package ticker

import (
	"sync"
	"time"
)

// ScheduledExecutor runs callbacks after a delay and lets callers cancel a
// pending callback by its entry ID before it fires.
type ScheduledExecutor interface {
	// Schedule arranges for fn to run after delay under the caller-chosen
	// entry id, which Cancel can use to abort it before it fires.
	Schedule(id string, delay time.Duration, fn func())
	// Cancel aborts a previously scheduled entry. A no-op if the entry
	// already fired or was never scheduled.
	Cancel(id string)
	// Stop cancels every pending entry.
	Stop()
}

// TimerExecutor is the default ScheduledExecutor, backed by time.AfterFunc
// with a map of live timers guarded by a mutex — the same shape as the
// teacher's cron entry map, without the cron dependency.
type TimerExecutor struct {
	mu      sync.Mutex
	entries map[string]*time.Timer
	stopped bool
}

// NewTimerExecutor creates an empty executor.
func NewTimerExecutor() *TimerExecutor {
	return &TimerExecutor{entries: make(map[string]*time.Timer)}
}

// Schedule arranges for fn to run after delay. Scheduling under an id that
// already has a pending entry replaces it, cancelling the old timer first
// (this is how the lease extender moves its alarm earlier for a new bucket
// and re-arms it after a sweep).
func (e *TimerExecutor) Schedule(id string, delay time.Duration, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return
	}
	if old, ok := e.entries[id]; ok {
		old.Stop()
	}
	e.entries[id] = time.AfterFunc(delay, func() {
		e.mu.Lock()
		delete(e.entries, id)
		e.mu.Unlock()
		fn()
	})
}

// Cancel aborts a pending entry.
func (e *TimerExecutor) Cancel(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if t, ok := e.entries[id]; ok {
		t.Stop()
		delete(e.entries, id)
	}
}

// Stop cancels every pending entry and rejects further scheduling.
func (e *TimerExecutor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	for id, t := range e.entries {
		t.Stop()
		delete(e.entries, id)
	}
}

// Len reports the number of currently pending entries (used by tests to
// check that a fired entry is removed).
func (e *TimerExecutor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}
