package subscriber

import (
	"sync"

	"github.com/oriys/vega/internal/metrics"
)

// State is a Lifecycle State Machine state (spec.md §4.8).
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateTerminated:
		return "TERMINATED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Lifecycle tracks the subscriber's CREATED → STARTING → RUNNING →
// STOPPING → TERMINATED progression, with FAILED reachable from any running
// state (spec.md §4.8). Transitions are monotonic except for the FAILED
// escape hatch.
type Lifecycle struct {
	mu    sync.Mutex
	state State
	cause error

	onChange func(State)
}

// NewLifecycle returns a Lifecycle starting in CREATED. onChange, if
// non-nil, is invoked (outside the lock) after every transition — the
// supervisor uses it to publish lifecycle events to the host and to
// internal/metrics.
func NewLifecycle(onChange func(State)) *Lifecycle {
	return &Lifecycle{state: StateCreated, onChange: onChange}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// IsAlive reports whether the state is STARTING or RUNNING — the
// supervisor's signal to keep reconnecting rather than fail-fast (spec.md
// §4.8).
func (l *Lifecycle) IsAlive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state == StateStarting || l.state == StateRunning
}

// Cause returns the error that drove a FAILED transition, if any.
func (l *Lifecycle) Cause() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cause
}

func (l *Lifecycle) transition(to State) {
	l.mu.Lock()
	l.state = to
	l.mu.Unlock()

	metrics.SetLifecycleState(int(to))
	if l.onChange != nil {
		l.onChange(to)
	}
}

// Starting moves CREATED → STARTING.
func (l *Lifecycle) Starting() { l.transition(StateStarting) }

// Running moves STARTING → RUNNING, called once the first stream is open.
func (l *Lifecycle) Running() { l.transition(StateRunning) }

// Stopping moves the machine into STOPPING, the start of the shutdown
// sequence (spec.md §4.1).
func (l *Lifecycle) Stopping() { l.transition(StateStopping) }

// Terminated moves STOPPING → TERMINATED once shutdown completes cleanly.
func (l *Lifecycle) Terminated() { l.transition(StateTerminated) }

// Fail moves into FAILED with cause, reachable from any running state
// (spec.md §4.8, §7's fatal-transport error kind).
func (l *Lifecycle) Fail(cause error) {
	l.mu.Lock()
	l.state = StateFailed
	l.cause = cause
	l.mu.Unlock()

	metrics.SetLifecycleState(int(StateFailed))
	if l.onChange != nil {
		l.onChange(StateFailed)
	}
}
