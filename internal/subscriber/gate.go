package subscriber

import "sync"

// InFlightGate is a signed counter plus condition variable used at shutdown
// to drain outstanding receiver callbacks (spec.md §4.7). The Receiver
// Dispatcher increments it by the batch size when messages are handed off;
// the completion path decrements it one at a time as each decision lands.
// Crossing down to zero wakes every waiter, so WaitNoMessages never misses
// a signal even if it starts observing after the count already reached
// zero once and climbed again.
type InFlightGate struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int64
}

// NewInFlightGate returns an empty gate.
func NewInFlightGate() *InFlightGate {
	g := &InFlightGate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Add adjusts the counter by delta, which may be negative. It broadcasts to
// any blocked waiters whenever the count reaches zero.
func (g *InFlightGate) Add(delta int64) {
	g.mu.Lock()
	g.count += delta
	if g.count <= 0 {
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

// Count returns the current in-flight count.
func (g *InFlightGate) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// WaitNoMessages blocks until the counter reaches zero. Used by the
// supervisor's shutdown sequence to drain in-flight receiver callbacks
// before cancelling alarms and closing the stream (spec.md §4.1's Shutdown
// sequence, §8's Drain-on-shutdown property).
func (g *InFlightGate) WaitNoMessages() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for g.count > 0 {
		g.cond.Wait()
	}
}
