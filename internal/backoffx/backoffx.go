// Package backoffx wraps cenkalti/backoff/v5 with the exponential reconnect
// policy the stream supervisor uses between failed StreamingPull attempts
// (spec.md §3's Reconnect Backoff, §8's Backoff monotonicity property).
package backoffx

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Reconnect produces successive reconnect delays, doubling on every call up
// to Max, and resetting back to Initial after a Reset.
type Reconnect struct {
	b *backoff.ExponentialBackOff
}

// New builds a Reconnect policy. initial is the first delay; max bounds how
// large a single delay can grow.
func New(initial, max time.Duration) *Reconnect {
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max < initial {
		max = 10 * time.Second
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.RandomizationFactor = 0.2
	b.Multiplier = 2
	b.MaxInterval = max
	b.MaxElapsedTime = 0 // never give up; the supervisor decides when to stop reconnecting
	return &Reconnect{b: b}
}

// Next returns the delay to wait before the next reconnect attempt. Calls
// are monotonically non-decreasing until the policy is Reset or the
// configured max is reached, after which delay jitters around Max.
func (r *Reconnect) Next() time.Duration {
	d := r.b.NextBackOff()
	if d == backoff.Stop {
		// MaxElapsedTime has no meaning for a long-lived reconnect loop;
		// fall back to the configured ceiling instead of giving up.
		d = r.b.MaxInterval
	}
	return d
}

// Reset returns the policy to its initial delay, called by the stream
// supervisor after a stream closes cleanly.
func (r *Reconnect) Reset() {
	r.b.Reset()
}
