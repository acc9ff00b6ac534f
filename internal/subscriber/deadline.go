package subscriber

import (
	"sync"
	"time"

	"github.com/oriys/vega/internal/metrics"
	"github.com/oriys/vega/internal/ticker"
	"github.com/oriys/vega/internal/wire"
)

const deadlineAlarmID = "ack-deadline-update"

// AckDeadlineUpdatePeriod is how often the Deadline Controller recomputes
// the stream-wide ack deadline (spec.md §6's ACK_DEADLINE_UPDATE_PERIOD).
const AckDeadlineUpdatePeriod = 60 * time.Second

// PercentileForAckDeadlineUpdates is the latency percentile the controller
// targets (spec.md §6's PERCENTILE_FOR_ACK_DEADLINE_UPDATES).
const PercentileForAckDeadlineUpdates = 99.9

// DeadlineController periodically recomputes the stream's ack deadline from
// the Latency Distribution's high percentile and pushes a request frame
// carrying only the new streamAckDeadlineSeconds (spec.md §4.5). It is the
// only writer of the current deadline and guards it with its own mutex; the
// supervisor and the dispatcher read it through Current.
type DeadlineController struct {
	dist    *LatencyDistribution
	sender  Sender
	exec    ticker.ScheduledExecutor
	padding int

	mu          sync.Mutex
	minDeadline int
	maxDeadline int
	current     int
}

// NewDeadlineController creates a controller targeting sender, seeded with
// the stream's initial deadline and clamp bounds (spec.md §3's Stream Ack
// Deadline).
func NewDeadlineController(dist *LatencyDistribution, sender Sender, exec ticker.ScheduledExecutor, minDeadline, maxDeadline, paddingSeconds, initial int) *DeadlineController {
	return &DeadlineController{
		dist:        dist,
		sender:      sender,
		exec:        exec,
		padding:     paddingSeconds,
		minDeadline: minDeadline,
		maxDeadline: maxDeadline,
		current:     clampInt(initial, minDeadline, maxDeadline),
	}
}

// Current returns the stream's current ack deadline in seconds.
func (c *DeadlineController) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Start arms the periodic tick. The first tick fires one period from now;
// the controller reschedules itself after every tick so it keeps running
// until Stop is called.
func (c *DeadlineController) Start() {
	c.exec.Schedule(deadlineAlarmID, AckDeadlineUpdatePeriod, c.tick)
}

// Stop cancels the pending tick.
func (c *DeadlineController) Stop() {
	c.exec.Cancel(deadlineAlarmID)
}

func (c *DeadlineController) tick() {
	defer c.exec.Schedule(deadlineAlarmID, AckDeadlineUpdatePeriod, c.tick)

	latency := c.dist.Percentile(PercentileForAckDeadlineUpdates)
	if latency <= 0 {
		return
	}

	candidate := clampInt(maxInt(latency, c.padding), c.minDeadline, c.maxDeadline)

	c.mu.Lock()
	changed := candidate != c.current
	if changed {
		c.current = candidate
	}
	c.mu.Unlock()

	if !changed {
		return
	}

	metrics.SetCurrentAckDeadline(candidate)
	_ = c.sender.Send(&wire.StreamingPullRequest{StreamAckDeadlineSeconds: int32(candidate)})
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
