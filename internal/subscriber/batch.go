package subscriber

import (
	"sync"
	"time"

	"github.com/oriys/vega/internal/logging"
	"github.com/oriys/vega/internal/metrics"
	"github.com/oriys/vega/internal/wire"
)

// MaxPerRequestChanges bounds how many ack IDs or modAck entries a single
// StreamingPullRequest frame may carry (spec.md §6's MAX_PER_REQUEST_CHANGES).
const MaxPerRequestChanges = 10000

// PendingAcksSendDelay is how long the batcher waits after the first
// pending entry arrives before flushing, trading a little latency for
// dramatically fewer, larger frames under load (spec.md §6's
// PENDING_ACKS_SEND_DELAY).
const PendingAcksSendDelay = 100 * time.Millisecond

// modAckEntry pairs an ack ID with the new deadline (in seconds) to request
// for it.
type modAckEntry struct {
	ackID       string
	deadlineSec int32
}

// Sender is the narrow interface the batcher needs from the stream
// supervisor: one outbound frame per flush.
type Sender interface {
	Send(req *wire.StreamingPullRequest) error
}

// AckBatcher accumulates ack/nack and deadline-extension requests and
// flushes them as StreamingPullRequest frames, either once
// MaxPerRequestChanges entries accumulate or PendingAcksSendDelay elapses,
// whichever comes first. Its debounce-timer+flush-closure shape is adapted
// from the teacher's invocation log batcher; unlike that batcher this one
// does not retry failed sends; send failures here mean the stream itself
// has gone bad, so the supervisor will reconnect and resume batching on the
// new stream (spec.md §3's Ack Batcher, §8's Batch size cap property).
type AckBatcher struct {
	mu      sync.Mutex
	sender  Sender
	acks    []string
	nacks   []string
	modAcks []modAckEntry

	flushTimer *time.Timer
	closed     bool
}

// NewAckBatcher creates a batcher that flushes onto sender.
func NewAckBatcher(sender Sender) *AckBatcher {
	return &AckBatcher{sender: sender}
}

// Ack queues an ack ID for the next flush.
func (b *AckBatcher) Ack(ackID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.acks = append(b.acks, ackID)
	b.armLocked()
	if b.pendingLocked() >= MaxPerRequestChanges {
		b.flushLocked()
	}
}

// Nack queues a message for immediate redelivery: spec.md §4 models a nack
// as releasing the lease immediately (modAck to 0 seconds) rather than as a
// distinct wire verb, matching the StreamingPull protocol's actual surface.
func (b *AckBatcher) Nack(ackID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.nacks = append(b.nacks, ackID)
	b.armLocked()
	if b.pendingLocked() >= MaxPerRequestChanges {
		b.flushLocked()
	}
}

// ModAck queues a deadline extension for ackID.
func (b *AckBatcher) ModAck(ackID string, deadlineSeconds int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.modAcks = append(b.modAcks, modAckEntry{ackID: ackID, deadlineSec: deadlineSeconds})
	b.armLocked()
	if b.pendingLocked() >= MaxPerRequestChanges {
		b.flushLocked()
	}
}

func (b *AckBatcher) pendingLocked() int {
	return len(b.acks) + len(b.nacks) + len(b.modAcks)
}

func (b *AckBatcher) armLocked() {
	if b.flushTimer != nil {
		return
	}
	b.flushTimer = time.AfterFunc(PendingAcksSendDelay, b.Flush)
}

// Flush sends whatever is pending as a single frame (or several, if pending
// entries exceed MaxPerRequestChanges). Safe to call concurrently with
// Ack/Nack/ModAck and with itself.
func (b *AckBatcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *AckBatcher) flushLocked() {
	if b.flushTimer != nil {
		b.flushTimer.Stop()
		b.flushTimer = nil
	}

	for b.pendingLocked() > 0 {
		req := &wire.StreamingPullRequest{}

		n := takeStrings(&b.acks, MaxPerRequestChanges)
		req.AckIDs = n

		remaining := MaxPerRequestChanges - len(req.AckIDs)
		nackIDs := takeStrings(&b.nacks, remaining)
		for _, id := range nackIDs {
			req.ModifyDeadlineAckIDs = append(req.ModifyDeadlineAckIDs, id)
			req.ModifyDeadlineSeconds = append(req.ModifyDeadlineSeconds, 0)
		}

		remaining = MaxPerRequestChanges - len(req.AckIDs) - len(req.ModifyDeadlineAckIDs)
		for remaining > 0 && len(b.modAcks) > 0 {
			e := b.modAcks[0]
			b.modAcks = b.modAcks[1:]
			req.ModifyDeadlineAckIDs = append(req.ModifyDeadlineAckIDs, e.ackID)
			req.ModifyDeadlineSeconds = append(req.ModifyDeadlineSeconds, e.deadlineSec)
			remaining--
		}

		total := len(req.AckIDs) + len(req.ModifyDeadlineAckIDs)
		if total == 0 {
			return
		}
		metrics.RecordBatchSize(total)
		if len(req.ModifyDeadlineAckIDs) > 0 {
			metrics.RecordModAckRequest()
		}

		if err := b.sender.Send(req); err != nil {
			logging.Op().Warn("ack batcher flush failed, dropping batch pending reconnect",
				"acks", len(req.AckIDs), "mod_acks", len(req.ModifyDeadlineAckIDs), "error", err)
			metrics.RecordStreamSendError()
			return
		}
	}
}

func takeStrings(s *[]string, n int) []string {
	if n <= 0 || len(*s) == 0 {
		return nil
	}
	if n > len(*s) {
		n = len(*s)
	}
	out := (*s)[:n]
	*s = (*s)[n:]
	return out
}

// Close flushes any pending entries and stops the batcher from accepting
// new work; used during the drain path on shutdown (spec.md §8's
// Drain-on-shutdown property).
func (b *AckBatcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Flush()
}
