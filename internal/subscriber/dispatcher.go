package subscriber

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/vega/internal/flowcontrol"
	"github.com/oriys/vega/internal/logging"
	"github.com/oriys/vega/internal/metrics"
	"github.com/oriys/vega/internal/observability"
	"github.com/oriys/vega/internal/wire"
)

// Dispatcher implements processReceivedMessages (spec.md §4.2): it turns one
// inbound response frame into Lease Handles, hands each message to the user
// Receiver, and wires the resulting decision back to the Ack Batcher, the
// Flow Controller, and the in-flight Gate.
type Dispatcher struct {
	table    *ExpirationTable
	batcher  *AckBatcher
	gate     *InFlightGate
	flow     flowcontrol.Controller
	dist     *LatencyDistribution
	extender *LeaseExtender
	receiver Receiver

	// streamAckDeadline reads the deadline (in seconds) new messages should
	// be leased for; backed by the Deadline Controller's current value.
	streamAckDeadline func() int

	// pool bounds how many receiver invocations run concurrently across all
	// in-flight frames (config.Stream.NumDispatchWorkers); a zero-valued
	// errgroup.Group (no SetLimit call) runs unbounded, which is the
	// behavior tests relying on an unbounded pool expect.
	pool errgroup.Group
}

// NewDispatcher wires a Dispatcher over its collaborators. workers bounds
// concurrent receiver invocations (spec.md §6's Receiver contract note that
// it must not block the calling thread indefinitely); workers <= 0 leaves
// the pool unbounded.
func NewDispatcher(table *ExpirationTable, batcher *AckBatcher, gate *InFlightGate, flow flowcontrol.Controller, dist *LatencyDistribution, extender *LeaseExtender, receiver Receiver, streamAckDeadline func() int, workers int) *Dispatcher {
	d := &Dispatcher{
		table:             table,
		batcher:           batcher,
		gate:              gate,
		flow:              flow,
		dist:              dist,
		extender:          extender,
		receiver:          receiver,
		streamAckDeadline: streamAckDeadline,
	}
	if workers > 0 {
		d.pool.SetLimit(workers)
	}
	return d
}

// Dispatch registers every message in resp as a Lease Handle in a single new
// Expiration Bucket, arms the lease-extension alarm for that bucket, bumps
// the in-flight gate, and spawns a completion goroutine per message. It
// blocks on flow-control reservation for the batch before returning, which
// is what lets the supervisor's one-frame-at-a-time request loop apply
// backpressure (spec.md §4.2, §5's Suspension points).
func (d *Dispatcher) Dispatch(ctx context.Context, resp *wire.StreamingPullResponse) error {
	if len(resp.ReceivedMessages) == 0 {
		return nil
	}

	deadline := d.streamAckDeadline()
	expiresAt := time.Now().Add(time.Duration(deadline) * time.Second)

	d.gate.Add(int64(len(resp.ReceivedMessages)))

	handles := make([]*LeaseHandle, len(resp.ReceivedMessages))
	for i, m := range resp.ReceivedMessages {
		handles[i] = d.table.Add(m.AckID, int64(len(m.Data)), expiresAt)
	}
	d.extender.OnBucketScheduled(handles[0].expiresAt)

	for i, m := range resp.ReceivedMessages {
		msg := m
		h := handles[i]

		if err := d.flow.Acquire(ctx, int64(len(msg.Data))); err != nil {
			return err
		}

		metrics.Global().RecordReceived()
		d.pool.Go(func() error {
			d.handle(ctx, msg, h)
			return nil
		})
	}
	return nil
}

// handle invokes the user receiver for one message and routes its decision
// to the completion path (spec.md §4.2's Completion path paragraph).
func (d *Dispatcher) handle(ctx context.Context, m wire.ReceivedMessage, h *LeaseHandle) {
	decision := d.invoke(ctx, m)
	d.complete(ctx, m, h, decision)
}

func (d *Dispatcher) invoke(ctx context.Context, m wire.ReceivedMessage) (decision Decision) {
	decision = Nack
	defer func() {
		if r := recover(); r != nil {
			d.tracedLogger(ctx).Warn("receiver panicked, treating as nack", "ack_id", m.AckID, "panic", r)
			decision = Nack
		}
	}()
	msg := &Message{
		AckID:           m.AckID,
		ID:              m.MessageID,
		Data:            m.Data,
		Attributes:      m.Attributes,
		DeliveryAttempt: m.DeliveryAttempt,
	}
	return d.receiver.Receive(ctx, msg)
}

// tracedLogger returns the operational logger annotated with the trace/span
// IDs of the span ctx carries, if any. ctx is the context the host passed to
// Start; the transport's stream-open span is not attached to it.
func (d *Dispatcher) tracedLogger(ctx context.Context) *slog.Logger {
	return logging.OpWithTrace(observability.GetTraceID(ctx), observability.GetSpanID(ctx))
}

func (d *Dispatcher) complete(ctx context.Context, m wire.ReceivedMessage, h *LeaseHandle, decision Decision) {
	h.MarkDecided()
	d.table.Remove(m.AckID)

	elapsed := time.Since(h.ReceivedAt)
	entry := &logging.DeliveryLog{
		AckID:      m.AckID,
		DurationMs: elapsed.Milliseconds(),
		Bytes:      len(m.Data),
	}

	switch decision {
	case Ack:
		d.batcher.Ack(m.AckID)
		latencySeconds := int(elapsed.Seconds())
		if elapsed%time.Second != 0 {
			latencySeconds++ // record ceiling per spec.md §4.6
		}
		d.dist.Record(latencySeconds)
		metrics.Global().RecordDecision(true, entry.DurationMs)
		entry.Decision = "ack"
	default:
		d.batcher.Nack(m.AckID)
		d.tracedLogger(ctx).Warn("message nacked", "ack_id", m.AckID)
		metrics.Global().RecordDecision(false, entry.DurationMs)
		entry.Decision = "nack"
	}
	logging.DefaultDeliveryLogger().Log(entry)

	d.flow.Release(int64(len(m.Data)))
	d.gate.Add(-1)
}
