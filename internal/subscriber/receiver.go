// Package subscriber implements the streaming-pull subscriber: a
// long-lived client that keeps a StreamingPull RPC open against a pub/sub
// service, leases messages to a user Receiver, tracks and renews each
// message's ack deadline, and batches the resulting ack/nack decisions back
// onto the stream (spec.md §§3-7).
package subscriber

import "context"

// Decision is the terminal outcome a Receiver reports for a delivered
// message.
type Decision int

const (
	// Ack acknowledges successful processing; the message will not be
	// redelivered.
	Ack Decision = iota
	// Nack signals failed processing; the message becomes available for
	// redelivery immediately (its lease is released rather than extended).
	Nack
)

func (d Decision) String() string {
	if d == Ack {
		return "ack"
	}
	return "nack"
}

// Message is a single delivered message handed to the Receiver, carrying
// enough identity for the receiver to report a Decision against it.
type Message struct {
	AckID      string
	ID         string
	Data       []byte
	Attributes map[string]string
	// DeliveryAttempt counts how many times this message has been
	// delivered (1 on first delivery).
	DeliveryAttempt int32
}

// Receiver processes one delivered message and returns the decision to
// report back to the service. Receiver must not retain Message.Data or
// Message.Attributes past the call — the dispatcher may reuse the
// underlying buffers once Receiver returns, mirroring the teacher's
// advice on invocation payload lifetimes (spec.md §4's Receiver contract).
type Receiver interface {
	Receive(ctx context.Context, msg *Message) Decision
}

// ReceiverFunc adapts a plain function to the Receiver interface.
type ReceiverFunc func(ctx context.Context, msg *Message) Decision

// Receive calls f(ctx, msg).
func (f ReceiverFunc) Receive(ctx context.Context, msg *Message) Decision {
	return f(ctx, msg)
}
