package subscriber

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oriys/vega/internal/flowcontrol"
	"github.com/oriys/vega/internal/ticker"
	"github.com/oriys/vega/internal/wire"
)

func newTestDispatcher(t *testing.T, receiver Receiver) (*Dispatcher, *ExpirationTable, *InFlightGate, *recordingSender) {
	t.Helper()
	table := NewExpirationTable()
	sender := newRecordingSender()
	batcher := NewAckBatcher(sender)
	gate := NewInFlightGate()
	flow := flowcontrol.NewTokenGate(100, 1<<20)
	dist := NewLatencyDistribution()
	extender := NewLeaseExtender(table, batcher, ticker.NewTimerExecutor(), time.Second)

	d := NewDispatcher(table, batcher, gate, flow, dist, extender, receiver, func() int { return 10 }, 0)
	return d, table, gate, sender
}

func TestDispatcher_AckPathReleasesCreditAndDrainsGate(t *testing.T) {
	d, table, gate, sender := newTestDispatcher(t, ReceiverFunc(func(ctx context.Context, m *Message) Decision {
		return Ack
	}))

	resp := &wire.StreamingPullResponse{ReceivedMessages: []wire.ReceivedMessage{
		{AckID: "A1", MessageID: "m1", Data: []byte("hello")},
	}}

	if err := d.Dispatch(context.Background(), resp); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	waitFor(t, func() bool { return gate.Count() == 0 })

	select {
	case <-sender.ready:
	case <-time.After(time.Second):
		t.Fatal("expected a flush carrying the ack")
	}

	req := sender.reqs[0]
	if len(req.AckIDs) != 1 || req.AckIDs[0] != "A1" {
		t.Fatalf("expected ackIds=[A1], got %v", req.AckIDs)
	}
	if table.Len() != 0 {
		t.Fatalf("expected handle removed from table after ack, got %d remaining", table.Len())
	}
}

func TestDispatcher_ReceiverFailureNacks(t *testing.T) {
	d, _, gate, sender := newTestDispatcher(t, ReceiverFunc(func(ctx context.Context, m *Message) Decision {
		panic(errors.New("boom"))
	}))

	resp := &wire.StreamingPullResponse{ReceivedMessages: []wire.ReceivedMessage{
		{AckID: "B1", MessageID: "m1", Data: []byte("x")},
	}}

	if err := d.Dispatch(context.Background(), resp); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	waitFor(t, func() bool { return gate.Count() == 0 })

	select {
	case <-sender.ready:
	case <-time.After(time.Second):
		t.Fatal("expected a flush carrying the nack")
	}

	req := sender.reqs[0]
	if len(req.ModifyDeadlineAckIDs) != 1 || req.ModifyDeadlineAckIDs[0] != "B1" || req.ModifyDeadlineSeconds[0] != 0 {
		t.Fatalf("expected a zero-extension modify-deadline for B1, got %v/%v", req.ModifyDeadlineAckIDs, req.ModifyDeadlineSeconds)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
