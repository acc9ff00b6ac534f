package flowcontrol

import (
	"context"
	"testing"
	"time"
)

func TestTokenGate_BlocksUntilRelease(t *testing.T) {
	g := NewTokenGate(1, 0)
	ctx := context.Background()

	if err := g.Acquire(ctx, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		g.Acquire(ctx, 10)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while gate is full")
	case <-time.After(50 * time.Millisecond):
	}

	g.Release(10)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire should unblock after release")
	}
}

func TestTokenGate_CreditConservation(t *testing.T) {
	g := NewTokenGate(5, 1000)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := g.Acquire(ctx, 100); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	messages, bytes := g.Occupancy()
	if messages != 5 || bytes != 500 {
		t.Fatalf("expected 5 messages/500 bytes outstanding, got %d/%d", messages, bytes)
	}

	for i := 0; i < 5; i++ {
		g.Release(100)
	}
	messages, bytes = g.Occupancy()
	if messages != 0 || bytes != 0 {
		t.Fatalf("expected gate to fully drain, got %d/%d", messages, bytes)
	}
}

func TestTokenGate_CloseUnblocksAcquire(t *testing.T) {
	g := NewTokenGate(1, 0)
	ctx := context.Background()

	if err := g.Acquire(ctx, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- g.Acquire(ctx, 10)
	}()

	select {
	case <-blocked:
		t.Fatal("second acquire should block while gate is full")
	case <-time.After(50 * time.Millisecond):
	}

	g.Close()

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("expected Close to admit the pending acquire without error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Close to unblock the pending acquire")
	}
}

func TestTokenGate_CancelledContext(t *testing.T) {
	g := NewTokenGate(1, 0)
	ctx := context.Background()
	if err := g.Acquire(ctx, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := g.Acquire(cancelCtx, 1); err == nil {
		t.Fatal("expected acquire on cancelled context to return an error")
	}
}
