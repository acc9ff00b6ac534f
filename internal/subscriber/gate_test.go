package subscriber

import (
	"sync"
	"testing"
	"time"
)

func TestInFlightGate_WaitReturnsImmediatelyWhenEmpty(t *testing.T) {
	g := NewInFlightGate()
	done := make(chan struct{})
	go func() {
		g.WaitNoMessages()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitNoMessages blocked on an already-empty gate")
	}
}

func TestInFlightGate_WaitBlocksUntilDrained(t *testing.T) {
	g := NewInFlightGate()
	g.Add(3)

	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		g.WaitNoMessages()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("WaitNoMessages returned before the gate drained")
	case <-time.After(50 * time.Millisecond):
	}

	g.Add(-1)
	g.Add(-1)
	g.Add(-1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitNoMessages did not unblock after drain")
	}
	wg.Wait()

	if c := g.Count(); c != 0 {
		t.Fatalf("expected count 0 after drain, got %d", c)
	}
}
