package subscriber

import (
	"errors"
	"testing"
)

func TestLifecycle_IsAliveDuringStartingAndRunning(t *testing.T) {
	var seen []State
	l := NewLifecycle(func(s State) { seen = append(seen, s) })

	if l.IsAlive() {
		t.Fatal("expected CREATED to not be alive")
	}
	l.Starting()
	if !l.IsAlive() {
		t.Fatal("expected STARTING to be alive")
	}
	l.Running()
	if !l.IsAlive() {
		t.Fatal("expected RUNNING to be alive")
	}
	l.Stopping()
	if l.IsAlive() {
		t.Fatal("expected STOPPING to not be alive")
	}
	l.Terminated()

	want := []State{StateStarting, StateRunning, StateStopping, StateTerminated}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %d: %v", len(want), len(seen), seen)
	}
	for i, s := range want {
		if seen[i] != s {
			t.Fatalf("transition %d: expected %v, got %v", i, s, seen[i])
		}
	}
}

func TestLifecycle_FailFromRunningCarriesCause(t *testing.T) {
	l := NewLifecycle(nil)
	l.Starting()
	l.Running()

	cause := errors.New("boom")
	l.Fail(cause)

	if l.State() != StateFailed {
		t.Fatalf("expected FAILED, got %v", l.State())
	}
	if l.IsAlive() {
		t.Fatal("expected FAILED to not be alive")
	}
	if l.Cause() != cause {
		t.Fatal("expected cause to be preserved")
	}
}
