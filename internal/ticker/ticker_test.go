package ticker

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerExecutor_FiresAfterDelay(t *testing.T) {
	e := NewTimerExecutor()
	var fired atomic.Bool

	e.Schedule("a", 10*time.Millisecond, func() { fired.Store(true) })

	if fired.Load() {
		t.Fatal("fired before delay elapsed")
	}
	time.Sleep(50 * time.Millisecond)
	if !fired.Load() {
		t.Fatal("expected entry to have fired")
	}
	if e.Len() != 0 {
		t.Fatalf("expected fired entry to be removed, got %d pending", e.Len())
	}
}

func TestTimerExecutor_CancelPreventsFire(t *testing.T) {
	e := NewTimerExecutor()
	var fired atomic.Bool

	e.Schedule("a", 20*time.Millisecond, func() { fired.Store(true) })
	e.Cancel("a")

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Fatal("cancelled entry should not have fired")
	}
}

func TestTimerExecutor_RescheduleReplacesPrevious(t *testing.T) {
	e := NewTimerExecutor()
	var count atomic.Int32

	e.Schedule("a", 10*time.Millisecond, func() { count.Add(1) })
	e.Schedule("a", 50*time.Millisecond, func() { count.Add(1) })

	time.Sleep(100 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Fatalf("expected exactly one fire after reschedule, got %d", got)
	}
}

func TestTimerExecutor_StopCancelsAll(t *testing.T) {
	e := NewTimerExecutor()
	var fired atomic.Bool

	e.Schedule("a", 20*time.Millisecond, func() { fired.Store(true) })
	e.Stop()

	time.Sleep(50 * time.Millisecond)
	if fired.Load() {
		t.Fatal("stopped executor should not fire pending entries")
	}
}
