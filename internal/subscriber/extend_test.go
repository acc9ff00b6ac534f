package subscriber

import (
	"sync"
	"testing"
	"time"

	"github.com/oriys/vega/internal/ticker"
	"github.com/oriys/vega/internal/wire"
)

type recordingSender struct {
	mu    sync.Mutex
	reqs  []*wire.StreamingPullRequest
	ready chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{ready: make(chan struct{}, 64)}
}

func (s *recordingSender) Send(req *wire.StreamingPullRequest) error {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	s.ready <- struct{}{}
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

func TestLeaseExtender_ExtendsUndecidedAndDropsDecided(t *testing.T) {
	table := NewExpirationTable()
	now := time.Now()
	table.Add("live", 10, now.Add(2*time.Second))
	decidedHandle := table.Add("done", 10, now.Add(2*time.Second))
	decidedHandle.MarkDecided()

	sender := newRecordingSender()
	batcher := NewAckBatcher(sender)
	exec := ticker.NewTimerExecutor()
	extender := NewLeaseExtender(table, batcher, exec, time.Second)
	extender.now = func() time.Time { return now }

	extender.fire()

	select {
	case <-sender.ready:
	case <-time.After(time.Second):
		t.Fatal("expected a flush from the extension sweep")
	}

	if table.Len() != 1 {
		t.Fatalf("expected decided handle dropped, 1 remaining, got %d", table.Len())
	}
	if _, ok := table.Get("live"); !ok {
		t.Fatal("expected undecided handle still tracked after extension")
	}

	req := sender.reqs[0]
	found := false
	for i, id := range req.ModifyDeadlineAckIDs {
		if id == "live" {
			found = true
			if req.ModifyDeadlineSeconds[i] != initialExtensionSeconds {
				t.Fatalf("expected extension of %d seconds, got %d", initialExtensionSeconds, req.ModifyDeadlineSeconds[i])
			}
		}
		if id == "done" {
			t.Fatal("decided handle must not appear in the extension batch")
		}
	}
	if !found {
		t.Fatal("expected live handle's modify-deadline entry in the flushed request")
	}
}

func TestLeaseExtender_RearmsAlarmWhenOnlyBucketIsDue(t *testing.T) {
	table := NewExpirationTable()
	now := time.Now()
	table.Add("live", 10, now.Add(time.Second))

	sender := newRecordingSender()
	batcher := NewAckBatcher(sender)
	exec := ticker.NewTimerExecutor()
	extender := NewLeaseExtender(table, batcher, exec, 0)
	extender.now = func() time.Time { return now }

	extender.fire()

	select {
	case <-sender.ready:
	case <-time.After(time.Second):
		t.Fatal("expected a flush from the extension sweep")
	}

	extender.alarmMu.Lock()
	hasAlarm := extender.hasAlarm
	fireAt := extender.fireAt
	extender.alarmMu.Unlock()

	if !hasAlarm {
		t.Fatal("expected the extender to re-arm its alarm for the just-extended survivor, but it did not")
	}
	wantFireAt := now.Add(time.Duration(initialExtensionSeconds) * time.Second)
	if !fireAt.Equal(wantFireAt) {
		t.Fatalf("expected alarm armed at %v, got %v", wantFireAt, fireAt)
	}
}

func TestLeaseExtender_DoublesExtensionOnRepeatedSweep(t *testing.T) {
	table := NewExpirationTable()
	now := time.Now()
	table.Add("live", 10, now.Add(time.Second))

	sender := newRecordingSender()
	batcher := NewAckBatcher(sender)
	exec := ticker.NewTimerExecutor()
	extender := NewLeaseExtender(table, batcher, exec, 0)
	extender.now = func() time.Time { return now }

	extender.fire()
	h, ok := table.Get("live")
	if !ok {
		t.Fatal("expected handle to survive first sweep")
	}
	if h.nextExtensionSeconds != initialExtensionSeconds*2 {
		t.Fatalf("expected doubling to %d, got %d", initialExtensionSeconds*2, h.nextExtensionSeconds)
	}
}
