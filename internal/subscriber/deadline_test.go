package subscriber

import (
	"testing"

	"github.com/oriys/vega/internal/ticker"
)

func TestDeadlineController_ClampsToBounds(t *testing.T) {
	dist := NewLatencyDistribution()
	for i := 0; i < 1000; i++ {
		dist.Record(20)
	}
	sender := newRecordingSender()
	exec := ticker.NewTimerExecutor()
	ctrl := NewDeadlineController(dist, sender, exec, 10, 600, 3, 10)

	ctrl.tick()

	if got := ctrl.Current(); got < 10 || got > 600 {
		t.Fatalf("expected deadline within [10,600], got %d", got)
	}
	if sender.count() != 1 {
		t.Fatalf("expected exactly one frame pushed on change, got %d", sender.count())
	}
	req := sender.reqs[0]
	if req.StreamAckDeadlineSeconds != int32(ctrl.Current()) {
		t.Fatalf("expected pushed frame to carry the new deadline, got %d", req.StreamAckDeadlineSeconds)
	}
	if len(req.AckIDs) != 0 || len(req.ModifyDeadlineAckIDs) != 0 {
		t.Fatal("deadline update frame must carry only streamAckDeadlineSeconds")
	}
}

func TestDeadlineController_NoChangeNoFrame(t *testing.T) {
	dist := NewLatencyDistribution()
	dist.Record(10)
	sender := newRecordingSender()
	exec := ticker.NewTimerExecutor()
	ctrl := NewDeadlineController(dist, sender, exec, 10, 600, 3, 10)

	ctrl.tick()

	if sender.count() != 0 {
		t.Fatalf("expected no frame when candidate equals current deadline, got %d sends", sender.count())
	}
}

func TestDeadlineController_EmptyDistributionSkipsTick(t *testing.T) {
	dist := NewLatencyDistribution()
	sender := newRecordingSender()
	exec := ticker.NewTimerExecutor()
	ctrl := NewDeadlineController(dist, sender, exec, 10, 600, 3, 10)

	ctrl.tick()

	if sender.count() != 0 {
		t.Fatalf("expected no frame for an empty distribution, got %d", sender.count())
	}
}
