package metrics

import (
	"testing"
	"time"
)

func TestRecordDecision_UpdatesCounters(t *testing.T) {
	m := &Metrics{startTime: time.Now()}
	m.MinLatencyMs.Store(int64(^uint64(0) >> 1))
	m.tsChan = make(chan timeSeriesEvent, 8)
	m.initTimeSeries()
	go m.processTimeSeriesLoop()

	m.RecordReceived()
	m.RecordDecision(true, 12)
	m.RecordDecision(false, 30)

	if got := m.TotalReceived.Load(); got != 1 {
		t.Fatalf("expected 1 received, got %d", got)
	}
	if got := m.TotalAcked.Load(); got != 1 {
		t.Fatalf("expected 1 acked, got %d", got)
	}
	if got := m.TotalNacked.Load(); got != 1 {
		t.Fatalf("expected 1 nacked, got %d", got)
	}
	if got := m.MinLatencyMs.Load(); got != 12 {
		t.Fatalf("expected min latency 12, got %d", got)
	}
	if got := m.MaxLatencyMs.Load(); got != 30 {
		t.Fatalf("expected max latency 30, got %d", got)
	}
}

func TestSnapshot_NackPercentage(t *testing.T) {
	m := &Metrics{startTime: time.Now()}
	m.TotalAcked.Store(3)
	m.TotalNacked.Store(1)

	snap := m.Snapshot()
	delivery := snap["delivery"].(map[string]interface{})
	if pct := delivery["nack_pct"].(float64); pct != 25 {
		t.Fatalf("expected 25%% nack rate, got %v", pct)
	}
}
