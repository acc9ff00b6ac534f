// Package metrics collects and exposes vegapull runtime observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package:
//
//  1. The in-process Metrics struct (global counters + time series) served
//     as JSON by JSONHandler/TimeSeriesHandler, which need no scrape target.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems (Grafana, Alertmanager, etc.).
//
// Keeping both lets a standalone subscriber report its own health without a
// Prometheus sidecar while still supporting the same stack other vegapull
// deployments scrape.
//
// # Concurrency — hot path
//
// RecordDecision is called from the dispatcher on every ack/nack and must be
// as fast as possible. It uses atomic increments for the global counters and
// dispatches a lightweight event onto a buffered channel (tsChan) for the
// time-series worker to process asynchronously. This avoids holding any lock
// on the hot path.
//
// # Invariants
//
//   - TotalReceived >= TotalAcked + TotalNacked (a message can be in flight,
//     counted as received but not yet decided).
//   - The time-series ring buffer holds at most timeSeriesBucketCount buckets
//     (24 * 60 = 1440 for the last 24 hours at 1-minute granularity).
//   - tsChan capacity is 8192 events; events dropped when full are counted
//     in tsDroppedEvents for observability.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	timeSeriesBucketDuration = time.Minute
	timeSeriesBucketCount    = 24 * 60
)

// TimeSeriesBucket stores metrics for a single time bucket.
type TimeSeriesBucket struct {
	Timestamp    time.Time
	Received     int64
	Nacked       int64
	TotalLatency int64
	Count        int64 // for calculating avg
}

// Metrics collects and exposes vegapull subscriber metrics.
type Metrics struct {
	// Delivery metrics
	TotalReceived atomic.Int64
	TotalAcked    atomic.Int64
	TotalNacked   atomic.Int64
	Extensions    atomic.Int64
	Reconnects    atomic.Int64

	// Latency metrics (in milliseconds, receiver callback duration)
	TotalLatencyMs atomic.Int64
	MinLatencyMs   atomic.Int64
	MaxLatencyMs   atomic.Int64

	// In-flight occupancy, mirrored from the flow controller gate.
	InFlightMessages atomic.Int64
	InFlightBytes    atomic.Int64

	// Time-series data (minute buckets for last 24 hours)
	timeSeriesMu    sync.RWMutex
	timeSeries      []*TimeSeriesBucket
	tsChan          chan timeSeriesEvent
	tsDroppedEvents atomic.Int64

	startTime time.Time
}

// timeSeriesEvent is sent over a channel to avoid write-lock contention on the hot path.
type timeSeriesEvent struct {
	durationMs int64
	nacked     bool
}

// Global metrics instance.
var global = &Metrics{startTime: time.Now()}

func init() {
	global.MinLatencyMs.Store(int64(^uint64(0) >> 1)) // Max int64
	global.tsChan = make(chan timeSeriesEvent, 8192)
	global.initTimeSeries()
	go global.processTimeSeriesLoop()
}

// initTimeSeries initializes minute-level buckets for the last 24 hours.
func (m *Metrics) initTimeSeries() {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)
	m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
	for i := 0; i < timeSeriesBucketCount; i++ {
		m.timeSeries[i] = &TimeSeriesBucket{
			Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
		}
	}
}

// Global returns the global metrics instance.
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized.
func StartTime() time.Time {
	return global.startTime
}

// RecordReceived records a message delivered by the stream.
func (m *Metrics) RecordReceived() {
	m.TotalReceived.Add(1)
	RecordMessageReceived()
}

// RecordDecision records a terminal ack/nack decision and the time spent in
// the Receiver callback that produced it.
func (m *Metrics) RecordDecision(acked bool, durationMs int64) {
	if acked {
		m.TotalAcked.Add(1)
		RecordAckDecision("ack")
	} else {
		m.TotalNacked.Add(1)
		RecordAckDecision("nack")
	}

	m.TotalLatencyMs.Add(durationMs)
	updateMin(&m.MinLatencyMs, durationMs)
	updateMax(&m.MaxLatencyMs, durationMs)

	m.recordTimeSeries(durationMs, !acked)
	RecordReceiverDuration(durationMs)
}

// RecordExtension records a lease extension (deadline renewal) event.
func (m *Metrics) RecordExtension() {
	m.Extensions.Add(1)
	RecordExtension()
}

// RecordReconnect records a stream supervisor reconnect.
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Add(1)
	RecordStreamReconnect()
}

// SetInFlight records the flow controller's current occupancy.
func (m *Metrics) SetInFlight(messages int, bytes int64) {
	m.InFlightMessages.Store(int64(messages))
	m.InFlightBytes.Store(bytes)
	SetInFlight(messages, bytes)
}

// recordTimeSeries enqueues a time-series event for async processing,
// avoiding a write-lock on the hot decision path.
func (m *Metrics) recordTimeSeries(durationMs int64, nacked bool) {
	select {
	case m.tsChan <- timeSeriesEvent{durationMs: durationMs, nacked: nacked}:
	default:
		m.tsDroppedEvents.Add(1)
	}
}

// processTimeSeriesLoop drains tsChan and applies events under a write lock.
func (m *Metrics) processTimeSeriesLoop() {
	for evt := range m.tsChan {
		m.applyTimeSeriesEvent(evt.durationMs, evt.nacked)
	}
}

// applyTimeSeriesEvent updates the time-series buckets (must be called from a single goroutine).
func (m *Metrics) applyTimeSeriesEvent(durationMs int64, nacked bool) {
	m.timeSeriesMu.Lock()
	defer m.timeSeriesMu.Unlock()

	now := time.Now().Truncate(timeSeriesBucketDuration)

	if len(m.timeSeries) > 0 {
		lastBucket := m.timeSeries[len(m.timeSeries)-1]
		bucketsDiff := int(now.Sub(lastBucket.Timestamp) / timeSeriesBucketDuration)

		if bucketsDiff > 0 {
			if bucketsDiff >= timeSeriesBucketCount {
				m.timeSeries = make([]*TimeSeriesBucket, timeSeriesBucketCount)
				for i := 0; i < timeSeriesBucketCount; i++ {
					m.timeSeries[i] = &TimeSeriesBucket{
						Timestamp: now.Add(time.Duration(i-(timeSeriesBucketCount-1)) * timeSeriesBucketDuration),
					}
				}
			} else {
				m.timeSeries = m.timeSeries[bucketsDiff:]
				for i := 0; i < bucketsDiff; i++ {
					m.timeSeries = append(m.timeSeries, &TimeSeriesBucket{
						Timestamp: lastBucket.Timestamp.Add(time.Duration(i+1) * timeSeriesBucketDuration),
					})
				}
			}
		}
	}

	if len(m.timeSeries) > 0 {
		bucket := m.timeSeries[len(m.timeSeries)-1]
		bucket.Received++
		bucket.TotalLatency += durationMs
		bucket.Count++
		if nacked {
			bucket.Nacked++
		}
	}
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() map[string]interface{} {
	received := m.TotalReceived.Load()
	avgLatency := float64(0)
	decided := m.TotalAcked.Load() + m.TotalNacked.Load()
	if decided > 0 {
		avgLatency = float64(m.TotalLatencyMs.Load()) / float64(decided)
	}

	minLatency := m.MinLatencyMs.Load()
	if minLatency == int64(^uint64(0)>>1) {
		minLatency = 0
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"delivery": map[string]interface{}{
			"received": received,
			"acked":    m.TotalAcked.Load(),
			"nacked":   m.TotalNacked.Load(),
			"nack_pct": percentage(m.TotalNacked.Load(), decided),
		},
		"latency_ms": map[string]interface{}{
			"avg": avgLatency,
			"min": minLatency,
			"max": m.MaxLatencyMs.Load(),
		},
		"lease": map[string]interface{}{
			"extensions": m.Extensions.Load(),
			"reconnects": m.Reconnects.Load(),
		},
		"in_flight": map[string]interface{}{
			"messages": m.InFlightMessages.Load(),
			"bytes":    m.InFlightBytes.Load(),
		},
		"ts_dropped_events": m.tsDroppedEvents.Load(),
	}
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format.
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

// TimeSeries returns minute-level time-series data for the last 24 hours.
func (m *Metrics) TimeSeries() []map[string]interface{} {
	m.timeSeriesMu.RLock()
	defer m.timeSeriesMu.RUnlock()

	result := make([]map[string]interface{}, len(m.timeSeries))
	for i, bucket := range m.timeSeries {
		avgDuration := float64(0)
		if bucket.Count > 0 {
			avgDuration = float64(bucket.TotalLatency) / float64(bucket.Count)
		}
		result[i] = map[string]interface{}{
			"timestamp":    bucket.Timestamp.Format(time.RFC3339),
			"received":     bucket.Received,
			"nacked":       bucket.Nacked,
			"avg_duration": avgDuration,
		}
	}
	return result
}

// TimeSeriesHandler returns an HTTP handler for time-series metrics.
func (m *Metrics) TimeSeriesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.TimeSeries())
	})
}

// Helper functions

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
