package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the prometheus collectors exposed by a running
// subscriber.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	ackTotal          *prometheus.CounterVec
	streamReconnects  prometheus.Counter
	streamSendErrors  prometheus.Counter
	extensionsTotal   prometheus.Counter
	modAckTotal       prometheus.Counter
	messagesReceived  prometheus.Counter

	// Histograms
	processingLatency prometheus.Histogram
	batchSize         prometheus.Histogram

	// Gauges
	uptime            prometheus.GaugeFunc
	inFlightMessages  prometheus.Gauge
	inFlightBytes     prometheus.Gauge
	currentAckDeadline prometheus.Gauge
	lifecycleState    prometheus.Gauge
}

// Default histogram buckets for processing latency (in milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem for a
// vegapull subscriber. namespace is typically the config's
// Observability.Metrics.Namespace ("vegapull").
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		ackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ack_decisions_total",
				Help:      "Total ack/nack decisions emitted by the receiver, by decision",
			},
			[]string{"decision"}, // ack, nack
		),

		streamReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_reconnects_total",
				Help:      "Total number of times the stream supervisor re-opened the stream",
			},
		),

		streamSendErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stream_send_errors_total",
				Help:      "Total send errors observed on the streaming pull RPC",
			},
		),

		extensionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lease_extensions_total",
				Help:      "Total number of ack-deadline extension (modAck) requests sent",
			},
		),

		modAckTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mod_ack_requests_total",
				Help:      "Total number of ModifyAckDeadline RPCs sent, including batched extensions",
			},
		),

		messagesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "Total number of messages delivered by the stream",
			},
		),

		processingLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "receiver_duration_milliseconds",
				Help:      "Time spent in the user Receiver callback, in milliseconds",
				Buckets:   buckets,
			},
		),

		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ack_batch_size",
				Help:      "Number of ack IDs plus modify-deadline entries flushed per batcher send",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			},
		),

		inFlightMessages: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_messages",
				Help:      "Number of messages currently leased (delivered, not yet ack/nacked)",
			},
		),

		inFlightBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "in_flight_bytes",
				Help:      "Total byte size of messages currently leased",
			},
		),

		currentAckDeadline: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "current_ack_deadline_seconds",
				Help:      "Stream-wide ack deadline currently computed by the deadline controller",
			},
		),

		lifecycleState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lifecycle_state",
				Help:      "Subscriber lifecycle state (0=created,1=starting,2=running,3=stopping,4=terminated,5=failed)",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the subscriber process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.ackTotal,
		pm.streamReconnects,
		pm.streamSendErrors,
		pm.extensionsTotal,
		pm.modAckTotal,
		pm.messagesReceived,
		pm.processingLatency,
		pm.batchSize,
		pm.uptime,
		pm.inFlightMessages,
		pm.inFlightBytes,
		pm.currentAckDeadline,
		pm.lifecycleState,
	)

	promMetrics = pm
}

// RecordAckDecision records a terminal ack/nack decision.
func RecordAckDecision(decision string) {
	if promMetrics == nil {
		return
	}
	promMetrics.ackTotal.WithLabelValues(decision).Inc()
}

// RecordStreamReconnect records a stream supervisor reconnect.
func RecordStreamReconnect() {
	if promMetrics == nil {
		return
	}
	promMetrics.streamReconnects.Inc()
}

// RecordStreamSendError records a send failure on the streaming pull RPC.
func RecordStreamSendError() {
	if promMetrics == nil {
		return
	}
	promMetrics.streamSendErrors.Inc()
}

// RecordExtension records a lease extension (deadline renewal) event.
func RecordExtension() {
	if promMetrics == nil {
		return
	}
	promMetrics.extensionsTotal.Inc()
}

// RecordModAckRequest records a ModifyAckDeadline RPC send, batched or not.
func RecordModAckRequest() {
	if promMetrics == nil {
		return
	}
	promMetrics.modAckTotal.Inc()
}

// RecordMessageReceived records a message delivered by the stream.
func RecordMessageReceived() {
	if promMetrics == nil {
		return
	}
	promMetrics.messagesReceived.Inc()
}

// RecordReceiverDuration records time spent in the user Receiver callback.
func RecordReceiverDuration(durationMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.processingLatency.Observe(float64(durationMs))
}

// RecordBatchSize records the number of entries (ack IDs plus
// modify-deadline entries) flushed in one batcher send.
func RecordBatchSize(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.batchSize.Observe(float64(n))
}

// SetInFlight sets the in-flight messages/bytes gauges (the Flow Controller's
// current occupancy).
func SetInFlight(messages int, bytes int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.inFlightMessages.Set(float64(messages))
	promMetrics.inFlightBytes.Set(float64(bytes))
}

// SetCurrentAckDeadline sets the stream-wide ack deadline gauge, as last
// computed by the deadline controller.
func SetCurrentAckDeadline(seconds int) {
	if promMetrics == nil {
		return
	}
	promMetrics.currentAckDeadline.Set(float64(seconds))
}

// SetLifecycleState sets the lifecycle state gauge. Callers pass the
// ordinal defined by internal/subscriber's State type.
func SetLifecycleState(state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.lifecycleState.Set(float64(state))
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors).
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
