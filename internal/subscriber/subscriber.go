// Package subscriber implements the streaming pull subscriber: it owns the
// bidirectional StreamingPull RPC, leases each delivered message to a
// user-supplied Receiver, and reliably acks, nacks, or extends lease
// deadlines back to the server. The package composes the Expiration Table,
// Ack Batcher, Lease Extender, Receiver Dispatcher, Deadline Controller,
// Messages-in-flight Gate, Lifecycle state machine, and Stream Supervisor
// described across spec.md's component design section; Subscriber is the
// façade that wires them together and exposes Start/Close to the host.
package subscriber

import (
	"context"
	"time"

	"github.com/oriys/vega/internal/backoffx"
	"github.com/oriys/vega/internal/circuitbreaker"
	"github.com/oriys/vega/internal/config"
	"github.com/oriys/vega/internal/credentials"
	"github.com/oriys/vega/internal/flowcontrol"
	"github.com/oriys/vega/internal/logging"
	"github.com/oriys/vega/internal/ticker"
	"github.com/oriys/vega/internal/transport"
)

// Option customizes a Subscriber at construction, primarily so tests can
// inject fakes for the transport, flow controller, and scheduled executor
// (spec.md §6's External Interfaces).
type Option func(*options)

type options struct {
	transport   transport.Transport
	flow        flowcontrol.Controller
	exec        ticker.ScheduledExecutor
	creds       credentials.Provider
	breaker     *circuitbreaker.Breaker
	onLifecycle func(State)
}

// WithTransport overrides the default gRPC transport (tests inject a fake).
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithFlowController overrides the default TokenGate-backed flow controller.
func WithFlowController(f flowcontrol.Controller) Option {
	return func(o *options) { o.flow = f }
}

// WithScheduledExecutor overrides the default timer-based executor.
func WithScheduledExecutor(e ticker.ScheduledExecutor) Option {
	return func(o *options) { o.exec = e }
}

// WithCredentialsProvider overrides the per-call credentials provider built
// from Config.Credentials.
func WithCredentialsProvider(p credentials.Provider) Option {
	return func(o *options) { o.creds = p }
}

// WithCircuitBreaker installs a circuit breaker that fail-fasts reconnects
// after sustained failure (disabled by default).
func WithCircuitBreaker(b *circuitbreaker.Breaker) Option {
	return func(o *options) { o.breaker = b }
}

// WithLifecycleObserver registers a callback invoked on every lifecycle
// transition, letting a host publish STARTED/STOPPED/FAILED events.
func WithLifecycleObserver(fn func(State)) Option {
	return func(o *options) { o.onLifecycle = fn }
}

// Subscriber is a running streaming pull client for one subscription.
type Subscriber struct {
	cfg *config.Config

	table      *ExpirationTable
	gate       *InFlightGate
	flow       flowcontrol.Controller
	dist       *LatencyDistribution
	batcher    *AckBatcher
	extender   *LeaseExtender
	deadline   *DeadlineController
	dispatch   *Dispatcher
	sender     *streamSender
	lifecycle  *Lifecycle
	exec       ticker.ScheduledExecutor
	transport  transport.Transport
	supervisor *Supervisor

	runDone chan struct{}
}

// New constructs a Subscriber for cfg and receiver, applying opts. It does
// not start the stream; call Start for that.
func New(cfg *config.Config, receiver Receiver, opts ...Option) (*Subscriber, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.exec == nil {
		o.exec = ticker.NewTimerExecutor()
	}
	if o.flow == nil {
		o.flow = flowcontrol.NewTokenGate(cfg.Stream.MaxOutstandingMessages, cfg.Stream.MaxOutstandingBytes)
	}
	if o.creds == nil {
		o.creds = buildCredentialsProvider(cfg)
	}
	if o.transport == nil {
		tr, err := transport.NewGRPCTransport(transport.GRPCTransportConfig{
			Endpoint:     cfg.Stream.Endpoint,
			Insecure:     cfg.Stream.Insecure,
			Subscription: cfg.Stream.Subscription,
			Credentials:  o.creds,
		})
		if err != nil {
			return nil, err
		}
		o.transport = tr
	}

	table := NewExpirationTable()
	gate := NewInFlightGate()
	dist := NewLatencyDistribution()
	sender := &streamSender{}
	batcher := NewAckBatcher(sender)
	padding := time.Duration(cfg.Stream.AckDeadlinePaddingSeconds) * time.Second
	extender := NewLeaseExtender(table, batcher, o.exec, padding)
	deadlineCtrl := NewDeadlineController(dist, sender, o.exec,
		cfg.Stream.MinAckDeadlineSeconds, cfg.Stream.MaxAckDeadlineSeconds,
		cfg.Stream.AckDeadlinePaddingSeconds,
		maxInt(cfg.Stream.InitialAckDeadlineSeconds, cfg.Stream.AckDeadlinePaddingSeconds))
	dispatch := NewDispatcher(table, batcher, gate, o.flow, dist, extender, receiver, deadlineCtrl.Current, cfg.Stream.NumDispatchWorkers)
	lifecycle := NewLifecycle(o.onLifecycle)
	backoff := backoffx.New(cfg.Backoff.Initial, cfg.Backoff.Max)
	supervisor := NewSupervisor(o.transport, dispatch, deadlineCtrl, sender, lifecycle, backoff, o.breaker)

	return &Subscriber{
		cfg:        cfg,
		table:      table,
		gate:       gate,
		flow:       o.flow,
		dist:       dist,
		batcher:    batcher,
		extender:   extender,
		deadline:   deadlineCtrl,
		dispatch:   dispatch,
		sender:     sender,
		lifecycle:  lifecycle,
		exec:       o.exec,
		transport:  o.transport,
		supervisor: supervisor,
	}, nil
}

func buildCredentialsProvider(cfg *config.Config) credentials.Provider {
	if !cfg.Credentials.Enabled {
		return credentials.NoopProvider{}
	}
	return credentials.NewJWTProvider(credentials.JWTConfig{
		Secret:  cfg.Credentials.Secret,
		Issuer:  cfg.Credentials.Issuer,
		Subject: cfg.Credentials.Subject,
		TTL:     cfg.Credentials.TTL,
	})
}

// Start transitions the subscriber to STARTING, arms the Deadline
// Controller, and begins the Stream Supervisor's reconnect loop in its own
// goroutine (spec.md §4.1, §4.8).
func (s *Subscriber) Start(ctx context.Context) {
	s.lifecycle.Starting()
	s.deadline.Start()

	s.runDone = make(chan struct{})
	go func() {
		defer close(s.runDone)
		s.supervisor.Run(ctx)
	}()
}

// Close runs the shutdown sequence from spec.md §4.1: drain in-flight
// receiver callbacks, cancel the extension alarm, flush the batcher one
// final time, cancel the deadline controller, and close the stream.
func (s *Subscriber) Close() {
	s.lifecycle.Stopping()

	// Unblock any Dispatch call parked in flow.Acquire on backpressure
	// (spec.md §5's suspension point) before waiting for the gate to drain;
	// otherwise a shutdown that lands mid-backpressure deadlocks forever,
	// since nothing would ever release the credit Acquire is waiting on.
	if closer, ok := s.flow.(interface{ Close() }); ok {
		closer.Close()
	}

	s.gate.WaitNoMessages()
	s.extender.Stop()
	s.batcher.Close()
	s.deadline.Stop()
	s.supervisor.Close()

	if closer, ok := s.transport.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logging.Op().Warn("subscriber: transport close failed", "error", err)
		}
	}

	if s.runDone != nil {
		<-s.runDone
	}
	s.exec.Stop()
	s.lifecycle.Terminated()
}

// State returns the subscriber's current lifecycle state.
func (s *Subscriber) State() State { return s.lifecycle.State() }

// Err returns the cause recorded when the subscriber transitioned to FAILED,
// or nil if it never failed.
func (s *Subscriber) Err() error { return s.lifecycle.Cause() }

// Snapshot reports a point-in-time view of subscriber occupancy, useful for
// health checks and tests.
func (s *Subscriber) Snapshot() (inFlight int64, outstandingMessages int, outstandingBytes int64, currentDeadline int) {
	messages, bytes := s.flow.Occupancy()
	return s.gate.Count(), messages, bytes, s.deadline.Current()
}
