package subscriber

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/oriys/vega/internal/backoffx"
	"github.com/oriys/vega/internal/circuitbreaker"
	"github.com/oriys/vega/internal/logging"
	"github.com/oriys/vega/internal/metrics"
	"github.com/oriys/vega/internal/transport"
	"github.com/oriys/vega/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// retryableCodes are the gRPC status codes the supervisor reopens the
// stream for (spec.md §4.1's Sequence on start, step 6; §6's Retryable
// status codes). Anything else is fatal.
var retryableCodes = map[codes.Code]bool{
	codes.DeadlineExceeded:  true,
	codes.Internal:          true,
	codes.Canceled:          true,
	codes.ResourceExhausted: true,
	codes.Unavailable:       true,
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	return retryableCodes[st.Code()]
}

// streamSender adapts whatever stream is currently open into the Sender
// interface the Ack Batcher and Deadline Controller push frames through, so
// those components never need to know a reconnect happened.
type streamSender struct {
	mu     sync.Mutex
	stream transport.Stream
}

func (s *streamSender) set(stream transport.Stream) {
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
}

func (s *streamSender) Send(req *wire.StreamingPullRequest) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return errors.New("subscriber: no active stream")
	}
	return stream.Send(req)
}

// closeCurrent half-closes the send side (CloseSend) of whatever stream is
// currently open, if any. It does not cancel the stream or send a
// cancelled status.
func (s *streamSender) closeCurrent() {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		_ = stream.CloseSend()
	}
}

// Supervisor owns the bidirectional RPC lifecycle: opening the stream,
// running the receive loop, and reconnecting with exponential backoff on
// retryable errors while a circuit breaker guards against hot-looping
// against a persistently failing endpoint (spec.md §4.1).
type Supervisor struct {
	transport  transport.Transport
	dispatcher *Dispatcher
	deadline   *DeadlineController
	sender     *streamSender
	lifecycle  *Lifecycle
	backoff    *backoffx.Reconnect
	breaker    *circuitbreaker.Breaker // nil disables circuit breaking
}

// NewSupervisor wires a Supervisor. breaker may be nil.
func NewSupervisor(tr transport.Transport, dispatcher *Dispatcher, deadline *DeadlineController, sender *streamSender, lifecycle *Lifecycle, backoff *backoffx.Reconnect, breaker *circuitbreaker.Breaker) *Supervisor {
	return &Supervisor{
		transport:  tr,
		dispatcher: dispatcher,
		deadline:   deadline,
		sender:     sender,
		lifecycle:  lifecycle,
		backoff:    backoff,
		breaker:    breaker,
	}
}

// Run drives the reconnect loop until ctx is cancelled or the lifecycle
// transitions out of STARTING/RUNNING. It blocks; callers run it in its own
// goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil || !s.lifecycle.IsAlive() {
			return
		}

		if s.breaker != nil && !s.breaker.Allow() {
			s.lifecycle.Fail(errors.New("subscriber: circuit breaker open, too many consecutive reconnect failures"))
			return
		}

		stream, err := s.transport.Open(ctx, int32(s.deadline.Current()))
		if err != nil {
			s.onOpenFailure(ctx, err)
			if !s.lifecycle.IsAlive() {
				return
			}
			continue
		}

		s.sender.set(stream)
		s.lifecycle.Running()
		if s.breaker != nil {
			s.breaker.RecordSuccess()
		}

		err = s.readLoop(ctx, stream)
		s.sender.set(nil)

		if err == nil || errors.Is(err, io.EOF) {
			// Clean close: spec.md §4.1 step 5 resets backoff and reopens.
			s.backoff.Reset()
			continue
		}
		if !s.lifecycle.IsAlive() {
			// Shutdown-induced cancellation (spec.md §5's Cancellation
			// paragraph): do not reopen.
			return
		}
		if isRetryable(err) {
			s.reconnectAfterBackoff(ctx, err)
			if !s.lifecycle.IsAlive() {
				return
			}
			continue
		}

		logging.Op().Error("stream supervisor: fatal transport error", "error", err)
		s.lifecycle.Fail(err)
		return
	}
}

func (s *Supervisor) onOpenFailure(ctx context.Context, err error) {
	logging.Op().Warn("stream supervisor: failed to open stream", "error", err)
	if s.breaker != nil {
		s.breaker.RecordFailure()
	}
	s.reconnectAfterBackoff(ctx, err)
}

func (s *Supervisor) reconnectAfterBackoff(ctx context.Context, cause error) {
	metrics.RecordStreamReconnect()
	delay := s.backoff.Next()
	logging.Op().Info("stream supervisor: reconnecting", "delay", delay, "cause", cause)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// readLoop requests one frame at a time (spec.md §4.1's automatic inbound
// flow control being disabled) and dispatches each to the Receiver
// Dispatcher until the stream errors, the lifecycle stops being alive, or a
// dispatch fails.
func (s *Supervisor) readLoop(ctx context.Context, stream transport.Stream) error {
	for {
		resp, err := stream.Recv()
		if err != nil {
			return err
		}
		if err := s.dispatcher.Dispatch(ctx, resp); err != nil {
			metrics.RecordStreamSendError()
			return err
		}
		if !s.lifecycle.IsAlive() {
			return nil
		}
	}
}

// Close half-closes the send side of the current stream, used by the
// subscriber's shutdown sequence (spec.md §4.1's step (e)). No cancelled
// status is sent; the stream's receive side ends when the transport's
// connection is closed.
func (s *Supervisor) Close() {
	s.sender.closeCurrent()
}
