package subscriber

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/vega/internal/backoffx"
	"github.com/oriys/vega/internal/ticker"
	"github.com/oriys/vega/internal/transport"
	"github.com/oriys/vega/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeStream struct {
	mu     sync.Mutex
	frames []*wire.StreamingPullResponse
	idx    int
	sent   []*wire.StreamingPullRequest
	err    error // returned once all frames are drained
}

func (s *fakeStream) Send(req *wire.StreamingPullRequest) error {
	s.mu.Lock()
	s.sent = append(s.sent, req)
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) Recv() (*wire.StreamingPullResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx < len(s.frames) {
		f := s.frames[s.idx]
		s.idx++
		return f, nil
	}
	return nil, s.err
}

func (s *fakeStream) CloseSend() error { return nil }

type fakeTransport struct {
	opens  atomic.Int32
	stream func(attempt int) (*fakeStream, error)
}

func (t *fakeTransport) Open(ctx context.Context, initialDeadlineSeconds int32) (transport.Stream, error) {
	n := int(t.opens.Add(1))
	s, err := t.stream(n)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t *fakeTransport) Close() error { return nil }

func TestSupervisor_RetryableErrorTriggersBackoffReconnect(t *testing.T) {
	unavailable := status.Error(codes.Unavailable, "down")
	ft := &fakeTransport{
		stream: func(attempt int) (*fakeStream, error) {
			if attempt <= 3 {
				return &fakeStream{err: unavailable}, nil
			}
			return &fakeStream{err: errors.New("stop")}, nil
		},
	}

	d, _, _, _ := newTestDispatcher(t, ReceiverFunc(func(ctx context.Context, m *Message) Decision { return Ack }))
	dist := NewLatencyDistribution()
	sender := &streamSender{}
	deadlineCtrl := NewDeadlineController(dist, sender, ticker.NewTimerExecutor(), 10, 600, 3, 10)
	lifecycle := NewLifecycle(nil)
	lifecycle.Starting()

	backoff := backoffx.New(10*time.Millisecond, time.Second)
	sup := NewSupervisor(ft, d, deadlineCtrl, sender, lifecycle, backoff, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after a fatal error")
	}

	if ft.opens.Load() < 4 {
		t.Fatalf("expected at least 4 open attempts (3 retryable + 1 fatal), got %d", ft.opens.Load())
	}
	if lifecycle.State() != StateFailed {
		t.Fatalf("expected FAILED after a non-retryable error, got %v", lifecycle.State())
	}
}

func TestSupervisor_ShutdownStopsReconnectLoop(t *testing.T) {
	ft := &fakeTransport{
		stream: func(attempt int) (*fakeStream, error) {
			return &fakeStream{err: status.Error(codes.Unavailable, "down")}, nil
		},
	}

	d, _, _, _ := newTestDispatcher(t, ReceiverFunc(func(ctx context.Context, m *Message) Decision { return Ack }))
	dist := NewLatencyDistribution()
	sender := &streamSender{}
	deadlineCtrl := NewDeadlineController(dist, sender, ticker.NewTimerExecutor(), 10, 600, 3, 10)
	lifecycle := NewLifecycle(nil)
	lifecycle.Starting()

	backoff := backoffx.New(10*time.Millisecond, 50*time.Millisecond)
	sup := NewSupervisor(ft, d, deadlineCtrl, sender, lifecycle, backoff, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	time.Sleep(80 * time.Millisecond)
	lifecycle.Stopping()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after shutdown")
	}
}
