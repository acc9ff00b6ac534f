// Package transport opens the bidirectional StreamingPull RPC against the
// pub/sub service endpoint and exposes it as the narrow Stream contract the
// stream supervisor drives (spec.md §3's "the stream" and §6's Transport
// contract).
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/vega/internal/credentials"
	"github.com/oriys/vega/internal/logging"
	"github.com/oriys/vega/internal/observability"
	"github.com/oriys/vega/internal/wire"
	"google.golang.org/grpc"
	grpccredentials "google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

func init() {
	encoding.RegisterCodec(wire.Codec{})
}

// Stream is the narrow bidirectional channel the supervisor drives. A real
// implementation wraps a grpc.ClientStream; a fake implementation can back
// tests without a running service.
type Stream interface {
	Send(*wire.StreamingPullRequest) error
	Recv() (*wire.StreamingPullResponse, error)
	CloseSend() error
}

// Transport opens new StreamingPull streams against the configured
// endpoint. The supervisor calls Open once per connect/reconnect cycle.
type Transport interface {
	// Open starts a new stream and sends the initial request frame naming
	// the subscription and the stream's current ack deadline (spec.md
	// §4.1's start sequence, step 2).
	Open(ctx context.Context, initialDeadlineSeconds int32) (Stream, error)
	Close() error
}

// GRPCTransport is the default Transport, backed by a single long-lived
// grpc.ClientConn shared across reconnects (spec.md §3's Stream Supervisor
// reopens the RPC, not the TCP connection).
type GRPCTransport struct {
	conn         *grpc.ClientConn
	method       string
	subscription string
	creds        credentials.Provider
	clientID     string
}

// GRPCTransportConfig configures a GRPCTransport.
type GRPCTransportConfig struct {
	Endpoint     string
	Insecure     bool
	Subscription string
	Method       string // full gRPC method name, defaults to the Pub/Sub StreamingPull method
	Credentials  credentials.Provider
}

const defaultStreamingPullMethod = "/google.pubsub.v1.Subscriber/StreamingPull"

// NewGRPCTransport creates the client channel for the endpoint and returns a
// ready Transport. grpc.NewClient does not connect here; the connection is
// established on first use and shared by every stream opened per Open()
// call, so a dropped stream never requires re-dialing the TCP connection.
func NewGRPCTransport(cfg GRPCTransportConfig) (*GRPCTransport, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(wire.Codec{}.Name())),
		grpc.WithChainUnaryInterceptor(loggingUnaryInterceptor),
		grpc.WithChainStreamInterceptor(loggingStreamInterceptor),
	}
	if cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(grpccredentials.NewClientTLSFromCert(nil, "")))
	}

	conn, err := grpc.NewClient(cfg.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", cfg.Endpoint, err)
	}

	method := cfg.Method
	if method == "" {
		method = defaultStreamingPullMethod
	}

	return &GRPCTransport{
		conn:         conn,
		method:       method,
		subscription: cfg.Subscription,
		creds:        cfg.Credentials,
		clientID:     uuid.New().String()[:8],
	}, nil
}

// Open starts a new StreamingPull RPC and sends the initial request frame
// carrying the subscription name (spec.md §3).
func (t *GRPCTransport) Open(ctx context.Context, initialDeadlineSeconds int32) (Stream, error) {
	ctx, span := observability.StartSpan(ctx, "transport.open",
		observability.AttrSubscription.String(t.subscription))
	defer span.End()

	logging.Op().Info("transport: opening stream", "client_id", t.clientID, "subscription", t.subscription)

	if t.creds != nil {
		tok, err := t.creds.Token(ctx)
		if err != nil {
			observability.SetSpanError(span, err)
			return nil, fmt.Errorf("transport: credentials: %w", err)
		}
		ctx = credentials.WithAuthorization(ctx, tok)
		if tok != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
		}
	}

	clientStream, err := t.conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    "StreamingPull",
		ServerStreams: true,
		ClientStreams: true,
	}, t.method)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, fmt.Errorf("transport: open stream: %w", err)
	}

	s := &grpcStream{stream: clientStream}
	initReq := &wire.StreamingPullRequest{
		Subscription:             t.subscription,
		StreamAckDeadlineSeconds: initialDeadlineSeconds,
		ClientID:                 t.clientID,
	}
	if err := s.Send(initReq); err != nil {
		observability.SetSpanError(span, err)
		return nil, fmt.Errorf("transport: send initial request: %w", err)
	}
	observability.SetSpanOK(span)
	return s, nil
}

// Close tears down the underlying connection. Called once, on subscriber
// shutdown.
func (t *GRPCTransport) Close() error {
	return t.conn.Close()
}

type grpcStream struct {
	stream grpc.ClientStream
}

func (s *grpcStream) Send(req *wire.StreamingPullRequest) error {
	return s.stream.SendMsg(req)
}

func (s *grpcStream) Recv() (*wire.StreamingPullResponse, error) {
	resp := &wire.StreamingPullResponse{}
	if err := s.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *grpcStream) CloseSend() error {
	return s.stream.CloseSend()
}

// loggingUnaryInterceptor and loggingStreamInterceptor are adapted from the
// teacher's server-side request logging interceptors, mirrored for the
// client side of a long-lived streaming RPC.
func loggingUnaryInterceptor(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
	start := time.Now()
	err := invoker(ctx, method, req, reply, cc, opts...)
	logging.Op().Debug("grpc unary call", "method", method, "duration", time.Since(start), "error", err)
	return err
}

func loggingStreamInterceptor(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	logging.Op().Info("grpc stream opening", "method", method)
	cs, err := streamer(ctx, desc, cc, method, opts...)
	if err != nil {
		logging.Op().Error("grpc stream open failed", "method", method, "error", err)
	}
	return cs, err
}
