// Package wire defines the StreamingPull wire messages and the codec used
// to marshal them over the bidirectional gRPC stream. Production pub/sub
// services define these messages in protobuf; here they are hand-authored
// Go structs carried by a small JSON-based grpc.Codec so the transport layer
// needs no generated .pb.go stubs (spec.md §3, GLOSSARY "StreamingPull").
package wire

import (
	"encoding/json"
	"time"
)

// ReceivedMessage is a single message delivered by the stream, paired with
// the ack ID the client must present to ack/nack/extend it.
type ReceivedMessage struct {
	AckID           string            `json:"ack_id"`
	MessageID       string            `json:"message_id"`
	Data            []byte            `json:"data"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	PublishTime     time.Time         `json:"publish_time"`
	DeliveryAttempt int32             `json:"delivery_attempt,omitempty"`
}

// StreamingPullRequest is sent on the client->server half of the stream.
// Mirroring the real StreamingPull RPC, the initial frame carries
// Subscription, and every subsequent frame carries some combination of
// AckIDs, ModifyDeadlineAckIDs, and StreamAckDeadlineSeconds.
type StreamingPullRequest struct {
	Subscription             string   `json:"subscription,omitempty"`
	AckIDs                   []string `json:"ack_ids,omitempty"`
	ModifyDeadlineAckIDs     []string `json:"modify_deadline_ack_ids,omitempty"`
	ModifyDeadlineSeconds    []int32  `json:"modify_deadline_seconds,omitempty"`
	StreamAckDeadlineSeconds int32    `json:"stream_ack_deadline_seconds,omitempty"`
	ClientID                 string   `json:"client_id,omitempty"`
}

// StreamingPullResponse is sent on the server->client half of the stream.
type StreamingPullResponse struct {
	ReceivedMessages []ReceivedMessage `json:"received_messages,omitempty"`
}

// Codec implements grpc/encoding.Codec with JSON marshaling. Real Pub/Sub
// deployments use protobuf; JSON is substituted here only because the
// protobuf schema compiler isn't available in this environment, and is
// registered under its own name ("vega-json") so it never shadows grpc's
// built-in proto codec.
type Codec struct{}

// Name returns the codec name registered with grpc's encoding package.
func (Codec) Name() string { return "vega-json" }

// Marshal encodes v as JSON bytes.
func (Codec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON bytes into v.
func (Codec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
