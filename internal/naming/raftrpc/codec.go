// Package raftrpc transports Raft traffic over gRPC: inter-node
// AppendEntries/RequestVote/InstallSnapshot RPCs (via a raft.StreamLayer
// wrapping a single bidi stream per peer connection), and client-facing
// proposal forwarding to the current leader. There is no .proto-generated
// client/server stub here — frames are raw byte slices carried by a
// codec that skips protobuf marshaling entirely, since the payload is
// already hashicorp/raft's own wire format or this package's own
// NamingRaftReq encoding.
package raftrpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

const rawCodecName = "raftrpc-raw"

func init() {
	encoding.RegisterCodec(rawCodec{})
}

// rawFrame is the only message type raftrpc's gRPC methods ever carry.
type rawFrame []byte

// rawCodec implements google.golang.org/grpc/encoding.Codec for rawFrame,
// passing bytes through unchanged instead of running a protobuf
// marshaler neither side has generated code for.
type rawCodec struct{}

func (rawCodec) Name() string { return rawCodecName }

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(rawFrame)
	if !ok {
		return nil, fmt.Errorf("raftrpc: rawCodec.Marshal got %T, want rawFrame", v)
	}
	return f, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*rawFrame)
	if !ok {
		return fmt.Errorf("raftrpc: rawCodec.Unmarshal got %T, want *rawFrame", v)
	}
	*f = append([]byte(nil), data...)
	return nil
}
