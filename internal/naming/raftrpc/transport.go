package raftrpc

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	hraft "github.com/hashicorp/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "raftrpc.Transport"

// RawStream is a bidirectional byte-frame pipe: the common shape both the
// gRPC client stream and server stream are adapted to.
type RawStream interface {
	Send([]byte) error
	Recv() ([]byte, error)
	Context() context.Context
}

type clientRawStream struct{ grpc.ClientStream }

func (s *clientRawStream) Send(b []byte) error {
	return s.ClientStream.SendMsg(rawFrame(b))
}

func (s *clientRawStream) Recv() ([]byte, error) {
	var f rawFrame
	if err := s.ClientStream.RecvMsg(&f); err != nil {
		return nil, err
	}
	return f, nil
}

type serverRawStream struct{ grpc.ServerStream }

func (s *serverRawStream) Send(b []byte) error {
	return s.ServerStream.SendMsg(rawFrame(b))
}

func (s *serverRawStream) Recv() ([]byte, error) {
	var f rawFrame
	if err := s.ServerStream.RecvMsg(&f); err != nil {
		return nil, err
	}
	return f, nil
}

// raftAddr is a net.Addr wrapping a plain "host:port" string, since the
// Raft transport only ever needs the string form.
type raftAddr string

func (a raftAddr) Network() string { return "tcp" }
func (a raftAddr) String() string  { return string(a) }

// streamConn adapts a single RawStream to net.Conn, the shape
// hashicorp/raft's NetworkTransport reads and writes against. Frame
// boundaries from Send/Recv are irrelevant to the byte-stream consumer
// above (NetworkTransport does its own msgpack framing), so Read simply
// drains whatever the last Recv delivered before asking for another
// frame.
//
// Deadlines are not enforced here: SetDeadline, SetReadDeadline and
// SetWriteDeadline are no-ops, so deadlines NetworkTransport sets on the
// conn have no effect. A stream ends only when it is closed or the
// underlying gRPC stream fails.
type streamConn struct {
	stream        RawStream
	readBuf       []byte
	local, remote net.Addr

	closeOnce sync.Once
	closeFn   func() error
}

func (c *streamConn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		b, err := c.stream.Recv()
		if err != nil {
			if err == io.EOF {
				return 0, io.EOF
			}
			return 0, err
		}
		c.readBuf = b
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

func (c *streamConn) Write(p []byte) (int, error) {
	if err := c.stream.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.closeFn() })
	return err
}

func (c *streamConn) LocalAddr() net.Addr  { return c.local }
func (c *streamConn) RemoteAddr() net.Addr { return c.remote }

func (c *streamConn) SetDeadline(t time.Time) error      { return nil }
func (c *streamConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *streamConn) SetWriteDeadline(t time.Time) error { return nil }

// Transport implements hraft.StreamLayer over a gRPC bidi stream per
// connection, replacing the hashicorp/raft default TCP transport so
// every inter-node RPC rides the same cluster_token-authenticated gRPC
// channel as client proposal forwarding.
type Transport struct {
	localAddr    raftAddr
	clusterToken string

	grpcServer *grpc.Server
	incoming   chan *streamConn
}

// NewTransport constructs a Transport listening as localAddr. Inbound peer
// connections arrive once a Server built over it is running Server.Serve.
func NewTransport(localAddr string, clusterToken string) *Transport {
	return &Transport{
		localAddr:    raftAddr(localAddr),
		clusterToken: clusterToken,
		incoming:     make(chan *streamConn, 16),
	}
}

// Dial opens a new gRPC bidi stream to address and adapts it to net.Conn
// for hraft.NetworkTransport. grpc.NewClient itself never blocks (the
// connection is established lazily on first use). timeout is not used:
// the stream is long-lived and must outlive this call, so it is opened
// against context.Background().
func (t *Transport) Dial(address hraft.ServerAddress, timeout time.Duration) (net.Conn, error) {
	cc, err := grpc.NewClient(string(address),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(tokenCreds{token: t.clusterToken}),
	)
	if err != nil {
		return nil, fmt.Errorf("raftrpc: dial %s: %w", address, err)
	}

	clientStream, err := cc.NewStream(context.Background(), &streamStreamDesc, "/"+serviceName+"/Stream",
		grpc.CallContentSubtype(rawCodecName))
	if err != nil {
		cc.Close()
		return nil, fmt.Errorf("raftrpc: open stream to %s: %w", address, err)
	}

	return &streamConn{
		stream: &clientRawStream{clientStream},
		local:  t.localAddr,
		remote: raftAddr(address),
		closeFn: func() error {
			clientStream.CloseSend()
			return cc.Close()
		},
	}, nil
}

// Accept blocks until a peer opens an inbound stream, returning it as a
// net.Conn.
func (t *Transport) Accept() (net.Conn, error) {
	c, ok := <-t.incoming
	if !ok {
		return nil, io.EOF
	}
	return c, nil
}

// Close stops accepting new peer connections.
func (t *Transport) Close() error {
	close(t.incoming)
	if t.grpcServer != nil {
		t.grpcServer.GracefulStop()
	}
	return nil
}

// Addr reports the local Raft address this transport answers to.
func (t *Transport) Addr() net.Addr { return t.localAddr }

// handleStream is registered with the gRPC server as the Stream RPC; it
// hands the inbound conn to Accept and blocks until the conn is closed,
// since a streaming RPC handler must not return while the peer still
// expects frames.
func (t *Transport) handleStream(stream grpc.ServerStream) error {
	done := make(chan struct{})
	conn := &streamConn{
		stream:  &serverRawStream{stream},
		local:   t.localAddr,
		remote:  raftAddr("peer"),
		closeFn: func() error { close(done); return nil },
	}

	select {
	case t.incoming <- conn:
	case <-stream.Context().Done():
		return stream.Context().Err()
	}

	select {
	case <-done:
		return nil
	case <-stream.Context().Done():
		return stream.Context().Err()
	}
}
