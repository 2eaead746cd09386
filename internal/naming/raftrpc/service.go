package raftrpc

import (
	"context"
	"fmt"
	"net"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/nacos-raft/naming-registry/internal/logging"
	"github.com/nacos-raft/naming-registry/internal/naming/raft"
)

const clusterTokenHeader = "cluster-token"

// tokenCreds attaches the shared cluster_token as per-RPC metadata,
// standing in for the teacher's mTLS certificate enrollment (DESIGN.md):
// a static shared secret rather than per-node issued identity.
type tokenCreds struct{ token string }

func (c tokenCreds) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	return map[string]string{clusterTokenHeader: c.token}, nil
}

func (c tokenCreds) RequireTransportSecurity() bool { return false }

var streamStreamDesc = grpc.StreamDesc{
	StreamName:    "Stream",
	ServerStreams: true,
	ClientStreams: true,
}

// Server hosts the Raft peer-transport stream RPC and the client
// proposal-forwarding RPC behind a single cluster_token check, mirroring
// the teacher's bidi-stream + pending-correlation cluster/server pattern
// without its certificate machinery.
type Server struct {
	transport    *Transport
	driver       *raft.Driver
	clusterToken string
	grpcServer   *grpc.Server
	listener     net.Listener
	log          *logging.Logger
}

// NewServer constructs a Server bound to transport's Stream RPC and
// driver's Propose forwarding. Call Serve to start accepting connections.
func NewServer(transport *Transport, driver *raft.Driver, clusterToken string, log *logging.Logger) *Server {
	return &Server{transport: transport, driver: driver, clusterToken: clusterToken, log: log}
}

// Serve starts listening on addr and begins accepting both peer stream
// connections and client Propose calls. Blocks until the server stops.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("raftrpc: listen %s: %w", addr, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(
		grpc.StreamInterceptor(s.authStreamInterceptor),
		grpc.UnaryInterceptor(s.authUnaryInterceptor),
	)
	s.transport.grpcServer = s.grpcServer

	desc := &grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Propose",
				Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
					var in rawFrame
					if err := dec(&in); err != nil {
						return nil, err
					}
					return s.handlePropose(ctx, in)
				},
			},
			{
				MethodName: "Join",
				Handler: func(_ interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
					var in rawFrame
					if err := dec(&in); err != nil {
						return nil, err
					}
					return s.handleJoin(ctx, in)
				},
			},
		},
		Streams: []grpc.StreamDesc{
			{
				StreamName: "Stream",
				Handler: func(_ interface{}, stream grpc.ServerStream) error {
					return s.transport.handleStream(stream)
				},
				ServerStreams: true,
				ClientStreams: true,
			},
		},
		Metadata: "raftrpc",
	}

	s.grpcServer.RegisterService(desc, s)
	return s.grpcServer.Serve(lis)
}

// Stop gracefully shuts down the gRPC server.
func (s *Server) Stop() {
	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}
}

func (s *Server) authStreamInterceptor(srv interface{}, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if err := s.checkToken(ss.Context()); err != nil {
		return err
	}
	return handler(srv, ss)
}

func (s *Server) authUnaryInterceptor(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if err := s.checkToken(ctx); err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (s *Server) checkToken(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "raftrpc: missing metadata")
	}
	vals := md.Get(clusterTokenHeader)
	if len(vals) != 1 || vals[0] != s.clusterToken {
		return status.Error(codes.Unauthenticated, "raftrpc: invalid cluster token")
	}
	return nil
}

// handlePropose decodes a NamingRaftReq, applies it through the local
// Raft driver (which itself rejects the call with ErrNotLeader if this
// node is not currently the leader), and encodes the outcome.
func (s *Server) handlePropose(ctx context.Context, in rawFrame) (rawFrame, error) {
	reqID := uuid.NewString()
	req, err := raft.UnmarshalNamingRaftReq(in)
	if err != nil {
		s.log.Warn("propose decode failed", "request_id", reqID, "error", err)
		return encodeProposeError(err), nil
	}
	inst, err := s.driver.Propose(ctx, req)
	if err != nil {
		s.log.Warn("propose failed", "request_id", reqID, "error", err)
	} else {
		s.log.Debug("propose applied", "request_id", reqID)
	}
	return encodeProposeResult(inst, err), nil
}
