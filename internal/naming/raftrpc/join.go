package raftrpc

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	hraft "github.com/hashicorp/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Join lets a starting node ask the cluster (via any node, which forwards
// to its own driver.AddVoter — only the leader can actually admit a
// voter, so a non-leader's AddVoter call surfaces hraft.ErrNotLeader same
// as Propose does) to admit it as a new voter, realizing the raft_join_addr
// config variable (spec.md §6). It reuses Propose's raw-frame plumbing
// rather than a separate wire format: the payload is just "id addr".
func encodeJoinRequest(id hraft.ServerID, addr hraft.ServerAddress) rawFrame {
	return rawFrame(string(id) + " " + string(addr))
}

func decodeJoinRequest(data []byte) (hraft.ServerID, hraft.ServerAddress, error) {
	parts := strings.SplitN(string(data), " ", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("raftrpc: malformed join request %q", data)
	}
	return hraft.ServerID(parts[0]), hraft.ServerAddress(parts[1]), nil
}

// Join asks joinAddr's node to admit (id, addr) as a Raft voter.
func (c *Client) Join(ctx context.Context, joinAddr string, id hraft.ServerID, addr hraft.ServerAddress) error {
	cc, err := grpc.NewClient(joinAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(tokenCreds{token: c.clusterToken}),
	)
	if err != nil {
		return fmt.Errorf("raftrpc: dial join target %s: %w", joinAddr, err)
	}
	defer cc.Close()

	var resp rawFrame
	req := encodeJoinRequest(id, addr)
	if err := cc.Invoke(ctx, "/"+serviceName+"/Join", req, &resp, grpc.CallContentSubtype(rawCodecName)); err != nil {
		return fmt.Errorf("raftrpc: join via %s: %w", joinAddr, err)
	}
	if len(resp) > 0 {
		return fmt.Errorf("raftrpc: join via %s: %s", joinAddr, string(resp))
	}
	return nil
}

// handleJoin decodes a join request and applies it via the local driver.
func (s *Server) handleJoin(ctx context.Context, in rawFrame) (rawFrame, error) {
	reqID := uuid.NewString()
	id, addr, err := decodeJoinRequest(in)
	if err != nil {
		s.log.Warn("join request malformed", "request_id", reqID, "error", err)
		return rawFrame(err.Error()), nil
	}
	if err := s.driver.AddVoter(ctx, id, addr); err != nil {
		s.log.Warn("join failed", "request_id", reqID, "node_id", id, "error", err)
		return rawFrame(err.Error()), nil
	}
	s.log.Info("node joined cluster", "request_id", reqID, "node_id", id, "node_addr", addr)
	return rawFrame{}, nil
}
