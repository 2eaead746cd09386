package raftrpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nacos-raft/naming-registry/internal/naming"
	"github.com/nacos-raft/naming-registry/internal/naming/raft"
)

// Client forwards a client-facing perpetual-instance write to whichever
// node is currently Raft leader, when the local driver reports
// ErrNotLeader. One Client is reused across calls; each Propose opens its
// own connection to leaderAddr and closes it before returning.
type Client struct {
	clusterToken string
}

// NewClient constructs a Client authenticating with clusterToken.
func NewClient(clusterToken string) *Client {
	return &Client{clusterToken: clusterToken}
}

// Propose forwards req to leaderAddr's Propose RPC and decodes the
// resulting instance (nil for a successful removal).
func (c *Client) Propose(ctx context.Context, leaderAddr string, req *raft.NamingRaftReq) (*naming.Instance, error) {
	cc, err := grpc.NewClient(leaderAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(tokenCreds{token: c.clusterToken}),
	)
	if err != nil {
		return nil, fmt.Errorf("raftrpc: dial leader %s: %w", leaderAddr, err)
	}
	defer cc.Close()

	var resp rawFrame
	reqFrame := rawFrame(req.Marshal())
	if err := cc.Invoke(ctx, "/"+serviceName+"/Propose", reqFrame, &resp, grpc.CallContentSubtype(rawCodecName)); err != nil {
		return nil, fmt.Errorf("raftrpc: propose to %s: %w", leaderAddr, err)
	}
	return decodeProposeResult(resp)
}
