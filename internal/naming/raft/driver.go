package raft

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	hraft "github.com/hashicorp/raft"

	"github.com/nacos-raft/naming-registry/internal/config"
	"github.com/nacos-raft/naming-registry/internal/logging"
	"github.com/nacos-raft/naming-registry/internal/naming"
)

// proposeTimeout is the default deadline used when the caller's context
// carries none; spec.md §5 leaves the exact value to the implementer but
// requires that every propose eventually surfaces Timeout rather than
// hanging forever.
const proposeTimeout = 10 * time.Second

// Transport is an alias of hraft's full Transport interface, so a
// transport built over internal/naming/raftrpc's gRPC stream layer can be
// passed in without the driver depending on gRPC directly.
type Transport = hraft.Transport

// Driver wraps *raft.Raft: it owns bootstrap, cluster membership, and
// turns client-facing NamingRaftReq values into committed log entries.
type Driver struct {
	raft *hraft.Raft
	fsm  *FSM
}

// NewDriver constructs and starts a Raft node backed by logStore/
// stableStore (internal/store.RaftStore satisfies both in production;
// tests may supply hashicorp/raft's in-memory stores) and snapStore,
// using transport for RPC to peers. The FSM drives registry via
// ApplyPerpetualRegister/Update/Remove and snapshot streaming.
func NewDriver(cfg *config.AppSysConfig, logStore hraft.LogStore, stableStore hraft.StableStore, snapStore hraft.SnapshotStore, transport Transport, fsm *FSM, log *logging.Logger) (*Driver, error) {
	raftCfg := hraft.DefaultConfig()
	raftCfg.LocalID = hraft.ServerID(fmt.Sprintf("%d", cfg.RaftNodeID))
	raftCfg.LogOutput = newLogWriter(log)

	node, err := hraft.NewRaft(raftCfg, fsm, logStore, stableStore, snapStore, transport)
	if err != nil {
		return nil, fmt.Errorf("start raft node: %w", err)
	}

	d := &Driver{raft: node, fsm: fsm}

	if cfg.RaftAutoInit {
		bootstrapCfg := hraft.Configuration{
			Servers: []hraft.Server{
				{ID: raftCfg.LocalID, Address: transport.LocalAddr()},
			},
		}
		f := node.BootstrapCluster(bootstrapCfg)
		if err := f.Error(); err != nil && err != hraft.ErrCantBootstrap {
			return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
		}
	}

	return d, nil
}

// Propose submits req to the leader's log and blocks until it commits or
// ctx expires. A non-leader driver returns hraft.ErrNotLeader directly;
// callers forward clients to the current leader via raftrpc.
func (d *Driver) Propose(ctx context.Context, req *NamingRaftReq) (*naming.Instance, error) {
	timeout := proposeTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if d.raft.State() != hraft.Leader {
		return nil, hraft.ErrNotLeader
	}

	f := d.raft.Apply(req.Marshal(), timeout)
	if err := f.Error(); err != nil {
		if err == hraft.ErrEnqueueTimeout {
			return nil, naming.NewError(naming.KindTimeout, "Propose", err)
		}
		return nil, err
	}

	result, ok := f.Response().(ApplyResult)
	if !ok {
		return nil, naming.NewError(naming.KindDecodeError, "Propose", fmt.Errorf("unexpected apply response type %T", f.Response()))
	}
	return result.Instance, result.Err
}

// RegisterInstance proposes a perpetual instance registration.
func (d *Driver) RegisterInstance(ctx context.Context, param *InstanceRegisterParam) (*naming.Instance, error) {
	return d.Propose(ctx, &NamingRaftReq{Kind: ReqRegisterInstance, RegisterParam: param})
}

// UpdateInstance proposes a perpetual instance update.
func (d *Driver) UpdateInstance(ctx context.Context, param *InstanceRegisterParam) (*naming.Instance, error) {
	return d.Propose(ctx, &NamingRaftReq{Kind: ReqUpdateInstance, RegisterParam: param})
}

// RemoveInstance proposes a perpetual instance removal.
func (d *Driver) RemoveInstance(ctx context.Context, key naming.InstanceKey, lastModifiedMillis uint64) error {
	_, err := d.Propose(ctx, &NamingRaftReq{
		Kind: ReqRemoveInstance,
		RemoveKey: &RemoveKey{
			Namespace:          key.Namespace,
			Group:              key.Group,
			Service:            key.Service,
			IP:                 key.IP,
			Port:               key.Port,
			LastModifiedMillis: lastModifiedMillis,
		},
	})
	return err
}

// IsLeader reports whether this node currently holds leadership.
func (d *Driver) IsLeader() bool { return d.raft.State() == hraft.Leader }

// LeaderAddr returns the current leader's transport address, or empty if
// unknown.
func (d *Driver) LeaderAddr() string {
	addr, _ := d.raft.LeaderWithID()
	return string(addr)
}

// AddVoter joins a new node at addr into the cluster. Called from
// raftrpc when a peer asks to join via RaftJoinAddr.
func (d *Driver) AddVoter(ctx context.Context, id hraft.ServerID, addr hraft.ServerAddress) error {
	f := d.raft.AddVoter(id, addr, 0, 0)
	return f.Error()
}

// Shutdown stops the Raft node.
func (d *Driver) Shutdown() error {
	return d.raft.Shutdown().Error()
}

// logWriter forwards hashicorp/raft's internal log lines into the
// registry's own structured logger, so Raft's chatter shows up through
// the same sink as the rest of the process.
type logWriter struct {
	log *logging.Logger
}

func newLogWriter(log *logging.Logger) *logWriter {
	return &logWriter{log: log}
}

// NewLogWriter exposes the same hashicorp/raft log adapter for callers
// outside this package that construct their own hraft.NetworkTransport
// (internal/supervisor, wiring raftrpc.Transport into hraft).
func NewLogWriter(log *logging.Logger) io.Writer {
	return newLogWriter(log)
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.log.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
