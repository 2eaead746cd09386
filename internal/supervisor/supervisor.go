// Package supervisor constructs and wires together every long-lived
// component of a single naming-registry node: the bbolt-backed stores,
// the in-memory naming.Registry actor, the expiry and sniffing sidecars,
// the Raft driver and its gRPC transport, the scheduled backup/GC jobs,
// and the Prometheus metrics endpoint. It mirrors the construction order
// the teacher's cmd/sentinel/main.go uses (config -> logging -> store ->
// domain services -> wiring -> background goroutines -> blocking run ->
// graceful shutdown), adapted to this process's much smaller surface: a
// single /metrics HTTP endpoint rather than a full web console.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	hraft "github.com/hashicorp/raft"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/nacos-raft/naming-registry/internal/clock"
	"github.com/nacos-raft/naming-registry/internal/config"
	"github.com/nacos-raft/naming-registry/internal/events"
	"github.com/nacos-raft/naming-registry/internal/logging"
	"github.com/nacos-raft/naming-registry/internal/metrics"
	"github.com/nacos-raft/naming-registry/internal/naming"
	"github.com/nacos-raft/naming-registry/internal/naming/expiry"
	"github.com/nacos-raft/naming-registry/internal/naming/raft"
	"github.com/nacos-raft/naming-registry/internal/naming/raftrpc"
	"github.com/nacos-raft/naming-registry/internal/naming/sniffing"
	"github.com/nacos-raft/naming-registry/internal/naming/transfer"
	"github.com/nacos-raft/naming-registry/internal/store"
)

const (
	raftTransportMaxPool = 3
	raftTransportTimeout = 10 * time.Second
	raftSnapshotRetain   = 3

	sniffTimeout       = 2 * time.Second
	sniffRetryInterval = 3 * time.Second

	metricsReadHeaderTimeout = 5 * time.Second
)

// Supervisor owns every component's lifecycle for one node.
type Supervisor struct {
	cfg       *config.AppSysConfig
	namingCfg config.NamingSysConfig
	log       *logging.Logger

	kvStore   *store.Store
	raftStore *store.RaftStore

	bus      *events.Bus
	registry *naming.Registry
	expiry   *expiry.Engine
	sniffer  *sniffing.Sniffer

	transport *raftrpc.Transport
	netTrans  *hraft.NetworkTransport
	driver    *raft.Driver
	rpcServer *raftrpc.Server
	rpcClient *raftrpc.Client

	cron          *cron.Cron
	metricsServer *http.Server
}

// New constructs every component and performs all post-construction
// wiring, but starts nothing: call Run to bring the node up.
func New(cfg *config.AppSysConfig, log *logging.Logger) (*Supervisor, error) {
	namingCfg := config.NewNamingSysConfig()

	if err := os.MkdirAll(cfg.ConfigDBDir, 0o755); err != nil {
		return nil, fmt.Errorf("supervisor: create config db dir: %w", err)
	}

	kvStore, err := store.Open(filepath.Join(cfg.ConfigDBDir, "naming.db"))
	if err != nil {
		return nil, fmt.Errorf("supervisor: open kv store: %w", err)
	}

	raftStore, err := store.OpenRaftStore(filepath.Join(cfg.ConfigDBDir, "raft.db"))
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("supervisor: open raft store: %w", err)
	}

	bus := events.New(func() { metrics.SubscriberDropsTotal.Inc() })
	registry := naming.New(namingCfg, clock.Real{}, bus)
	expiryEngine := expiry.New(clock.Real{}, log, namingCfg.OnceTimeCheckSize)
	sniffer := sniffing.New(log, sniffTimeout, sniffRetryInterval, 0)

	registry.SetExpirySink(expiryEngine)
	registry.SetSniffSink(sniffer)
	expiryEngine.SetRemover(registry)
	sniffer.SetRegistry(registry)

	fsm := raft.NewFSM(registry, registry, log)

	transport := raftrpc.NewTransport(cfg.RaftNodeAddr, cfg.ClusterToken())
	netTrans := hraft.NewNetworkTransport(transport, raftTransportMaxPool, raftTransportTimeout, raft.NewLogWriter(log))

	snapDir := filepath.Join(cfg.ConfigDBDir, "raft-snapshots")
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		kvStore.Close()
		raftStore.Close()
		return nil, fmt.Errorf("supervisor: create snapshot dir: %w", err)
	}
	snapStore, err := hraft.NewFileSnapshotStore(snapDir, raftSnapshotRetain, raft.NewLogWriter(log))
	if err != nil {
		kvStore.Close()
		raftStore.Close()
		return nil, fmt.Errorf("supervisor: open snapshot store: %w", err)
	}

	driver, err := raft.NewDriver(cfg, raftStore, raftStore, snapStore, netTrans, fsm, log)
	if err != nil {
		kvStore.Close()
		raftStore.Close()
		return nil, fmt.Errorf("supervisor: start raft driver: %w", err)
	}

	rpcServer := raftrpc.NewServer(transport, driver, cfg.ClusterToken(), log)
	rpcClient := raftrpc.NewClient(cfg.ClusterToken())

	s := &Supervisor{
		cfg:       cfg,
		namingCfg: namingCfg,
		log:       log,
		kvStore:   kvStore,
		raftStore: raftStore,
		bus:       bus,
		registry:  registry,
		expiry:    expiryEngine,
		sniffer:   sniffer,
		transport: transport,
		netTrans:  netTrans,
		driver:    driver,
		rpcServer: rpcServer,
		rpcClient: rpcClient,
		cron:      cron.New(),
	}
	s.scheduleCronJobs()
	return s, nil
}

// Registry returns the node's naming registry, for the gRPC/HTTP front
// end (not built in this package) to serve client requests against.
func (s *Supervisor) Registry() *naming.Registry { return s.registry }

// Driver returns the Raft driver, so a front end can decide whether to
// serve a write locally or forward it via rpcClient.Propose.
func (s *Supervisor) Driver() *raft.Driver { return s.driver }

// Client returns the raftrpc client used to forward writes to the
// current leader.
func (s *Supervisor) Client() *raftrpc.Client { return s.rpcClient }

func (s *Supervisor) scheduleCronJobs() {
	s.cron.AddFunc("@every 1h", s.runBackup)
	s.cron.AddFunc("@every 5m", s.runServiceGC)
}

func (s *Supervisor) runBackup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	path := filepath.Join(s.cfg.ConfigDBDir, fmt.Sprintf("backup-%d.snap", time.Now().UnixMilli()))
	f, err := os.Create(path)
	if err != nil {
		s.log.Error("backup: create file failed", "error", err)
		return
	}
	defer f.Close()

	if err := transfer.Backup(ctx, s.registry, transfer.BackupParam{Naming: true}, f); err != nil {
		s.log.Error("backup: export failed", "error", err)
		return
	}
	s.log.Info("backup: export complete", "path", path)
}

func (s *Supervisor) runServiceGC() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	namespaces, err := s.registry.ListServices(ctx, "")
	if err != nil {
		s.log.Error("service gc: list failed", "error", err)
		return
	}
	cutoff := uint64(time.Now().UnixMilli()) - s.namingCfg.ServiceTimeOutMillis
	for _, key := range namespaces {
		removed, err := s.registry.RemoveServiceIfEmptySince(ctx, key, cutoff)
		if err != nil {
			s.log.Error("service gc: remove failed", "service", key, "error", err)
			continue
		}
		if removed {
			s.log.Info("service gc: removed empty service", "service", key)
		}
	}
}

// Run starts every background goroutine, joins an existing cluster if
// configured to, and blocks until ctx is cancelled, then shuts everything
// down in reverse construction order.
func (s *Supervisor) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		if err := s.rpcServer.Serve(s.cfg.RaftNodeAddr); err != nil {
			select {
			case errCh <- fmt.Errorf("raft rpc server: %w", err):
			default:
			}
		}
	}()

	go s.expiry.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metricsServer = &http.Server{
		Addr:              net.JoinHostPort("", fmt.Sprintf("%d", s.cfg.HTTPPort)),
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- fmt.Errorf("metrics server: %w", err):
			default:
			}
		}
	}()

	s.cron.Start()

	if s.cfg.RaftJoinAddr != "" {
		joinCtx, cancel := context.WithTimeout(ctx, raftTransportTimeout)
		id := hraft.ServerID(fmt.Sprintf("%d", s.cfg.RaftNodeID))
		if err := s.rpcClient.Join(joinCtx, s.cfg.RaftJoinAddr, id, hraft.ServerAddress(s.cfg.RaftNodeAddr)); err != nil {
			cancel()
			s.log.Error("failed to join existing cluster", "join_addr", s.cfg.RaftJoinAddr, "error", err)
		} else {
			cancel()
			s.log.Info("joined existing cluster", "join_addr", s.cfg.RaftJoinAddr)
		}
	}

	s.log.Info("naming registry started",
		"raft_node_id", s.cfg.RaftNodeID,
		"raft_node_addr", s.cfg.RaftNodeAddr,
		"http_port", s.cfg.HTTPPort,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.shutdown()
		return err
	}

	s.shutdown()
	return nil
}

func (s *Supervisor) shutdown() {
	s.cron.Stop()
	s.expiry.Stop()
	s.registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(shutdownCtx)
	}

	s.rpcServer.Stop()
	if err := s.driver.Shutdown(); err != nil {
		s.log.Error("raft shutdown error", "error", err)
	}

	if err := s.raftStore.Close(); err != nil {
		s.log.Error("raft store close error", "error", err)
	}
	if err := s.kvStore.Close(); err != nil {
		s.log.Error("kv store close error", "error", err)
	}

	s.log.Info("naming registry shutdown complete")
}
