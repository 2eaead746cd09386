// Package sniffing implements the net sniffing actor: asynchronous TCP
// reachability probes for perpetual instances, reporting outcomes back to
// the registry without going through Raft.
package sniffing

import (
	"context"
	"net"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/nacos-raft/naming-registry/internal/logging"
	"github.com/nacos-raft/naming-registry/internal/metrics"
	"github.com/nacos-raft/naming-registry/internal/naming"
)

// ResultSink is the registry's inbound interface as seen by the sniffer.
// Injected post-construction (Design Notes, "Cyclic dependencies").
type ResultSink interface {
	PerpetualHostSniffing(ctx context.Context, host naming.InstanceShortKey, keys []naming.ServiceKey, success bool) error
}

// Dialer abstracts the network dial used for probing, so tests can inject
// a fake without opening real sockets.
type Dialer interface {
	DialTimeout(network, address string, timeout time.Duration) (net.Conn, error)
}

type netDialer struct{}

func (netDialer) DialTimeout(network, address string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, address, timeout)
}

// Sniffer probes TCP reachability of perpetual instance endpoints. Each
// command runs as an independent goroutine, bounded by a semaphore sized
// runtime.NumCPU()*32 per spec.md §4.3 to avoid socket exhaustion.
type Sniffer struct {
	dialer        Dialer
	log           *logging.Logger
	timeout       time.Duration
	retryInterval time.Duration
	sem           chan struct{}
	registry      ResultSink

	mu             sync.Mutex
	serviceHostReg map[hostServiceKey]struct{}
}

type hostServiceKey struct {
	host naming.InstanceShortKey
	key  naming.ServiceKey
}

// DefaultSemaphoreSize returns the core-count*32 cap spec.md §4.3 names
// as the default.
func DefaultSemaphoreSize() int {
	return runtime.NumCPU() * 32
}

// New constructs a Sniffer. Call SetRegistry before scheduling probes.
func New(log *logging.Logger, timeout, retryInterval time.Duration, semaphoreSize int) *Sniffer {
	if semaphoreSize <= 0 {
		semaphoreSize = DefaultSemaphoreSize()
	}
	return &Sniffer{
		dialer:         netDialer{},
		log:            log,
		timeout:        timeout,
		retryInterval:  retryInterval,
		sem:            make(chan struct{}, semaphoreSize),
		serviceHostReg: make(map[hostServiceKey]struct{}),
	}
}

// SetRegistry wires the registry handle the sniffer reports results to.
func (s *Sniffer) SetRegistry(r ResultSink) { s.registry = r }

// SetDialer overrides the network dialer, for tests.
func (s *Sniffer) SetDialer(d Dialer) { s.dialer = d }

// ScheduleProbe implements naming.SniffSink: it records interest in
// (host, key) and immediately kicks off an asynchronous probe for it.
// Called by the registry when a perpetual instance is registered or
// loaded.
func (s *Sniffer) ScheduleProbe(host naming.InstanceShortKey, key naming.ServiceKey) {
	hsk := hostServiceKey{host: host, key: key}
	s.mu.Lock()
	s.serviceHostReg[hsk] = struct{}{}
	s.mu.Unlock()
	s.ProbeServiceHost(context.Background(), host, []naming.ServiceKey{key})
}

// CancelProbe implements naming.SniffSink: it forgets (host, key). Probes
// are one-shot (single attempt plus one retry) and never rescheduled, so
// there is nothing to abort: a probe already in flight still completes
// and reports its result.
func (s *Sniffer) CancelProbe(host naming.InstanceShortKey, key naming.ServiceKey) {
	s.mu.Lock()
	delete(s.serviceHostReg, hostServiceKey{host: host, key: key})
	s.mu.Unlock()
}

// ProbeHost probes host once and returns whether the connection
// succeeded, blocking until the probe completes (or times out).
func (s *Sniffer) ProbeHost(ctx context.Context, host naming.InstanceShortKey) bool {
	return s.probeOnce(host)
}

// ProbeServiceHost schedules an asynchronous probe of host: one attempt,
// and on failure one retry after retryInterval, then posts exactly one
// PerpetualHostSniffing result to the registry for every service key in
// keys; if ctx ends during the retry wait, the result is a failure. It
// blocks until a semaphore slot is free (if ctx ends first, nothing is
// probed or posted), then returns while the probe runs on its own
// goroutine.
func (s *Sniffer) ProbeServiceHost(ctx context.Context, host naming.InstanceShortKey, keys []naming.ServiceKey) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	go func() {
		defer func() { <-s.sem }()

		start := time.Now()
		success := s.probeOnce(host)
		if !success {
			select {
			case <-time.After(s.retryInterval):
				success = s.probeOnce(host)
			case <-ctx.Done():
			}
		}
		metrics.ProbeDuration.Observe(time.Since(start).Seconds())

		if s.registry == nil {
			return
		}
		reportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.registry.PerpetualHostSniffing(reportCtx, host, keys, success); err != nil {
			s.log.Warn("report sniff result failed", "host", host, "error", err)
		}
	}()
}

func (s *Sniffer) probeOnce(host naming.InstanceShortKey) bool {
	addr := net.JoinHostPort(host.IP, strconv.Itoa(int(host.Port)))
	conn, err := s.dialer.DialTimeout("tcp", addr, s.timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
