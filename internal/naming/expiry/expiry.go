// Package expiry implements the heartbeat expiry engine: a bounded
// min-heap of ephemeral-instance deadlines, ticked periodically, that
// feeds expirations back into the registry as RemoveEphemeral calls.
package expiry

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/nacos-raft/naming-registry/internal/clock"
	"github.com/nacos-raft/naming-registry/internal/logging"
	"github.com/nacos-raft/naming-registry/internal/metrics"
	"github.com/nacos-raft/naming-registry/internal/naming"
)

// TickInterval is how often the engine wakes to check for lapsed
// deadlines, per spec.md §4.2.
const TickInterval = 500 * time.Millisecond

// Remover is the subset of *naming.Registry the engine needs to expire
// instances. Injected post-construction to break the registry/engine
// construction cycle (Design Notes, "Cyclic dependencies").
type Remover interface {
	RemoveEphemeral(ctx context.Context, key naming.InstanceKey) error
}

type deadlineEntry struct {
	key       naming.InstanceKey
	deadline  uint64 // millis
	heapIndex int
}

// deadlineHeap is a min-heap ordered by absolute deadline, so a missed
// tick never causes a missed expiration: the engine always catches up by
// draining every entry whose deadline has passed, however many ticks ago.
type deadlineHeap []*deadlineEntry

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].deadline < h[j].deadline }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *deadlineHeap) Push(x any) {
	e := x.(*deadlineEntry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Engine is the heartbeat expiry engine.
type Engine struct {
	clock   clock.Clock
	log     *logging.Logger
	remover Remover

	onceTimeCheckSize int

	mu      sync.Mutex
	heap    deadlineHeap
	entries map[naming.InstanceKey]*deadlineEntry

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Engine. Call SetRemover before Run to wire the
// registry, then Run to start the tick loop.
func New(c clock.Clock, log *logging.Logger, onceTimeCheckSize int) *Engine {
	return &Engine{
		clock:             c,
		log:               log,
		onceTimeCheckSize: onceTimeCheckSize,
		entries:           make(map[naming.InstanceKey]*deadlineEntry),
	}
}

// SetRemover wires the registry's expiry callback into the engine.
func (e *Engine) SetRemover(r Remover) { e.remover = r }

// Arm schedules (or reschedules) key to expire at deadlineMillis.
func (e *Engine) Arm(key naming.InstanceKey, deadlineMillis uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.entries[key]; ok {
		entry.deadline = deadlineMillis
		heap.Fix(&e.heap, entry.heapIndex)
		return
	}
	entry := &deadlineEntry{key: key, deadline: deadlineMillis}
	e.entries[key] = entry
	heap.Push(&e.heap, entry)
}

// Disarm removes key's scheduled expiration, if any.
func (e *Engine) Disarm(key naming.InstanceKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.entries[key]
	if !ok {
		return
	}
	heap.Remove(&e.heap, entry.heapIndex)
	delete(e.entries, key)
}

// Run starts the tick loop, processing at most onceTimeCheckSize lapsed
// entries per tick to bound per-tick latency (spec.md §4.2). Exits when
// ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	defer close(e.done)

	for {
		select {
		case <-e.clock.After(TickInterval):
			e.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Stop cancels the tick loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) tick(ctx context.Context) {
	start := e.clock.Now()
	defer func() {
		metrics.ExpiryTickDuration.Observe(e.clock.Since(start).Seconds())
	}()

	nowMillis := uint64(e.clock.Now().UnixMilli())
	var lapsed []naming.InstanceKey

	e.mu.Lock()
	for len(lapsed) < e.onceTimeCheckSize && e.heap.Len() > 0 && e.heap[0].deadline <= nowMillis {
		entry := heap.Pop(&e.heap).(*deadlineEntry)
		delete(e.entries, entry.key)
		lapsed = append(lapsed, entry.key)
	}
	e.mu.Unlock()

	for _, key := range lapsed {
		if e.remover == nil {
			continue
		}
		if err := e.remover.RemoveEphemeral(ctx, key); err != nil {
			e.log.Warn("expire instance failed", "key", key, "error", err)
			continue
		}
		metrics.ExpirationsTotal.Inc()
	}
}

// Len reports how many deadlines are currently scheduled. Exposed for
// tests.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.heap.Len()
}
