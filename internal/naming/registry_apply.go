package naming

import (
	"context"

	"github.com/nacos-raft/naming-registry/internal/metrics"
)

// This file holds the Raft apply path: the only entry points that may
// create, update, or remove perpetual instances. It is invoked solely by
// internal/naming/raft's FSM.Apply once an entry has committed, never
// directly by client-facing code (spec.md §4.1: "must arrive via the Raft
// apply path only").
//
// The apply path MUST be deterministic: it never consults wall-clock
// time (last_modified_millis travels in the request), never ranges over
// Go maps in a way that affects the resulting state, and never calls the
// sniffer inline (it only schedules a probe request, which is itself
// non-deterministic and lives entirely outside the replicated log).

// ---- ApplyPerpetualRegister ----

type applyRegisterCmd struct {
	inst  *Instance
	reply chan registerResult
}

func (c *applyRegisterCmd) execute(r *Registry) {
	inst := c.inst
	if inst.Ephemeral {
		c.reply <- registerResult{err: NewError(KindInvariantViolation, "ApplyPerpetualRegister", nil)}
		return
	}
	r.internInstance(inst)
	key := inst.Key()
	s := r.serviceFor(key)
	shortKey := inst.ShortKey()

	if existing, ok := s.findAnyCluster(shortKey); ok {
		if existing.Ephemeral {
			c.reply <- registerResult{err: NewError(KindInvariantViolation, "ApplyPerpetualRegister", nil)}
			return
		}
		if inst.LastModifiedMillis <= existing.LastModifiedMillis {
			// Idempotent replay (P2, scenario 3): no-op, return current state.
			c.reply <- registerResult{inst: existing.Clone()}
			return
		}
	}

	inst.Healthy = true
	s.clusterFor(inst.ClusterName).put(inst)
	if r.sniff != nil {
		r.sniff.ScheduleProbe(shortKey, key)
	}
	rev := s.bumpRevision()
	metrics.RegisterTotal.WithLabelValues("perpetual").Inc()
	r.publish(key, ChangeAdded, rev, inst, s)
	c.reply <- registerResult{inst: inst.Clone()}
}

// ApplyPerpetualRegister applies a committed RegisterInstance Raft entry.
// Idempotent by LastModifiedMillis: replaying an already-applied request
// is a no-op.
func (r *Registry) ApplyPerpetualRegister(ctx context.Context, inst *Instance) (*Instance, error) {
	reply := make(chan registerResult, 1)
	if err := r.submit(ctx, &applyRegisterCmd{inst: inst, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.inst, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- ApplyPerpetualUpdate ----

type applyUpdateCmd struct {
	inst  *Instance
	reply chan registerResult
}

func (c *applyUpdateCmd) execute(r *Registry) {
	inst := c.inst
	if inst.Ephemeral {
		c.reply <- registerResult{err: NewError(KindInvariantViolation, "ApplyPerpetualUpdate", nil)}
		return
	}
	r.internInstance(inst)
	key := inst.Key()
	s, ok := r.services[key]
	if !ok {
		c.reply <- registerResult{err: NewError(KindNotFound, "ApplyPerpetualUpdate", nil)}
		return
	}
	existing, ok := s.findAnyCluster(inst.ShortKey())
	if !ok {
		c.reply <- registerResult{err: NewError(KindNotFound, "ApplyPerpetualUpdate", nil)}
		return
	}
	if existing.Ephemeral {
		c.reply <- registerResult{err: NewError(KindInvariantViolation, "ApplyPerpetualUpdate", nil)}
		return
	}
	if inst.LastModifiedMillis <= existing.LastModifiedMillis {
		c.reply <- registerResult{inst: existing.Clone()}
		return
	}
	inst.Healthy = existing.Healthy
	s.clusterFor(inst.ClusterName).put(inst)
	rev := s.bumpRevision()
	r.publish(key, ChangeUpdated, rev, inst, s)
	c.reply <- registerResult{inst: inst.Clone()}
}

// ApplyPerpetualUpdate applies a committed UpdateInstance Raft entry,
// preserving ephemeral/perpetual polarity and idempotent by
// LastModifiedMillis like ApplyPerpetualRegister.
func (r *Registry) ApplyPerpetualUpdate(ctx context.Context, inst *Instance) (*Instance, error) {
	reply := make(chan registerResult, 1)
	if err := r.submit(ctx, &applyUpdateCmd{inst: inst, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.inst, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- ApplyPerpetualRemove ----

type applyRemoveCmd struct {
	key                InstanceKey
	lastModifiedMillis uint64
	reply              chan error
}

func (c *applyRemoveCmd) execute(r *Registry) {
	key := InstanceKey{ServiceKey: r.internKey(c.key.ServiceKey), InstanceShortKey: c.key.InstanceShortKey}
	s, ok := r.services[key.ServiceKey]
	if !ok {
		c.reply <- nil
		return
	}
	inst, ok := s.findAnyCluster(key.InstanceShortKey)
	if !ok || inst.Ephemeral {
		c.reply <- nil
		return
	}
	r.removeLocked(s, key, inst, "raft-apply")
	c.reply <- nil
}

// ApplyPerpetualRemove applies a committed RemoveInstance Raft entry.
// A no-op if the instance is already absent (also idempotent replay).
func (r *Registry) ApplyPerpetualRemove(ctx context.Context, key InstanceKey, lastModifiedMillis uint64) error {
	reply := make(chan error, 1)
	if err := r.submit(ctx, &applyRemoveCmd{key: key, lastModifiedMillis: lastModifiedMillis, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- Snapshot load support ----

// BeginLoad puts the registry into the quiesced loading state described
// in spec.md §4.5: reads return Unavailable until EndLoad or AbortLoad.
func (r *Registry) BeginLoad(ctx context.Context) error {
	done := make(chan struct{})
	cmd := &setLoadingCmd{loading: true, clear: true, done: done}
	if err := r.submit(ctx, cmd); err != nil {
		return err
	}
	<-done
	return nil
}

// EndLoad exits the loading state, serving reads normally again.
func (r *Registry) EndLoad(ctx context.Context) error {
	done := make(chan struct{})
	cmd := &setLoadingCmd{loading: false, done: done}
	if err := r.submit(ctx, cmd); err != nil {
		return err
	}
	<-done
	return nil
}

// AbortLoad resets the perpetual partition to empty and exits the
// loading state, per spec.md §4.5's failure semantics.
func (r *Registry) AbortLoad(ctx context.Context) error {
	done := make(chan struct{})
	cmd := &setLoadingCmd{loading: false, clear: true, done: done}
	if err := r.submit(ctx, cmd); err != nil {
		return err
	}
	<-done
	return nil
}

type setLoadingCmd struct {
	loading bool
	clear   bool
	done    chan struct{}
}

func (c *setLoadingCmd) execute(r *Registry) {
	if c.clear {
		for key, s := range r.services {
			for name, cl := range s.clusters {
				cl.perpetual = make(map[InstanceShortKey]*Instance)
				if len(cl.ephemeral) == 0 {
					delete(s.clusters, name)
				}
			}
			if s.empty() {
				delete(r.services, key)
				metrics.ServicesTotal.Dec()
			}
		}
	}
	r.loading = c.loading
	close(c.done)
}

// LoadInstance inserts inst directly into the perpetual partition during
// a load, bypassing idempotence checks (the snapshot is already
// internally consistent) and without publishing change events to
// subscribers.
func (r *Registry) LoadInstance(ctx context.Context, inst *Instance) error {
	done := make(chan struct{})
	cmd := &loadInstanceCmd{inst: inst, done: done}
	if err := r.submit(ctx, cmd); err != nil {
		return err
	}
	<-done
	return nil
}

type loadInstanceCmd struct {
	inst *Instance
	done chan struct{}
}

func (c *loadInstanceCmd) execute(r *Registry) {
	inst := c.inst
	inst.Ephemeral = false
	inst.Healthy = true
	r.internInstance(inst)
	s := r.serviceFor(inst.Key())
	s.clusterFor(inst.ClusterName).put(inst)
	if r.sniff != nil {
		r.sniff.ScheduleProbe(inst.ShortKey(), inst.Key())
	}
	close(c.done)
}
