package naming

import (
	"context"
	"sync"

	"github.com/nacos-raft/naming-registry/internal/clock"
	"github.com/nacos-raft/naming-registry/internal/config"
	"github.com/nacos-raft/naming-registry/internal/events"
	"github.com/nacos-raft/naming-registry/internal/metrics"
	"github.com/nacos-raft/naming-registry/internal/naming/intern"
)

// ExpirySink is the heartbeat/expiry engine's inbound interface, as seen
// by the registry. The registry arms/disarms deadlines; the engine calls
// back into the registry (via its own handle) when a deadline lapses.
type ExpirySink interface {
	Arm(key InstanceKey, deadlineMillis uint64)
	Disarm(key InstanceKey)
}

// SniffSink is the net sniffing actor's inbound interface, as seen by the
// registry. The registry schedules/cancels probes; the sniffer calls back
// into the registry's PerpetualHostSniffing when a probe completes.
type SniffSink interface {
	ScheduleProbe(host InstanceShortKey, key ServiceKey)
	CancelProbe(host InstanceShortKey, key ServiceKey)
}

// command is a single message processed by the registry's actor loop.
// Each concrete command type owns its own reply channel and applies
// itself to the registry's state when executed — this is the "owning
// task with an inbound queue, typed messages, one-shot reply channels"
// actor shape.
type command interface {
	execute(r *Registry)
}

// Registry owns the entire service map and is the single point through
// which reads and writes flow. All mutation happens on one goroutine
// (run), so the service map itself is never locked.
type Registry struct {
	sysConfig config.NamingSysConfig
	interner  *intern.Table
	clock     clock.Clock
	bus       *events.Bus

	expiry ExpirySink
	sniff  SniffSink

	cmdCh chan command
	done  chan struct{}
	once  sync.Once

	// services is only ever touched from the run() goroutine.
	services map[ServiceKey]*service
	loading  bool
}

// New constructs a Registry. The returned Registry's actor goroutine is
// already running; call Close to stop it.
func New(sysConfig config.NamingSysConfig, c clock.Clock, bus *events.Bus) *Registry {
	r := &Registry{
		sysConfig: sysConfig,
		interner:  intern.New(),
		clock:     c,
		bus:       bus,
		cmdCh:     make(chan command, 256),
		done:      make(chan struct{}),
		services:  make(map[ServiceKey]*service),
	}
	go r.run()
	return r
}

// SetExpirySink wires the heartbeat/expiry engine into the registry. Must
// be called post-construction, before the first ephemeral register, to
// break the registry/expiry-engine construction cycle (Design Notes,
// "Cyclic dependencies").
func (r *Registry) SetExpirySink(e ExpirySink) { r.expiry = e }

// SetSniffSink wires the net sniffing actor into the registry, for the
// same reason as SetExpirySink.
func (r *Registry) SetSniffSink(s SniffSink) { r.sniff = s }

// Close stops the registry's actor goroutine. Commands still queued when
// it stops are not executed, and a command submitted afterward either
// fails with Unavailable or is never executed; a caller waiting on such a
// command returns once its ctx ends.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
}

func (r *Registry) run() {
	for {
		select {
		case cmd := <-r.cmdCh:
			cmd.execute(r)
		case <-r.done:
			return
		}
	}
}

// submit sends cmd to the actor loop, respecting ctx cancellation and
// registry shutdown.
func (r *Registry) submit(ctx context.Context, cmd command) error {
	select {
	case r.cmdCh <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return NewError(KindUnavailable, "submit", nil)
	}
}

func (r *Registry) internKey(key ServiceKey) ServiceKey {
	return ServiceKey{
		Namespace: r.interner.Intern(key.Namespace),
		Group:     r.interner.Intern(key.Group),
		Service:   r.interner.Intern(key.Service),
	}
}

func (r *Registry) internInstance(inst *Instance) {
	inst.Namespace = r.interner.Intern(inst.Namespace)
	inst.Group = r.interner.Intern(inst.Group)
	inst.Service = r.interner.Intern(inst.Service)
	inst.ClusterName = r.interner.Intern(clusterNameOrDefault(inst.ClusterName))
	if inst.Weight == 0 {
		inst.Weight = 1.0
	}
}

func (r *Registry) serviceFor(key ServiceKey) *service {
	key = r.internKey(key)
	s, ok := r.services[key]
	if !ok {
		s = newService(key)
		r.services[key] = s
		metrics.ServicesTotal.Inc()
	}
	return s
}

func (r *Registry) publish(key ServiceKey, kind ChangeKind, rev uint64, inst *Instance, s *service) {
	metrics.InstancesTotal.WithLabelValues(partitionLabel(inst)).Add(partitionDelta(kind))
	if r.bus != nil {
		msg := ""
		switch kind {
		case ChangeRemoved:
			msg = "instance removed"
		case ChangeHealth:
			msg = "instance health changed"
		default:
			msg = "instance changed"
		}
		r.bus.Publish(events.ChangeEvent{
			Type:     events.EventInstanceChanged,
			Service:  key.Service,
			Revision: rev,
			Message:  msg,
		})
	}
	if s == nil {
		return
	}
	for _, sub := range s.subscribers {
		evt := &ChangeEvent{ServiceKey: key, Revision: rev, Kind: kind, Instance: inst}
		select {
		case sub.ch <- evt:
		default:
			// Subscriber fell behind: drop it and let it resurface via
			// Unavailable on its next call (Design Notes, "Revision and
			// subscriber delivery").
			delete(s.subscribers, sub.listenerID)
			close(sub.ch)
			metrics.SubscriberDropsTotal.Inc()
		}
	}
}

func partitionLabel(inst *Instance) string {
	if inst != nil && inst.Ephemeral {
		return "ephemeral"
	}
	return "perpetual"
}

func partitionDelta(kind ChangeKind) float64 {
	switch kind {
	case ChangeAdded:
		return 1
	case ChangeRemoved:
		return -1
	default:
		return 0
	}
}

// gcIfEmpty marks s empty, recording when it became so, if it holds no
// instances and no subscribers, and clears that mark otherwise. It does
// not remove s from the service map: the I5 timeout
// (service_time_out_millis) is enforced by the supervisor's periodic
// sweep (ListServices + RemoveServiceIfEmptySince), not inline here,
// since deletion must not race a concurrent RegisterInstance that the
// sweep hasn't observed yet.
func (r *Registry) gcIfEmpty(key ServiceKey) {
	s, ok := r.services[key]
	if !ok {
		return
	}
	if s.empty() && len(s.subscribers) == 0 {
		nowMillis := uint64(r.clock.Now().UnixMilli())
		if !s.isEmpty {
			s.isEmpty = true
			s.emptySinceMillis = nowMillis
		}
	} else {
		s.isEmpty = false
	}
}

// ---- RegisterInstance (ephemeral only) ----

type registerEphemeralCmd struct {
	inst  *Instance
	reply chan registerResult
}

type registerResult struct {
	inst *Instance
	err  error
}

func (c *registerEphemeralCmd) execute(r *Registry) {
	inst := c.inst
	if !inst.Ephemeral {
		c.reply <- registerResult{err: NewError(KindInvariantViolation, "RegisterEphemeral", nil)}
		return
	}
	r.internInstance(inst)
	key := inst.Key()
	s := r.serviceFor(key)
	shortKey := inst.ShortKey()

	if existing, ok := s.findAnyCluster(shortKey); ok && !existing.Ephemeral {
		c.reply <- registerResult{err: NewError(KindInvariantViolation, "RegisterEphemeral", nil)}
		return
	}

	nowMillis := uint64(r.clock.Now().UnixMilli())
	inst.LastHeartbeatMillis = nowMillis
	inst.LastModifiedMillis = nowMillis
	inst.Healthy = true

	s.clusterFor(inst.ClusterName).put(inst)
	if r.expiry != nil {
		r.expiry.Arm(InstanceKey{ServiceKey: key, InstanceShortKey: shortKey}, nowMillis+r.sysConfig.InstanceMetadataTimeOutMillis)
	}
	rev := s.bumpRevision()
	metrics.RegisterTotal.WithLabelValues("ephemeral").Inc()
	r.publish(key, ChangeAdded, rev, inst, s)
	c.reply <- registerResult{inst: inst.Clone()}
}

// RegisterEphemeral registers a client-owned ephemeral instance.
func (r *Registry) RegisterEphemeral(ctx context.Context, inst *Instance) (*Instance, error) {
	reply := make(chan registerResult, 1)
	if err := r.submit(ctx, &registerEphemeralCmd{inst: inst, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.inst, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- RemoveInstance (ephemeral client path) ----

type removeEphemeralCmd struct {
	key   InstanceKey
	reply chan error
}

func (c *removeEphemeralCmd) execute(r *Registry) {
	s, ok := r.services[c.key.ServiceKey]
	if !ok {
		c.reply <- nil
		return
	}
	inst, ok := s.find(c.key.InstanceShortKey, "")
	if !ok {
		inst, ok = s.findAnyCluster(c.key.InstanceShortKey)
	}
	if !ok || !inst.Ephemeral {
		c.reply <- nil
		return
	}
	r.removeLocked(s, c.key, inst, "expired-or-client")
	c.reply <- nil
}

func (r *Registry) removeLocked(s *service, key InstanceKey, inst *Instance, reason string) {
	for _, cl := range s.clusters {
		cl.remove(key.InstanceShortKey)
	}
	if r.expiry != nil && inst.Ephemeral {
		r.expiry.Disarm(key)
	}
	if r.sniff != nil && !inst.Ephemeral {
		r.sniff.CancelProbe(key.InstanceShortKey, key.ServiceKey)
	}
	rev := s.bumpRevision()
	metrics.RemoveTotal.WithLabelValues(partitionLabel(inst), reason).Inc()
	r.publish(key.ServiceKey, ChangeRemoved, rev, inst, s)
	r.gcIfEmpty(key.ServiceKey)
}

// RemoveEphemeral removes an ephemeral instance, e.g. on client
// deregistration or expiry-engine callback. A no-op (not an error) if the
// instance is already absent.
func (r *Registry) RemoveEphemeral(ctx context.Context, key InstanceKey) error {
	reply := make(chan error, 1)
	if err := r.submit(ctx, &removeEphemeralCmd{key: key, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- UpdateInstance (ephemeral client path) ----

type updateEphemeralCmd struct {
	inst  *Instance
	reply chan registerResult
}

func (c *updateEphemeralCmd) execute(r *Registry) {
	inst := c.inst
	r.internInstance(inst)
	key := inst.Key()
	s, ok := r.services[key]
	if !ok {
		c.reply <- registerResult{err: NewError(KindNotFound, "UpdateEphemeral", nil)}
		return
	}
	existing, ok := s.findAnyCluster(inst.ShortKey())
	if !ok {
		c.reply <- registerResult{err: NewError(KindNotFound, "UpdateEphemeral", nil)}
		return
	}
	if existing.Ephemeral != inst.Ephemeral {
		c.reply <- registerResult{err: NewError(KindInvariantViolation, "UpdateEphemeral", nil)}
		return
	}
	nowMillis := uint64(r.clock.Now().UnixMilli())
	inst.LastHeartbeatMillis = existing.LastHeartbeatMillis
	inst.LastModifiedMillis = nowMillis
	s.clusterFor(inst.ClusterName).put(inst)
	rev := s.bumpRevision()
	r.publish(key, ChangeUpdated, rev, inst, s)
	c.reply <- registerResult{inst: inst.Clone()}
}

// UpdateEphemeral updates an ephemeral instance in place, preserving its
// ephemeral/perpetual polarity (InvariantViolation if the caller tries to
// flip it).
func (r *Registry) UpdateEphemeral(ctx context.Context, inst *Instance) (*Instance, error) {
	reply := make(chan registerResult, 1)
	if err := r.submit(ctx, &updateEphemeralCmd{inst: inst, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.inst, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- Heartbeat ----

type heartbeatCmd struct {
	key       InstanceKey
	nowMillis uint64
	reply     chan error
}

func (c *heartbeatCmd) execute(r *Registry) {
	s, ok := r.services[c.key.ServiceKey]
	if !ok {
		c.reply <- NewError(KindNotFound, "Heartbeat", nil)
		return
	}
	inst, ok := s.find(c.key.InstanceShortKey, "")
	if !ok {
		inst, ok = s.findAnyCluster(c.key.InstanceShortKey)
	}
	if !ok || !inst.Ephemeral {
		c.reply <- NewError(KindNotFound, "Heartbeat", nil)
		return
	}
	inst.LastHeartbeatMillis = c.nowMillis
	if r.expiry != nil {
		r.expiry.Arm(c.key, c.nowMillis+r.sysConfig.InstanceMetadataTimeOutMillis)
	}
	metrics.HeartbeatTotal.Inc()
	c.reply <- nil
}

// Heartbeat refreshes an ephemeral instance's last-heartbeat timestamp and
// re-arms its expiry deadline. Fails with NotFound if the instance is
// unknown (the client must re-register).
func (r *Registry) Heartbeat(ctx context.Context, key InstanceKey, nowMillis uint64) error {
	reply := make(chan error, 1)
	if err := r.submit(ctx, &heartbeatCmd{key: key, nowMillis: nowMillis, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- Query ----

type queryCmd struct {
	key         ServiceKey
	clusters    []string
	healthyOnly bool
	reply       chan queryResult
}

type queryResult struct {
	instances []*Instance
	err       error
}

func (c *queryCmd) execute(r *Registry) {
	if r.loading {
		c.reply <- queryResult{err: NewError(KindUnavailable, "Query", nil)}
		return
	}
	s, ok := r.services[r.internKey(c.key)]
	if !ok {
		c.reply <- queryResult{instances: []*Instance{}}
		return
	}
	all := s.instancesInClusters(c.clusters)
	var enabled []*Instance
	for _, inst := range all {
		if inst.Enabled {
			enabled = append(enabled, inst)
		}
	}
	if !c.healthyOnly {
		c.reply <- queryResult{instances: cloneAll(enabled)}
		return
	}
	healthy := make([]*Instance, 0, len(enabled))
	for _, inst := range enabled {
		if inst.Healthy {
			healthy = append(healthy, inst)
		}
	}
	threshold := s.protectThreshold
	if len(enabled) > 0 && float32(len(healthy))/float32(len(enabled)) >= threshold {
		c.reply <- queryResult{instances: cloneAll(healthy)}
		return
	}
	// Protect threshold exceeded (or no instances at all): return the
	// full enabled set, healthy and unhealthy alike.
	c.reply <- queryResult{instances: cloneAll(enabled)}
}

func cloneAll(in []*Instance) []*Instance {
	out := make([]*Instance, len(in))
	for i, inst := range in {
		out[i] = inst.Clone()
	}
	return out
}

// Query returns a point-in-time snapshot of instances matching key,
// optionally filtered to clusters, honoring the service's protect
// threshold when healthyOnly is set.
func (r *Registry) Query(ctx context.Context, key ServiceKey, clusters []string, healthyOnly bool) ([]*Instance, error) {
	reply := make(chan queryResult, 1)
	if err := r.submit(ctx, &queryCmd{key: key, clusters: clusters, healthyOnly: healthyOnly, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.instances, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- Subscribe / Unsubscribe ----

type subscribeCmd struct {
	key        ServiceKey
	listenerID string
	reply      chan subscribeResult
}

type subscribeResult struct {
	ch  <-chan *ChangeEvent
	err error
}

func (c *subscribeCmd) execute(r *Registry) {
	s := r.serviceFor(c.key)
	ch := make(chan *ChangeEvent, 64)
	s.subscribers[c.listenerID] = &subscription{listenerID: c.listenerID, ch: ch}
	c.reply <- subscribeResult{ch: ch}
}

// Subscribe registers listenerID for change events on key. Events for a
// given subscriber are delivered in strictly increasing revision order
// (P3).
func (r *Registry) Subscribe(ctx context.Context, key ServiceKey, listenerID string) (<-chan *ChangeEvent, error) {
	reply := make(chan subscribeResult, 1)
	if err := r.submit(ctx, &subscribeCmd{key: key, listenerID: listenerID, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.ch, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type unsubscribeCmd struct {
	key        ServiceKey
	listenerID string
	done       chan struct{}
}

func (c *unsubscribeCmd) execute(r *Registry) {
	if s, ok := r.services[r.internKey(c.key)]; ok {
		if sub, ok := s.subscribers[c.listenerID]; ok {
			delete(s.subscribers, c.listenerID)
			close(sub.ch)
		}
	}
	close(c.done)
}

// Unsubscribe removes listenerID from key's subscriber set.
func (r *Registry) Unsubscribe(ctx context.Context, key ServiceKey, listenerID string) error {
	done := make(chan struct{})
	if err := r.submit(ctx, &unsubscribeCmd{key: key, listenerID: listenerID, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- PerpetualHostSniffing ----

type sniffResultCmd struct {
	host    InstanceShortKey
	keys    []ServiceKey
	success bool
	done    chan struct{}
}

func (c *sniffResultCmd) execute(r *Registry) {
	outcome := "fail"
	if c.success {
		outcome = "ok"
	}
	metrics.ProbesTotal.WithLabelValues(outcome).Inc()
	for _, key := range c.keys {
		s, ok := r.services[r.internKey(key)]
		if !ok {
			continue
		}
		inst, ok := s.findAnyCluster(c.host)
		if !ok || inst.Ephemeral {
			continue
		}
		if inst.Healthy == c.success {
			continue
		}
		inst.Healthy = c.success
		rev := s.bumpRevision()
		r.publish(key, ChangeHealth, rev, inst, s)
	}
	close(c.done)
}

// PerpetualHostSniffing applies a sniff outcome for host to every service
// in keys whose perpetual instance at host exists, flipping Healthy and
// notifying subscribers only when it actually changed. This mutation is
// local only and never goes through Raft (Design Notes, "Non-replicated
// health mutation").
func (r *Registry) PerpetualHostSniffing(ctx context.Context, host InstanceShortKey, keys []ServiceKey, success bool) error {
	done := make(chan struct{})
	if err := r.submit(ctx, &sniffResultCmd{host: host, keys: keys, success: success, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---- ListAllPerpetual ----

type listAllPerpetualCmd struct {
	reply chan listAllPerpetualResult
}

type listAllPerpetualResult struct {
	instances []*Instance
	err       error
}

func (c *listAllPerpetualCmd) execute(r *Registry) {
	if r.loading {
		c.reply <- listAllPerpetualResult{err: NewError(KindUnavailable, "ListAllPerpetual", nil)}
		return
	}
	var out []*Instance
	for _, s := range r.services {
		for _, cl := range s.clusters {
			for _, inst := range cl.perpetual {
				out = append(out, inst.Clone())
			}
		}
	}
	c.reply <- listAllPerpetualResult{instances: out}
}

// ListAllPerpetual enumerates every perpetual instance across all
// services, used by snapshot build and transfer/backup export.
func (r *Registry) ListAllPerpetual(ctx context.Context) ([]*Instance, error) {
	reply := make(chan listAllPerpetualResult, 1)
	if err := r.submit(ctx, &listAllPerpetualCmd{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.instances, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ---- ListServices / ServiceInfo ----

type listServicesCmd struct {
	namespace string
	reply     chan []ServiceKey
}

func (c *listServicesCmd) execute(r *Registry) {
	var out []ServiceKey
	for key := range r.services {
		if c.namespace == "" || key.Namespace == c.namespace {
			out = append(out, key)
		}
	}
	c.reply <- out
}

// ListServices enumerates known ServiceKeys, optionally filtered to one
// namespace (empty string means all namespaces). Used by the supervisor's
// periodic empty-service GC sweep.
func (r *Registry) ListServices(ctx context.Context, namespace string) ([]ServiceKey, error) {
	reply := make(chan []ServiceKey, 1)
	if err := r.submit(ctx, &listServicesCmd{namespace: namespace, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case keys := <-reply:
		return keys, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ServiceInfoResult is the read-only introspection result for one service.
type ServiceInfoResult struct {
	Revision         uint64
	ProtectThreshold float32
	ClusterNames     []string
	Empty            bool
	EmptySinceMillis uint64
}

type serviceInfoCmd struct {
	key   ServiceKey
	reply chan serviceInfoResult
}

type serviceInfoResult struct {
	info ServiceInfoResult
	err  error
}

func (c *serviceInfoCmd) execute(r *Registry) {
	s, ok := r.services[r.internKey(c.key)]
	if !ok {
		c.reply <- serviceInfoResult{err: NewError(KindNotFound, "ServiceInfo", nil)}
		return
	}
	var names []string
	for name := range s.clusters {
		names = append(names, name)
	}
	c.reply <- serviceInfoResult{info: ServiceInfoResult{
		Revision:         s.revision,
		ProtectThreshold: s.protectThreshold,
		ClusterNames:     names,
		Empty:            s.isEmpty,
		EmptySinceMillis: s.emptySinceMillis,
	}}
}

// ServiceInfo returns read-only introspection data for key.
func (r *Registry) ServiceInfo(ctx context.Context, key ServiceKey) (ServiceInfoResult, error) {
	reply := make(chan serviceInfoResult, 1)
	if err := r.submit(ctx, &serviceInfoCmd{key: key, reply: reply}); err != nil {
		return ServiceInfoResult{}, err
	}
	select {
	case res := <-reply:
		return res.info, res.err
	case <-ctx.Done():
		return ServiceInfoResult{}, ctx.Err()
	}
}

// ---- RemoveService (GC sweep) ----

type removeServiceCmd struct {
	key       ServiceKey
	olderThan uint64
	reply     chan bool
}

func (c *removeServiceCmd) execute(r *Registry) {
	key := r.internKey(c.key)
	s, ok := r.services[key]
	if !ok || !s.empty() || !s.isEmpty || s.emptySinceMillis > c.olderThan {
		c.reply <- false
		return
	}
	delete(r.services, key)
	metrics.ServicesTotal.Dec()
	c.reply <- true
}

// RemoveServiceIfEmptySince deletes key if it has held zero instances
// since at or before olderThanMillis (I5's service_time_out_millis GC).
// Returns whether it was removed.
func (r *Registry) RemoveServiceIfEmptySince(ctx context.Context, key ServiceKey, olderThanMillis uint64) (bool, error) {
	reply := make(chan bool, 1)
	if err := r.submit(ctx, &removeServiceCmd{key: key, olderThan: olderThanMillis, reply: reply}); err != nil {
		return false, err
	}
	select {
	case removed := <-reply:
		return removed, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
