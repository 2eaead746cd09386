// Package naming implements the in-memory service registry: the value
// objects for instance/service identity, and the single-writer actor that
// owns the service map (see registry.go).
package naming

// ServiceKey identifies a service by namespace, group, and name. Callers
// should obtain ServiceKey values through Registry methods, which intern
// the three fields so repeated keys share backing strings.
type ServiceKey struct {
	Namespace string
	Group     string
	Service   string
}

// InstanceShortKey identifies an instance within a service by its network
// address.
type InstanceShortKey struct {
	IP   string
	Port uint16
}

// InstanceKey globally identifies an instance.
type InstanceKey struct {
	ServiceKey
	InstanceShortKey
}

// DefaultClusterName is used for an Instance whose ClusterName is unset.
const DefaultClusterName = "DEFAULT"

// Instance is a single registered service endpoint.
type Instance struct {
	// identity
	IP          string
	Port        uint16
	ClusterName string
	AppName     string

	// membership
	Namespace string
	Group     string
	Service   string

	// scheduling/routing
	Weight    float32
	Enabled   bool
	Healthy   bool
	Ephemeral bool

	// Metadata is treated as immutable once published to readers: updates
	// replace the map reference rather than mutating it in place, so a
	// reader holding an old snapshot never observes a torn map.
	Metadata map[string]string

	// time
	LastModifiedMillis  uint64
	LastHeartbeatMillis uint64
}

// ShortKey returns the InstanceShortKey identifying inst within its service.
func (inst *Instance) ShortKey() InstanceShortKey {
	return InstanceShortKey{IP: inst.IP, Port: inst.Port}
}

// Key returns the ServiceKey inst belongs to.
func (inst *Instance) Key() ServiceKey {
	return ServiceKey{Namespace: inst.Namespace, Group: inst.Group, Service: inst.Service}
}

// InstanceKey returns the InstanceKey globally identifying inst.
func (inst *Instance) InstanceKey() InstanceKey {
	return InstanceKey{ServiceKey: inst.Key(), InstanceShortKey: inst.ShortKey()}
}

// Clone returns a shallow copy of inst suitable for handing to a Query
// caller as a point-in-time snapshot. Metadata is shared by reference,
// matching I4's "shared by reference among readers" — callers must treat
// it as read-only.
func (inst *Instance) Clone() *Instance {
	clone := *inst
	return &clone
}

// clusterNameOrDefault returns name, defaulting to DefaultClusterName.
func clusterNameOrDefault(name string) string {
	if name == "" {
		return DefaultClusterName
	}
	return name
}

// cluster holds, for one cluster_name within one service, the ephemeral
// and perpetual instance sets disjointly keyed by InstanceShortKey.
type cluster struct {
	name      string
	ephemeral map[InstanceShortKey]*Instance
	perpetual map[InstanceShortKey]*Instance
}

func newCluster(name string) *cluster {
	return &cluster{
		name:      clusterNameOrDefault(name),
		ephemeral: make(map[InstanceShortKey]*Instance),
		perpetual: make(map[InstanceShortKey]*Instance),
	}
}

func (c *cluster) get(key InstanceShortKey) (*Instance, bool) {
	if inst, ok := c.ephemeral[key]; ok {
		return inst, true
	}
	if inst, ok := c.perpetual[key]; ok {
		return inst, true
	}
	return nil, false
}

func (c *cluster) put(inst *Instance) {
	key := inst.ShortKey()
	if inst.Ephemeral {
		delete(c.perpetual, key)
		c.ephemeral[key] = inst
	} else {
		delete(c.ephemeral, key)
		c.perpetual[key] = inst
	}
}

func (c *cluster) remove(key InstanceShortKey) (*Instance, bool) {
	if inst, ok := c.ephemeral[key]; ok {
		delete(c.ephemeral, key)
		return inst, true
	}
	if inst, ok := c.perpetual[key]; ok {
		delete(c.perpetual, key)
		return inst, true
	}
	return nil, false
}

func (c *cluster) empty() bool {
	return len(c.ephemeral) == 0 && len(c.perpetual) == 0
}

func (c *cluster) all() []*Instance {
	out := make([]*Instance, 0, len(c.ephemeral)+len(c.perpetual))
	for _, inst := range c.ephemeral {
		out = append(out, inst)
	}
	for _, inst := range c.perpetual {
		out = append(out, inst)
	}
	return out
}

// service holds per-cluster bucketing of instances for one ServiceKey, a
// monotonic revision counter, the subscriber set, and the protect
// threshold.
type service struct {
	key              ServiceKey
	clusters         map[string]*cluster
	revision         uint64
	protectThreshold float32
	subscribers      map[string]*subscription
	emptySinceMillis uint64
	isEmpty          bool
}

func newService(key ServiceKey) *service {
	return &service{
		key:         key,
		clusters:    make(map[string]*cluster),
		subscribers: make(map[string]*subscription),
	}
}

func (s *service) clusterFor(name string) *cluster {
	name = clusterNameOrDefault(name)
	c, ok := s.clusters[name]
	if !ok {
		c = newCluster(name)
		s.clusters[name] = c
	}
	return c
}

func (s *service) find(key InstanceShortKey, clusterName string) (*Instance, bool) {
	name := clusterNameOrDefault(clusterName)
	c, ok := s.clusters[name]
	if !ok {
		return nil, false
	}
	return c.get(key)
}

// findAnyCluster searches every cluster bucket for key, used for removal
// and update paths where the caller may not know the cluster name.
func (s *service) findAnyCluster(key InstanceShortKey) (*Instance, bool) {
	for _, c := range s.clusters {
		if inst, ok := c.get(key); ok {
			return inst, true
		}
	}
	return nil, false
}

func (s *service) allInstances() []*Instance {
	var out []*Instance
	for _, c := range s.clusters {
		out = append(out, c.all()...)
	}
	return out
}

func (s *service) instancesInClusters(clusterNames []string) []*Instance {
	if len(clusterNames) == 0 {
		return s.allInstances()
	}
	var out []*Instance
	for _, name := range clusterNames {
		if c, ok := s.clusters[clusterNameOrDefault(name)]; ok {
			out = append(out, c.all()...)
		}
	}
	return out
}

func (s *service) empty() bool {
	for _, c := range s.clusters {
		if !c.empty() {
			return false
		}
	}
	return true
}

func (s *service) bumpRevision() uint64 {
	s.revision++
	return s.revision
}

// subscription is a registered listener for change events on a service.
type subscription struct {
	listenerID string
	ch         chan *ChangeEvent
}

// ChangeEvent is delivered to subscribers on any visible change to a
// service. Revision is strictly increasing per ServiceKey across events
// delivered to any given subscriber (P3).
type ChangeEvent struct {
	ServiceKey ServiceKey
	Revision   uint64
	Kind       ChangeKind
	Instance   *Instance
}

// ChangeKind classifies a ChangeEvent.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeUpdated
	ChangeRemoved
	ChangeHealth
)
