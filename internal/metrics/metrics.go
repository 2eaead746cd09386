// Package metrics exposes Prometheus instrumentation for the naming registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	InstancesTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "naming_instances_total",
		Help: "Current number of registered instances by partition (ephemeral/perpetual).",
	}, []string{"partition"})

	ServicesTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "naming_services_total",
		Help: "Current number of known services.",
	})

	RegisterTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naming_register_total",
		Help: "Total RegisterInstance commands processed by partition.",
	}, []string{"partition"})

	RemoveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naming_remove_total",
		Help: "Total RemoveInstance commands processed by partition and reason.",
	}, []string{"partition", "reason"})

	HeartbeatTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naming_heartbeat_total",
		Help: "Total Heartbeat commands processed.",
	})

	ExpirationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naming_expirations_total",
		Help: "Total ephemeral instances expired by the heartbeat engine.",
	})

	ExpiryTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "naming_expiry_tick_duration_seconds",
		Help:    "Duration of a single expiry-engine tick.",
		Buckets: prometheus.DefBuckets,
	})

	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naming_sniff_probes_total",
		Help: "Total TCP sniff probes by outcome.",
	}, []string{"outcome"})

	ProbeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "naming_sniff_probe_duration_seconds",
		Help:    "Duration of one TCP sniff probe, including the retry wait and retry after a failed first attempt.",
		Buckets: prometheus.DefBuckets,
	})

	RaftApplyTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naming_raft_apply_total",
		Help: "Total Raft log entries applied to the registry, by command type.",
	}, []string{"command"})

	RaftApplyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "naming_raft_apply_duration_seconds",
		Help:    "Duration of applying a single Raft log entry to the registry.",
		Buckets: prometheus.DefBuckets,
	})

	RaftProposeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "naming_raft_propose_duration_seconds",
		Help:    "End-to-end duration of a Raft proposal from the client's perspective.",
		Buckets: prometheus.DefBuckets,
	})

	SnapshotRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "naming_snapshot_records_total",
		Help: "Total perpetual-instance records written or read during snapshot build/load.",
	}, []string{"direction"})

	SubscriberDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "naming_subscriber_drops_total",
		Help: "Total registry subscribers dropped because their delivery queue overflowed, plus events the event bus dropped for a full subscriber buffer.",
	})
)
