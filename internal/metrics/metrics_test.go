package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	want := map[string]bool{
		"naming_instances_total":               false,
		"naming_services_total":                false,
		"naming_register_total":                false,
		"naming_remove_total":                  false,
		"naming_heartbeat_total":               false,
		"naming_expirations_total":             false,
		"naming_expiry_tick_duration_seconds":  false,
		"naming_sniff_probes_total":            false,
		"naming_sniff_probe_duration_seconds":  false,
		"naming_raft_apply_total":              false,
		"naming_raft_apply_duration_seconds":   false,
		"naming_raft_propose_duration_seconds": false,
		"naming_snapshot_records_total":        false,
		"naming_subscriber_drops_total":        false,
	}

	for _, fam := range families {
		if _, ok := want[fam.GetName()]; ok {
			want[fam.GetName()] = true
		}
	}

	for name, found := range want {
		if !found {
			t.Errorf("metric %s was not registered with the default gatherer", name)
		}
	}
}

func TestCountersIncrement(t *testing.T) {
	RegisterTotal.WithLabelValues("ephemeral").Inc()
	RemoveTotal.WithLabelValues("perpetual", "expired").Inc()
	HeartbeatTotal.Inc()
	ExpirationsTotal.Inc()
	ProbesTotal.WithLabelValues("ok").Inc()
	RaftApplyTotal.WithLabelValues("register").Inc()
	SnapshotRecordsTotal.WithLabelValues("build").Inc()
	SubscriberDropsTotal.Inc()
}
