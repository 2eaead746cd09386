package raft

import (
	"bytes"
	"testing"

	"github.com/nacos-raft/naming-registry/internal/naming"
)

func TestSnapshotStreamRoundTrip(t *testing.T) {
	instances := []*naming.Instance{
		{IP: "10.0.0.1", Port: 8080, Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcA", ClusterName: "DEFAULT", Weight: 1, Enabled: true, Healthy: true},
		{IP: "10.0.0.2", Port: 8081, Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcA", ClusterName: "DEFAULT", Weight: 1, Enabled: true, Healthy: true},
		{IP: "10.0.0.3", Port: 8082, Namespace: "ns2", Group: "g2", Service: "svcB", ClusterName: "DEFAULT", Weight: 2, Enabled: true, Healthy: false},
	}
	var buf bytes.Buffer
	if err := EncodeSnapshotStream(&buf, instances); err != nil {
		t.Fatalf("EncodeSnapshotStream failed: %v", err)
	}
	records, err := DecodeSnapshotStream(&buf)
	if err != nil {
		t.Fatalf("DecodeSnapshotStream failed: %v", err)
	}
	if len(records) != len(instances) {
		t.Fatalf("got %d records, want %d", len(records), len(instances))
	}
	for i, rec := range records {
		if rec.IP != instances[i].IP || rec.Service != instances[i].Service {
			t.Fatalf("record %d = %+v, want IP/Service matching %+v", i, rec, instances[i])
		}
	}
}

func TestSnapshotStreamEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := EncodeSnapshotStream(&buf, nil); err != nil {
		t.Fatalf("EncodeSnapshotStream failed: %v", err)
	}
	records, err := DecodeSnapshotStream(&buf)
	if err != nil {
		t.Fatalf("DecodeSnapshotStream failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d records, want 0", len(records))
	}
}
