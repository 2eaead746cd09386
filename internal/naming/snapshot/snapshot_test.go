package snapshot

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/nacos-raft/naming-registry/internal/naming"
)

type fakeSource struct {
	instances []*naming.Instance
	err       error
}

func (f *fakeSource) ListAllPerpetual(ctx context.Context) ([]*naming.Instance, error) {
	return f.instances, f.err
}

type fakeSink struct {
	began, ended, aborted bool
	loaded                []*naming.Instance
	loadErr               error
}

func (f *fakeSink) BeginLoad(ctx context.Context) error { f.began = true; return nil }
func (f *fakeSink) LoadInstance(ctx context.Context, inst *naming.Instance) error {
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loaded = append(f.loaded, inst)
	return nil
}
func (f *fakeSink) EndLoad(ctx context.Context) error   { f.ended = true; return nil }
func (f *fakeSink) AbortLoad(ctx context.Context) error { f.aborted = true; return nil }

func sampleInstance(ip string, port uint16) *naming.Instance {
	return &naming.Instance{
		IP: ip, Port: port, ClusterName: "DEFAULT", Namespace: "public",
		Group: "DEFAULT_GROUP", Service: "demo", Weight: 1, Enabled: true, Healthy: true,
	}
}

func TestBuildThenLoadRoundTrip(t *testing.T) {
	src := &fakeSource{instances: []*naming.Instance{
		sampleInstance("10.0.0.1", 8080),
		sampleInstance("10.0.0.2", 8081),
	}}
	var buf bytes.Buffer
	if err := Build(context.Background(), src, &buf); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	dst := &fakeSink{}
	if err := Load(context.Background(), dst, &buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !dst.began || !dst.ended || dst.aborted {
		t.Fatalf("expected began+ended without abort, got began=%v ended=%v aborted=%v", dst.began, dst.ended, dst.aborted)
	}
	if len(dst.loaded) != 2 {
		t.Fatalf("loaded %d instances, want 2", len(dst.loaded))
	}
	if dst.loaded[0].IP != "10.0.0.1" || dst.loaded[1].IP != "10.0.0.2" {
		t.Fatalf("loaded instances in unexpected order: %+v", dst.loaded)
	}
}

func TestBuildPropagatesSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("registry unavailable")}
	var buf bytes.Buffer
	if err := Build(context.Background(), src, &buf); err == nil {
		t.Fatal("Build should propagate the source's error")
	}
}

func TestLoadAbortsOnApplyFailure(t *testing.T) {
	src := &fakeSource{instances: []*naming.Instance{sampleInstance("10.0.0.1", 8080)}}
	var buf bytes.Buffer
	if err := Build(context.Background(), src, &buf); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	dst := &fakeSink{loadErr: errors.New("apply failed")}
	if err := Load(context.Background(), dst, &buf); err == nil {
		t.Fatal("Load should surface the apply failure")
	}
	if !dst.began || !dst.aborted || dst.ended {
		t.Fatalf("expected began+aborted without ended, got began=%v ended=%v aborted=%v", dst.began, dst.ended, dst.aborted)
	}
}

func TestLoadAbortsOnMalformedStream(t *testing.T) {
	dst := &fakeSink{}
	if err := Load(context.Background(), dst, bytes.NewReader([]byte{0xff, 0xff, 0xff})); err == nil {
		t.Fatal("Load should reject a malformed stream")
	}
	if !dst.began || !dst.aborted {
		t.Fatalf("expected began+aborted on malformed stream, got began=%v aborted=%v", dst.began, dst.aborted)
	}
}
