package naming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nacos-raft/naming-registry/internal/config"
)

// mockClock implements clock.Clock for testing, grounded in the teacher's
// internal/engine mock_test.go fake clock shape.
type mockClock struct {
	now time.Time
}

func newMockClock(t time.Time) *mockClock { return &mockClock{now: t} }

func (c *mockClock) Now() time.Time { return c.now }
func (c *mockClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now.Add(d)
	return ch
}
func (c *mockClock) Since(t time.Time) time.Duration { return c.now.Sub(t) }
func (c *mockClock) Advance(d time.Duration)         { c.now = c.now.Add(d) }

func newTestRegistry() (*Registry, *mockClock) {
	clk := newMockClock(time.Unix(0, 0))
	r := New(config.NewNamingSysConfig(), clk, nil)
	return r, clk
}

func testInstance(ip string, port uint16, ephemeral bool) *Instance {
	return &Instance{
		IP: ip, Port: port, Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcA",
		Ephemeral: ephemeral, Enabled: true, Weight: 1.0,
	}
}

func TestRegisterEphemeralAndQuery(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	inst := testInstance("10.0.0.1", 8080, true)
	got, err := r.RegisterEphemeral(ctx, inst)
	if err != nil {
		t.Fatalf("RegisterEphemeral: %v", err)
	}
	if !got.Healthy {
		t.Error("expected newly registered ephemeral instance to be healthy")
	}

	results, err := r.Query(ctx, ServiceKey{Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcA"}, nil, false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Query returned %d instances, want 1", len(results))
	}
}

func TestQueryEmptyServiceReturnsEmptyList(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	results, err := r.Query(ctx, ServiceKey{Namespace: "public", Group: "DEFAULT_GROUP", Service: "nonexistent"}, nil, false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Query(nonexistent) = %v, want empty non-nil slice", results)
	}
}

func TestPolarityViolationOnUpdate(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	inst := testInstance("10.0.0.6", 7000, true)
	if _, err := r.RegisterEphemeral(ctx, inst); err != nil {
		t.Fatalf("RegisterEphemeral: %v", err)
	}

	flipped := testInstance("10.0.0.6", 7000, false)
	_, err := r.UpdateEphemeral(ctx, flipped)
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Kind != KindInvariantViolation {
		t.Fatalf("UpdateEphemeral polarity flip err = %v, want InvariantViolation", err)
	}

	// State unchanged: original ephemeral instance still queryable.
	results, _ := r.Query(ctx, inst.Key(), nil, false)
	if len(results) != 1 || !results[0].Ephemeral {
		t.Errorf("state changed after rejected polarity flip: %+v", results)
	}
}

func TestHeartbeatUnknownInstanceNotFound(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	err := r.Heartbeat(ctx, InstanceKey{
		ServiceKey:       ServiceKey{Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcA"},
		InstanceShortKey: InstanceShortKey{IP: "10.0.0.9", Port: 1},
	}, 1000)
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Kind != KindNotFound {
		t.Fatalf("Heartbeat(unknown) err = %v, want NotFound", err)
	}
}

func TestSubscribeRevisionMonotonic(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	key := ServiceKey{Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcA"}
	ch, err := r.Subscribe(ctx, key, "listener-1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	inst := testInstance("10.0.0.2", 8081, true)
	if _, err := r.RegisterEphemeral(ctx, inst); err != nil {
		t.Fatalf("RegisterEphemeral: %v", err)
	}
	if err := r.RemoveEphemeral(ctx, inst.InstanceKey()); err != nil {
		t.Fatalf("RemoveEphemeral: %v", err)
	}

	var lastRev uint64
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			if evt.Revision <= lastRev {
				t.Errorf("event %d revision %d not strictly greater than previous %d", i, evt.Revision, lastRev)
			}
			lastRev = evt.Revision
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestApplyPerpetualIdempotentReplay(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	inst := &Instance{
		IP: "10.0.0.2", Port: 9090, Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcB",
		Ephemeral: false, Enabled: true, Weight: 1.0, LastModifiedMillis: 1000,
	}
	first, err := r.ApplyPerpetualRegister(ctx, inst)
	if err != nil {
		t.Fatalf("first apply: %v", err)
	}

	replay := &Instance{
		IP: "10.0.0.2", Port: 9090, Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcB",
		Ephemeral: false, Enabled: true, Weight: 1.0, LastModifiedMillis: 1000,
	}
	second, err := r.ApplyPerpetualRegister(ctx, replay)
	if err != nil {
		t.Fatalf("replay apply: %v", err)
	}
	if second.LastModifiedMillis != first.LastModifiedMillis {
		t.Errorf("replay changed LastModifiedMillis: %d vs %d", second.LastModifiedMillis, first.LastModifiedMillis)
	}

	info, err := r.ServiceInfo(ctx, inst.Key())
	if err != nil {
		t.Fatalf("ServiceInfo: %v", err)
	}
	if info.Revision != 1 {
		t.Errorf("revision after replay = %d, want 1 (replay must not bump it)", info.Revision)
	}
}

func TestApplyPerpetualRejectsPolarityFlip(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	ephem := testInstance("10.0.0.3", 7000, true)
	if _, err := r.RegisterEphemeral(ctx, ephem); err != nil {
		t.Fatalf("RegisterEphemeral: %v", err)
	}

	perp := &Instance{IP: "10.0.0.3", Port: 7000, Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcA", Ephemeral: false, LastModifiedMillis: 5}
	_, err := r.ApplyPerpetualRegister(ctx, perp)
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Kind != KindInvariantViolation {
		t.Fatalf("ApplyPerpetualRegister over ephemeral key err = %v, want InvariantViolation", err)
	}
}

func TestProtectThresholdDefaultReturnsOnlyHealthy(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	a := testInstance("10.0.0.10", 1, true)
	b := testInstance("10.0.0.11", 2, true)
	r.RegisterEphemeral(ctx, a)
	r.RegisterEphemeral(ctx, b)

	// Sniff results only apply to perpetual instances, so add a perpetual
	// instance and mark it unhealthy through the sniff result path.
	perp := &Instance{IP: "10.0.0.12", Port: 3, Namespace: "public", Group: "DEFAULT_GROUP", Service: "svcA", Ephemeral: false, Enabled: true, LastModifiedMillis: 1}
	r.ApplyPerpetualRegister(ctx, perp)
	r.PerpetualHostSniffing(ctx, InstanceShortKey{IP: "10.0.0.12", Port: 3}, []ServiceKey{perp.Key()}, false)

	results, err := r.Query(ctx, perp.Key(), nil, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	// 2 healthy out of 3 enabled = 0.666 >= default threshold 0, so only
	// healthy are returned by default (threshold is never-protect at 0).
	for _, inst := range results {
		if !inst.Healthy {
			t.Errorf("expected only healthy instances with default (0) protect threshold, got %+v", inst)
		}
	}
}

func TestListAllPerpetualUnavailableDuringLoad(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	if err := r.BeginLoad(ctx); err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	_, err := r.ListAllPerpetual(ctx)
	var nerr *Error
	if !errors.As(err, &nerr) || nerr.Kind != KindUnavailable {
		t.Fatalf("ListAllPerpetual during load err = %v, want Unavailable", err)
	}
	if err := r.EndLoad(ctx); err != nil {
		t.Fatalf("EndLoad: %v", err)
	}
	if _, err := r.ListAllPerpetual(ctx); err != nil {
		t.Fatalf("ListAllPerpetual after EndLoad: %v", err)
	}
}

func TestRegisteringDisabledInstanceExcludedFromDefaultQuery(t *testing.T) {
	r, _ := newTestRegistry()
	defer r.Close()
	ctx := context.Background()

	inst := testInstance("10.0.0.20", 1, true)
	inst.Enabled = false
	if _, err := r.RegisterEphemeral(ctx, inst); err != nil {
		t.Fatalf("RegisterEphemeral: %v", err)
	}
	results, err := r.Query(ctx, inst.Key(), nil, false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Query returned %d instances, want 0 (disabled instance excluded)", len(results))
	}
}
