package raft

import (
	"context"
	"io"
	"time"

	hraft "github.com/hashicorp/raft"

	"github.com/nacos-raft/naming-registry/internal/logging"
	"github.com/nacos-raft/naming-registry/internal/naming"
)

// applyTimeout bounds how long a single FSM.Apply call may take against
// the registry actor. Apply runs on Raft's own goroutine; a registry that
// is wedged must not be allowed to stall the whole log indefinitely.
const applyTimeout = 5 * time.Second

// Applier is the subset of *naming.Registry the FSM drives. Apply must
// remain deterministic: no wall-clock reads, no inline sniffing, no
// iteration order that could differ between replicas.
type Applier interface {
	ApplyPerpetualRegister(ctx context.Context, inst *naming.Instance) (*naming.Instance, error)
	ApplyPerpetualUpdate(ctx context.Context, inst *naming.Instance) (*naming.Instance, error)
	ApplyPerpetualRemove(ctx context.Context, key naming.InstanceKey, lastModifiedMillis uint64) error
	BeginLoad(ctx context.Context) error
	LoadInstance(ctx context.Context, inst *naming.Instance) error
	EndLoad(ctx context.Context) error
	AbortLoad(ctx context.Context) error
}

// SnapshotSource streams every perpetual instance for a hashicorp/raft
// FSM snapshot (the record framing is EncodeSnapshotStream in
// snapshotcodec.go).
type SnapshotSource interface {
	ListAllPerpetual(ctx context.Context) ([]*naming.Instance, error)
}

// FSM adapts the registry's apply path to hashicorp/raft's FSM interface.
type FSM struct {
	registry Applier
	source   SnapshotSource
	log      *logging.Logger
	decoder  *LegacyDecoder
}

// NewFSM constructs an FSM. registry and source are typically the same
// *naming.Registry value, accepted as two narrower interfaces so tests
// can fake each independently.
func NewFSM(registry Applier, source SnapshotSource, log *logging.Logger) *FSM {
	return &FSM{registry: registry, source: source, log: log, decoder: NewLegacyDecoder()}
}

// ApplyResult is what Apply returns via raft.ApplyFuture.Response(); the
// raftrpc layer type-asserts it back after a successful propose.
type ApplyResult struct {
	Instance *naming.Instance
	Err      error
}

// Apply decodes and applies a single committed log entry. It never
// consults wall-clock time or any other non-deterministic input: every
// stamp the request needs (LastModifiedMillis) already travels inside
// the entry.
func (f *FSM) Apply(entry *hraft.Log) interface{} {
	req, err := f.decoder.Decode(entry.Data)
	if err != nil {
		f.log.Error("decode raft log entry failed", "index", entry.Index, "error", err)
		return ApplyResult{Err: err}
	}

	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	// Legacy entries may omit last_modified_millis entirely (spec.md §9).
	// The commit index is deterministic and strictly increasing across
	// every replica, so it is a safe stand-in stamp.
	if req.RegisterParam != nil && req.RegisterParam.LastModifiedMillis == 0 {
		req.RegisterParam.LastModifiedMillis = entry.Index
	}
	if req.RemoveKey != nil && req.RemoveKey.LastModifiedMillis == 0 {
		req.RemoveKey.LastModifiedMillis = entry.Index
	}

	switch req.Kind {
	case ReqRegisterInstance:
		inst, err := f.registry.ApplyPerpetualRegister(ctx, req.RegisterParam.ToInstance())
		return ApplyResult{Instance: inst, Err: err}
	case ReqUpdateInstance:
		inst, err := f.registry.ApplyPerpetualUpdate(ctx, req.RegisterParam.ToInstance())
		return ApplyResult{Instance: inst, Err: err}
	case ReqRemoveInstance:
		err := f.registry.ApplyPerpetualRemove(ctx, req.RemoveKey.InstanceKey(), req.RemoveKey.LastModifiedMillis)
		return ApplyResult{Err: err}
	default:
		return ApplyResult{Err: naming.NewError(naming.KindDecodeError, "FSM.Apply", nil)}
	}
}

// Snapshot captures the current perpetual partition. The actual record
// framing lives in snapshotcodec.go (also used by internal/naming/
// snapshot); fsmSnapshot here only holds
// the point-in-time instance list the registry actor handed back, so
// Raft can persist it off the hot path.
func (f *FSM) Snapshot() (hraft.FSMSnapshot, error) {
	instances, err := f.source.ListAllPerpetual(context.Background())
	if err != nil {
		return nil, err
	}
	return &fsmSnapshot{instances: instances}, nil
}

// Restore replaces the perpetual partition from a previously taken
// snapshot, via the registry's BeginLoad/LoadInstance/EndLoad sequence
// (spec.md §4.5, P5).
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	ctx := context.Background()
	if err := f.registry.BeginLoad(ctx); err != nil {
		return err
	}
	records, err := decodeSnapshotStream(rc)
	if err != nil {
		_ = f.registry.AbortLoad(ctx)
		return err
	}
	for _, rec := range records {
		if err := f.registry.LoadInstance(ctx, rec.ToInstance()); err != nil {
			_ = f.registry.AbortLoad(ctx)
			return err
		}
	}
	return f.registry.EndLoad(ctx)
}

type fsmSnapshot struct {
	instances []*naming.Instance
}

// Persist writes the snapshot using the same framing Restore/
// internal/naming/snapshot understand: a stream of length-prefixed
// InstanceRegisterParam records.
func (s *fsmSnapshot) Persist(sink hraft.SnapshotSink) error {
	err := encodeSnapshotStream(sink, s.instances)
	if err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
