// Package snapshot implements the perpetual-instance Build/Load cycle:
// streaming every perpetual instance out to an io.Writer, and restoring
// a registry from a previously built stream (spec.md §4.5, P5, scenario
// 5). This is the operator-facing counterpart to the Raft FSM's own
// snapshot/restore cycle (internal/naming/raft's fsm.go), sharing the
// same on-the-wire record framing so a Build output can also seed a
// brand-new node outside of Raft log replay.
package snapshot

import (
	"context"
	"io"

	"github.com/nacos-raft/naming-registry/internal/naming"
	"github.com/nacos-raft/naming-registry/internal/naming/raft"
)

// Source is the subset of *naming.Registry Build reads from.
type Source interface {
	ListAllPerpetual(ctx context.Context) ([]*naming.Instance, error)
}

// Sink is the subset of *naming.Registry Load writes into.
type Sink interface {
	BeginLoad(ctx context.Context) error
	LoadInstance(ctx context.Context, inst *naming.Instance) error
	EndLoad(ctx context.Context) error
	AbortLoad(ctx context.Context) error
}

// Build streams every perpetual instance currently held by src to w, in
// the registry's internal enumeration order. The instance list is copied
// in one ListAllPerpetual call, which the registry serves as a single
// command, so the output is a consistent point-in-time copy; writes
// applied after that copy are not included.
func Build(ctx context.Context, src Source, w io.Writer) error {
	instances, err := src.ListAllPerpetual(ctx)
	if err != nil {
		return err
	}
	return raft.EncodeSnapshotStream(w, instances)
}

// Load replaces dst's perpetual partition with the contents of r. It
// puts dst into the loading state for the duration (reads return
// Unavailable, per spec.md §4.5), and aborts cleanly back to empty on
// any decode or apply failure rather than leaving a half-loaded state.
func Load(ctx context.Context, dst Sink, r io.Reader) error {
	if err := dst.BeginLoad(ctx); err != nil {
		return err
	}
	records, err := raft.DecodeSnapshotStream(r)
	if err != nil {
		_ = dst.AbortLoad(ctx)
		return err
	}
	for _, rec := range records {
		if err := dst.LoadInstance(ctx, rec.ToInstance()); err != nil {
			_ = dst.AbortLoad(ctx)
			return err
		}
	}
	return dst.EndLoad(ctx)
}
