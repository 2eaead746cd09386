// Package transfer implements the operator-triggered backup adapter:
// a thin, flag-gated wrapper around internal/naming/snapshot.Build,
// grounded directly in original_source/src/naming/transfer.rs's
// Backup(writer, param) handler and its `param.naming` gate.
package transfer

import (
	"context"
	"io"

	"github.com/nacos-raft/naming-registry/internal/naming/snapshot"
)

// BackupParam selects which subsystems a backup request covers. Naming is
// its only field; no other subsystem can be selected.
type BackupParam struct {
	Naming bool
}

// Backup writes a naming snapshot to w when param.Naming is set,
// otherwise it is a no-op, matching the original handler's per-subsystem
// gating (a single backup request can cover several subsystems, each
// independently enabled).
func Backup(ctx context.Context, src snapshot.Source, param BackupParam, w io.Writer) error {
	if !param.Naming {
		return nil
	}
	return snapshot.Build(ctx, src, w)
}
