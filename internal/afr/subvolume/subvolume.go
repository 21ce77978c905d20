// Package subvolume defines the thin per-replica contract AFR needs from a
// lower-layer brick subvolume (spec.md §1: "children[0..N)" handles), and
// ships three concrete backends: an in-memory one for tests, a badger-backed
// one for persistent pending-xattr/dirty storage, and an S3-backed thin
// arbiter id file (spec.md §6).
package subvolume

import (
	"context"

	"github.com/distfs/afr-core/internal/afr/inode"
	"github.com/distfs/afr-core/pkg/lock"
)

// PendingCounters is the 3-int32 {data, metadata, entry} changelog matrix
// entry spec.md §6 describes for trusted.afr.<brick>-pending and
// trusted.afr.dirty.
type PendingCounters [3]int32

// Attrs is the subset of a stat reply AFR's readability interpretation
// needs (spec.md §4.1): size and regular-file-ness, plus whatever the
// caller marks as "bad".
type Attrs struct {
	Size          uint64
	IsRegularFile bool
	BadInode      bool
}

// Subvolume is the per-replica entrypoint AFR issues stat/lookup/xattr/lock
// operations against. One concrete value exists per children[i] handle.
type Subvolume interface {
	// Stat performs the lightweight probe used by refresh (spec.md §4.1):
	// a stat on an open fd, or a nameless lookup for path-only operations.
	Stat(ctx context.Context, path string) (Attrs, error)

	// GetDirty returns the pre-op intent counters for path.
	GetDirty(ctx context.Context, path string) (PendingCounters, error)
	// SetDirty sets the pre-op intent counters for path.
	SetDirty(ctx context.Context, path string, c PendingCounters) error

	// GetPending returns the changelog matrix entry this replica keeps
	// about peer, i.e. trusted.afr.<peer>-pending.
	GetPending(ctx context.Context, path string, peer int) (PendingCounters, error)
	// SetPending sets the changelog matrix entry this replica keeps about
	// peer.
	SetPending(ctx context.Context, path string, peer int, c PendingCounters) error

	// Locks returns this replica's local byte-range lock table.
	Locks() *lock.Manager
}

// Probe adapts a Subvolume into the inode.Prober interface Refresh needs,
// assembling an inode.Reply from Stat + the pending-counter matrix across
// every peer.
type Probe struct {
	Subvols []Subvolume
	Path    string
}

// Probe implements inode.Prober for a single replica index, querying
// Stat plus every peer's pending counters to build the cross-accusation
// input Interpret expects.
func (p Probe) Probe(ctx context.Context, replicaIndex int) inode.Reply {
	sv := p.Subvols[replicaIndex]
	attrs, err := sv.Stat(ctx, p.Path)
	if err != nil {
		return inode.Reply{Valid: false, Failed: true}
	}

	n := len(p.Subvols)
	pending := make([][]uint32, 3)
	for t := 0; t < 3; t++ {
		pending[t] = make([]uint32, n)
	}
	for peer := 0; peer < n; peer++ {
		if peer == replicaIndex {
			continue
		}
		counters, err := sv.GetPending(ctx, p.Path, peer)
		if err != nil {
			continue
		}
		for t := 0; t < 3; t++ {
			if counters[t] != 0 {
				pending[t][peer] = uint32(counters[t])
			}
		}
	}

	return inode.Reply{
		Valid:         true,
		BadInode:      attrs.BadInode,
		Size:          attrs.Size,
		IsRegularFile: attrs.IsRegularFile,
		Pending:       pending,
	}
}
