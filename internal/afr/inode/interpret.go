package inode

import (
	stderrors "errors"
	"syscall"

	"github.com/distfs/afr-core/pkg/metadata/errors"
)

// Reply is one replica's answer to a readability probe (a lightweight stat
// on an open fd, or a nameless lookup for path-only operations), per the
// refresh contract of spec.md §4.1.
type Reply struct {
	Valid    bool
	Failed   bool
	BadInode bool // GLUSTERFS_BAD_INODE xdata present
	Size     uint64
	IsRegularFile bool

	// Pending holds, for each transaction type, the per-peer pending
	// counters this replica reports against every other replica: a nonzero
	// Pending[t][j] accuses replica j in transaction type t.
	Pending [][]uint32
}

// InterpretResult is the outcome of running the readability interpretation
// algorithm of spec.md §4.1 over one set of replies.
type InterpretResult struct {
	DataAccused []bool
	MetaAccused []bool
	NeedsHeal   bool
}

// Interpret runs the five-step readability interpretation algorithm of
// spec.md §4.1 over replies from N replicas, with replica arbiterIndex (or
// -1) always accused for data.
func Interpret(replies []Reply, arbiterIndex int) InterpretResult {
	n := len(replies)
	dataAccused := make([]bool, n)
	metaAccused := make([]bool, n)

	// Step 1: arbiter always accused for data.
	if arbiterIndex >= 0 && arbiterIndex < n {
		dataAccused[arbiterIndex] = true
	}

	// Step 2: invalid/failed/bad-inode replies accuse both dimensions.
	for i, r := range replies {
		if !r.Valid || r.Failed || r.BadInode {
			dataAccused[i] = true
			metaAccused[i] = true
		}
	}

	// Step 3: pending-counter cross accusation.
	for i, r := range replies {
		if !r.Valid || r.Failed {
			continue
		}
		for txnIdx, perPeer := range r.Pending {
			for j, count := range perPeer {
				if j == i || count == 0 {
					continue
				}
				switch TxnType(txnIdx) {
				case Data:
					dataAccused[j] = true
				case Metadata:
					metaAccused[j] = true
				case Entry:
					metaAccused[j] = true
				}
			}
		}
	}

	// Step 4: size-comparison heuristic for regular files. It runs whether
	// or not a transaction is in flight on the file. Find the max size among
	// unaccused, non-arbiter replicas; every strictly smaller unaccused
	// replica is accused for data.
	maxSize := uint64(0)
	maxIdx := -1
	for i, r := range replies {
		if i == arbiterIndex || dataAccused[i] || !r.Valid || !r.IsRegularFile {
			continue
		}
		if maxIdx == -1 || r.Size > maxSize {
			maxSize = r.Size
			maxIdx = i
		}
	}
	if maxIdx != -1 {
		for i, r := range replies {
			if i == arbiterIndex || i == maxIdx || dataAccused[i] || !r.Valid || !r.IsRegularFile {
				continue
			}
			if r.Size < maxSize {
				dataAccused[i] = true
			}
		}
	}

	needsHeal := false
	for i, r := range replies {
		if !r.Valid && !r.Failed {
			continue
		}
		if dataAccused[i] || metaAccused[i] {
			needsHeal = true
		}
	}

	return InterpretResult{DataAccused: dataAccused, MetaAccused: metaAccused, NeedsHeal: needsHeal}
}

// Readable computes readable = up AND NOT accused for a dimension, per the
// final step of spec.md §4.1's interpretation algorithm.
func Readable(up []bool, accused []bool) []bool {
	out := make([]bool, len(up))
	for i := range up {
		out[i] = up[i] && !accused[i]
	}
	return out
}

// GetReadable implements inode_get_readable of spec.md §4.1. For
// directories only metadata readability is required: it refuses
// (split-brain) when no replica is metadata-readable. For other files it
// refuses when no replica is data-readable, whatever the metadata bitmap
// says.
func GetReadable(dataReadable, metaReadable []bool, isDirectory bool) ([]bool, error) {
	anyMeta := anyTrue(metaReadable)
	if isDirectory {
		if !anyMeta {
			return nil, errors.NewSplitBrainError("", "metadata")
		}
		return metaReadable, nil
	}

	anyData := anyTrue(dataReadable)
	if !anyData && !anyMeta {
		return nil, errors.NewSplitBrainError("", "data+metadata")
	}
	if !anyData {
		return nil, errors.NewSplitBrainError("", "data")
	}
	return dataReadable, nil
}

func anyTrue(bs []bool) bool {
	for _, b := range bs {
		if b {
			return true
		}
	}
	return false
}

// EIOFromSplitBrain converts a split-brain StoreError to the literal EIO
// errno the scenario tables of spec.md §8 expect at the caller boundary.
func EIOFromSplitBrain(err error) syscall.Errno {
	var se *errors.StoreError
	if stderrors.As(err, &se) && se.Code == errors.ErrSplitBrain {
		return syscall.EIO
	}
	return 0
}
