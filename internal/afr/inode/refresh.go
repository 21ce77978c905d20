package inode

import (
	"context"

	"github.com/distfs/afr-core/internal/logger"
)

// Prober fetches a Reply from replica i, the lightweight stat-on-open-fd or
// nameless-lookup query of spec.md §4.1. Implementations live in the
// subvolume package.
type Prober interface {
	Probe(ctx context.Context, replicaIndex int) Reply
}

// HealTrigger enqueues a self-heal descriptor; per spec.md §4.7, heal is
// triggered here but never performed inline.
type HealTrigger interface {
	TriggerHeal(ctx context.Context, dataAccused, metaAccused []bool)
}

// Refresh implements the refresh contract of spec.md §4.1: it queries every
// currently-up replica, interprets the replies, stores the new bitmaps at
// the current event generation, and triggers heal if any up replica was
// accused.
func Refresh(ctx context.Context, c *Context, up []bool, eventGen uint32, prober Prober, heal HealTrigger, arbiterIndex int) InterpretResult {
	replies := make([]Reply, len(up))
	for i, isUp := range up {
		if !isUp {
			replies[i] = Reply{Valid: false}
			continue
		}
		replies[i] = prober.Probe(ctx, i)
	}

	result := Interpret(replies, arbiterIndex)

	data := Readable(up, result.DataAccused)
	meta := Readable(up, result.MetaAccused)
	c.SetReadSubvol(data, meta, eventGen, arbiterIndex)

	if result.NeedsHeal {
		logger.InfoCtx(ctx, "readability interpretation accused an up replica, triggering heal",
			logger.EventGen(eventGen))
		if heal != nil {
			heal.TriggerHeal(ctx, result.DataAccused, result.MetaAccused)
		}
	}

	return result
}

// EnsureFresh refreshes c if its cached bitmap is stale or explicitly
// marked, then returns the readable set for txnType gated through
// GetReadable (split-brain refusal), per the combined read_subvol_get +
// inode_get_readable flow of spec.md §4.1.
func EnsureFresh(ctx context.Context, c *Context, up []bool, currentGen uint32, prober Prober, heal HealTrigger, arbiterIndex int, isDirectory bool) ([]bool, error) {
	if c.NeedRefresh(currentGen) {
		Refresh(ctx, c, up, currentGen, prober, heal, arbiterIndex)
	}

	data, _ := c.ReadSubvolGet(Data)
	meta, _ := c.ReadSubvolGet(Metadata)
	return GetReadable(data, meta, isDirectory)
}
