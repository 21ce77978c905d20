// Package afrtest collects fixtures shared by the internal/afr/* test
// suites: a ready-made healthy N-way ReplicaSet over in-memory subvolumes,
// and a manual clock for driving timer-based logic (the split-brain
// choice TTL, the stagger timer) without wall-clock sleeps.
package afrtest

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/distfs/afr-core/internal/afr/replicaset"
	"github.com/distfs/afr-core/internal/afr/subvolume"
	"github.com/distfs/afr-core/pkg/config"
	"github.com/distfs/afr-core/pkg/metrics"
)

// NewHealthySet builds a childCount-way ReplicaSet over fresh
// MemorySubvolumes with every replica already marked up, the common
// starting point for scenario-table tests (spec.md §8).
func NewHealthySet(childCount int) (*replicaset.ReplicaSet, []*subvolume.MemorySubvolume) {
	cfg := config.DefaultConfig()
	cfg.ChildCount = childCount
	cfg.QuorumCount = config.QuorumAuto

	mems := make([]*subvolume.MemorySubvolume, childCount)
	subvols := make([]subvolume.Subvolume, childCount)
	for i := range mems {
		mems[i] = subvolume.NewMemorySubvolume()
		subvols[i] = mems[i]
	}

	m := metrics.NewMetrics(prometheus.NewRegistry())
	rs := replicaset.New(cfg, subvols, m, -1)
	ctx := context.Background()
	for i := 0; i < childCount; i++ {
		rs.ChildUp(ctx, i)
	}
	return rs, mems
}

// ManualClock is a fake time source for components that accept an
// injected "now" function, letting tests advance time deterministically
// instead of sleeping. It does not replace the stdlib timers topology and
// splitbrain use internally (those remain real, short-duration timers in
// tests); it exists for logic written against an explicit clock, such as
// spb_timer expiry bookkeeping exercised at the unit level.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock starting at the given instant.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new instant.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
