// Package splitbrain implements the is_split_brain / find-direction
// procedure of spec.md §4.7: detecting an unreadable replica set, allowing
// an operator override (spb_choice) with an auto-clearing spb_timer, and
// building the heal target (source and stale replicas) once a direction is
// chosen.
package splitbrain

import (
	"context"
	"sync"
	"time"

	"github.com/distfs/afr-core/internal/logger"
)

// Dimension names which bitmap a split-brain was detected on, mirroring
// the "dimension" label on the pkg/metrics split-brain counter.
type Dimension string

const (
	DataDimension     Dimension = "data"
	MetadataDimension Dimension = "metadata"
	EntryDimension    Dimension = "entry"
)

// Status is the outcome of evaluating a file's readable bitmap for
// split-brain.
type Status struct {
	SplitBrain bool
	Dimension  Dimension
	Accused    []bool
}

// Detect implements is_split_brain: a file is in split-brain on a
// dimension when every up, non-arbiter replica is accused (none are
// readable), meaning there is no majority witness to trust.
func Detect(up, accused []bool, arbiterIndex int, dim Dimension) Status {
	anyReadable := false
	for i := range up {
		if i == arbiterIndex {
			continue
		}
		if up[i] && !accused[i] {
			anyReadable = true
			break
		}
	}
	if anyReadable {
		return Status{SplitBrain: false, Dimension: dim}
	}
	return Status{SplitBrain: true, Dimension: dim, Accused: accused}
}

// Choice is an operator's override naming which replica should be treated
// as authoritative for a file stuck in split-brain, with a TTL after which
// it auto-clears and must be re-asserted, per spec.md §4.7's spb_timer.
type Choice struct {
	mu        sync.Mutex
	replica   int
	armed     bool
	timer     *time.Timer
	onExpiry  func()
}

// NewChoice creates an unarmed choice holder.
func NewChoice() *Choice {
	return &Choice{replica: -1}
}

// Set arms the override for replicaIndex, clearing automatically after ttl
// unless cleared or reset first. ttl <= 0 disables the auto-clear.
func (c *Choice) Set(ctx context.Context, replicaIndex int, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.replica = replicaIndex
	c.armed = true

	logger.InfoCtx(ctx, "split-brain choice armed", logger.ReplicaIndex(replicaIndex))

	if ttl > 0 {
		c.timer = time.AfterFunc(ttl, func() {
			c.mu.Lock()
			c.armed = false
			c.replica = -1
			fn := c.onExpiry
			c.mu.Unlock()
			if fn != nil {
				fn()
			}
		})
	}
}

// OnExpiry registers a callback invoked when the choice's TTL elapses.
func (c *Choice) OnExpiry(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpiry = fn
}

// Get returns the currently armed replica index, or (-1, false) if unset.
func (c *Choice) Get() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.armed {
		return -1, false
	}
	return c.replica, true
}

// Clear disarms the choice immediately.
func (c *Choice) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	c.armed = false
	c.replica = -1
}

// HealTarget is what a resolved split-brain choice feeds into the heal
// pipeline: the file to heal and which replica is now the source.
type HealTarget struct {
	Path           string
	SourceReplica  int
	StaleReplicas  []bool
}

// ResolveWithChoice builds a HealTarget from the up mask and an armed
// operator Choice, marking every other up, non-arbiter replica stale so the
// heal trigger can sync them from the chosen source. It returns false when
// the choice is not armed.
func ResolveWithChoice(path string, up []bool, arbiterIndex int, choice *Choice) (*HealTarget, bool) {
	source, ok := choice.Get()
	if !ok {
		return nil, false
	}
	stale := make([]bool, len(up))
	for i := range up {
		if i == source || i == arbiterIndex {
			continue
		}
		if up[i] {
			stale[i] = true
		}
	}
	return &HealTarget{Path: path, SourceReplica: source, StaleReplicas: stale}, true
}
