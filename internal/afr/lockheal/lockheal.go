// Package lockheal implements the domain lock and lock-heal queue of
// spec.md §4.5: migrating saved_locks onto a reconnected replica, verifying
// ownership with F_GETLK, and fencing when quorum is lost mid-heal.
package lockheal

import (
	"container/list"
	"context"
	"sync"
	"syscall"

	"github.com/distfs/afr-core/internal/afr/lockcoord"
	"github.com/distfs/afr-core/internal/logger"
	"github.com/distfs/afr-core/pkg/lock"
)

// HealDomain is the reserved lock domain name HealAll locks across every up
// replica to serialize heal passes, per spec.md §4.5.
const HealDomain = "afr.lock-heal"

// Getlker verifies that a lock owner still actually holds the range it
// claims on a replica, the F_GETLK-equivalent check spec.md §4.5 requires
// before migrating a saved lock onto a reconnected child.
type Getlker interface {
	GetLock(ctx context.Context, replicaIndex int, path string, owner lock.Owner, offset, length uint64, typ lock.LockType) (*lock.FileLock, error)
}

// Setlker installs a verified lock onto a reconnected replica.
type Setlker interface {
	SetLock(ctx context.Context, replicaIndex int, path string, fl *lock.FileLock) error
}

// TopologyGen reports the event generation last stamped when a replica
// came up and when it went down, so a heal attempt can tell whether the
// target replica flapped (went down and back up) while the attempt was in
// flight, per spec.md §4.5 step 4.
type TopologyGen interface {
	UpDownGen(replicaIndex int) (upGen, downGen uint32)
}

// SavedLock is one entry of the saved_locks table: a lock that was granted
// on at least one replica and must be replayed onto any replica that was
// down when it was granted and has since come back up.
type SavedLock struct {
	Path      string
	Lock      lock.FileLock
	GrantedOn []bool // replicas holding this lock when it was taken

	// ChildUpEventGen/ChildDownEventGen snapshot the target replica's
	// topology generation immediately before step 2 (GetLock verification)
	// runs, so step 4 can detect a flap that happened mid-heal.
	ChildUpEventGen   uint32
	ChildDownEventGen uint32
}

// Outcome is what happened to one queued heal attempt.
type Outcome int

const (
	Healed Outcome = iota
	Abandoned
	Requeued
)

func (o Outcome) String() string {
	switch o {
	case Healed:
		return "healed"
	case Requeued:
		return "requeued"
	default:
		return "abandoned"
	}
}

// Queue is the per-replica-set lk_healq: work items created whenever a
// child transitions CHILD_UP while saved_locks has entries it was missing.
type Queue struct {
	mu    sync.Mutex
	items *list.List // of *SavedLock
}

// NewQueue builds an empty lock-heal queue.
func NewQueue() *Queue {
	return &Queue{items: list.New()}
}

// Enqueue adds a saved lock to the back of the heal queue.
func (q *Queue) Enqueue(sl *SavedLock) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushBack(sl)
}

// Len reports the number of outstanding heal items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Drain pops every queued item in FIFO order for processing.
func (q *Queue) Drain() []*SavedLock {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*SavedLock, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*SavedLock))
	}
	q.items.Init()
	return out
}

// HealOne replays a single saved lock onto replicaIndex, following spec.md
// §4.5: sample the target's up/down generation (step 1 bookkeeping), verify
// the owner still holds the range elsewhere via F_GETLK (step 2), install it
// (step 3), then check for an intervening flap (step 4). Abandon (never
// requeue) if the owner no longer holds the range anywhere, since that
// means the lock was already released; requeue if install fails outright or
// if a flap is detected after a successful install, since in both cases the
// replica's state can no longer be trusted without another attempt.
func HealOne(ctx context.Context, sl *SavedLock, replicaIndex int, verifyOn int, topoGen TopologyGen, getlk Getlker, setlk Setlker) Outcome {
	sl.ChildUpEventGen, sl.ChildDownEventGen = topoGen.UpDownGen(replicaIndex)

	current, err := getlk.GetLock(ctx, verifyOn, sl.Path, sl.Lock.Owner, sl.Lock.Offset, sl.Lock.Length, sl.Lock.Type)
	if err != nil || current == nil {
		logger.InfoCtx(ctx, "lock-heal owner no longer holds range, abandoning",
			logger.ReplicaIndex(replicaIndex))
		return Abandoned
	}

	if err := setlk.SetLock(ctx, replicaIndex, sl.Path, &sl.Lock); err != nil {
		logger.WarnCtx(ctx, "lock-heal install failed, requeueing",
			logger.ReplicaIndex(replicaIndex))
		return Requeued
	}

	upGen, downGen := topoGen.UpDownGen(replicaIndex)
	if upGen <= downGen || upGen != sl.ChildUpEventGen {
		logger.WarnCtx(ctx, "lock-heal detected an intervening child flap, leaving on heal queue",
			logger.ReplicaIndex(replicaIndex))
		return Requeued
	}
	return Healed
}

// HealAll acquires the reserved heal-domain lock (AFR_LK_HEAL_DOM) across
// every up replica before touching any saved lock (spec.md §4.5 step 1):
// parallel non-blocking, falling back to the same serial phase
// lockcoord.Acquire uses for any other domain lock. If quorum is still not
// met, the queue is left untouched for the next CHILD_UP to retry.
//
// Once the domain lock is held, HealAll drains the queue and attempts every
// item against replicaIndex, checking quorum before each attempt: if quorum
// is lost partway through, the remaining items are fenced off (abandoned,
// not requeued) per the Open Question decision recorded in the design
// ledger, since a heal performed without quorum could itself introduce a
// split-brain.
func HealAll(ctx context.Context, q *Queue, replicaIndex, verifyOn int, up []bool, quorumCount int, domainLocker lockcoord.Locker, topoGen TopologyGen, hasQuorum func() bool, getlk Getlker, setlk Setlker) map[Outcome]int {
	tally := map[Outcome]int{}
	if q.Len() == 0 {
		return tally
	}

	domainRes := lockcoord.Acquire(ctx, up, quorumCount, domainLocker)
	if !domainRes.Success {
		logger.WarnCtx(ctx, "heal-domain lock acquisition lost quorum, leaving heal queue for next retry",
			logger.ReplicaIndex(replicaIndex))
		tally[Requeued] = q.Len()
		return tally
	}
	defer func() {
		for i, granted := range domainRes.Granted {
			if granted {
				_ = domainLocker.Unlock(ctx, i)
			}
		}
	}()

	items := q.Drain()
	for _, sl := range items {
		if !hasQuorum() {
			tally[Abandoned]++
			logger.WarnCtx(ctx, "quorum lost mid-heal, fencing remaining items",
				logger.ReplicaIndex(replicaIndex))
			continue
		}
		outcome := HealOne(ctx, sl, replicaIndex, verifyOn, topoGen, getlk, setlk)
		tally[outcome]++
		if outcome == Requeued {
			q.Enqueue(sl)
		}
	}
	return tally
}

// FenceErrno is surfaced to callers attempting operations against a replica
// whose heal was abandoned for lack of quorum, per spec.md §4.5's fencing
// requirement.
const FenceErrno = syscall.EBADFD
