// Package lockcoord implements the FOP-level parallel-then-serial lock
// acquisition protocol of spec.md §4.4 for inodelk/entrylk/finodelk/
// fentrylk/lk-shaped operations.
package lockcoord

import (
	"context"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/distfs/afr-core/internal/logger"
)

// State is the fop_lock_state of spec.md §3's per-operation frame.
type State int

const (
	Init State = iota
	Parallel
	Serial
	QuorumFailed
)

func (s State) String() string {
	switch s {
	case Parallel:
		return "PARALLEL"
	case Serial:
		return "SERIAL"
	case QuorumFailed:
		return "QUORUM_FAILED"
	default:
		return "INIT"
	}
}

// Locker is the per-replica non-blocking SETLK/UNLCK contract lockcoord
// winds against; implementations wrap a Subvolume's local lock.Manager.
type Locker interface {
	TrySetLock(ctx context.Context, replicaIndex int) error // returns syscall.EAGAIN on conflict
	Unlock(ctx context.Context, replicaIndex int) error
}

// Result reports the outcome of an Acquire call.
type Result struct {
	Success bool
	State   State
	Errno   syscall.Errno
	Granted []bool // which replicas hold the lock at return time
}

// Acquire implements spec.md §4.4: a parallel non-blocking phase across
// every up replica, falling back to a serial, index-ordered phase on any
// conflict, enforcing quorum at the end of whichever phase completes.
func Acquire(ctx context.Context, up []bool, quorumCount int, locker Locker) Result {
	n := len(up)
	granted := make([]bool, n)
	conflicted := make([]bool, n)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, isUp := range up {
		if !isUp {
			continue
		}
		i := i
		g.Go(func() error {
			err := locker.TrySetLock(gctx, i)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				granted[i] = true
			} else {
				conflicted[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	anyConflict := false
	for _, c := range conflicted {
		if c {
			anyConflict = true
			break
		}
	}

	if !anyConflict && hasQuorum(granted, quorumCount) {
		return Result{Success: true, State: Parallel, Granted: granted}
	}

	// Unlock everywhere we got a grant, then serialize.
	for i, g := range granted {
		if g {
			_ = locker.Unlock(ctx, i)
			granted[i] = false
		}
	}

	logger.InfoCtx(ctx, "fop lock contention, entering serial phase", logger.FopLockState(Serial.String()))

	for i, isUp := range up {
		if !isUp {
			continue
		}
		err := locker.TrySetLock(ctx, i)
		if err != nil {
			// Conflict during serial phase: unlock the prefix and fail.
			for j := 0; j < i; j++ {
				if granted[j] {
					_ = locker.Unlock(ctx, j)
					granted[j] = false
				}
			}
			return Result{Success: false, State: Serial, Errno: syscall.EAGAIN, Granted: granted}
		}
		granted[i] = true
	}

	if !hasQuorum(granted, quorumCount) {
		for i, g := range granted {
			if g {
				_ = locker.Unlock(ctx, i)
				granted[i] = false
			}
		}
		return Result{Success: false, State: QuorumFailed, Errno: syscall.ENOTCONN, Granted: granted}
	}

	return Result{Success: true, State: Serial, Granted: granted}
}

func hasQuorum(granted []bool, quorumCount int) bool {
	if quorumCount <= 0 {
		return true
	}
	n := 0
	for _, g := range granted {
		if g {
			n++
		}
	}
	return n >= quorumCount
}
