// Package transaction implements the mutation transaction skeleton of
// spec.md §4.3: LOCK → PRE-OP → WIND → COLLECT → POST-OP → UNLOCK →
// UNWIND, quorum enforcement, the symmetric-error short-circuit, and
// in-flight split-brain detection.
package transaction

import (
	"context"
	"fmt"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/distfs/afr-core/internal/afr/inode"
	"github.com/distfs/afr-core/internal/logger"
	"github.com/distfs/afr-core/pkg/metadata/errors"
)

// Reply is one replica's answer to the mutating call wound during COLLECT.
type Reply struct {
	Valid  bool
	OpRet  int
	Errno  syscall.Errno
}

// Op is the mutating call a transaction winds to each up replica, e.g. the
// per-FOP wrapper's actual write/setattr/create call. It is supplied by the
// caller; the transaction skeleton itself is FOP-agnostic per spec.md §4.3
// ("the per-FOP wrappers are external collaborators").
type Op func(ctx context.Context, replicaIndex int) Reply

// Config carries the quorum/consistency parameters a transaction enforces.
type Config struct {
	QuorumCount  int // 0 = disabled
	ConsistentIO bool
	QuorumErrno  syscall.Errno // errno surfaced on quorum loss; ENOTCONN by default
}

// Result is what a transaction reports to its caller.
type Result struct {
	OpRet         int
	Errno         syscall.Errno
	FailedSubvols []bool
	InFlightSB    bool
	InFlightSBErrno syscall.Errno
}

// Run executes one mutation transaction across up replicas, following the
// LOCK→PRE-OP→WIND→COLLECT→POST-OP→UNLOCK→UNWIND skeleton. Lock
// acquisition/release is handled by the lockcoord package and is assumed
// already held by the time Run is called; Run itself implements the
// PRE-OP/WIND/COLLECT/POST-OP/quorum portion.
//
// frameEventGen is the event generation snapshotted at frame init;
// currentEventGen is the live topology generation at COLLECT time, used
// for the consistent-IO gate.
func Run(ctx context.Context, up []bool, cfg Config, preOp, op, postOp Op, ctxState *inode.Context, frameEventGen, currentEventGen uint32, wasReadableBefore int) Result {
	n := len(up)
	replies := make([]Reply, n)

	if cfg.ConsistentIO && frameEventGen != currentEventGen {
		logger.WarnCtx(ctx, "stale topology under consistent_io, failing transaction",
			logger.EventGen(frameEventGen))
		return Result{OpRet: -1, Errno: syscall.ENOTCONN, FailedSubvols: make([]bool, n)}
	}

	// PRE-OP: mark dirty on every up replica in parallel.
	g, gctx := errgroup.WithContext(ctx)
	for i, isUp := range up {
		if !isUp {
			continue
		}
		i := i
		g.Go(func() error {
			preOp(gctx, i)
			return nil
		})
	}
	_ = g.Wait()

	// WIND + COLLECT: issue the mutating op to every up replica in
	// parallel, standing in for the §5 "barrier" primitive.
	g, gctx = errgroup.WithContext(ctx)
	for i, isUp := range up {
		if !isUp {
			continue
		}
		i := i
		g.Go(func() error {
			replies[i] = op(gctx, i)
			return nil
		})
	}
	_ = g.Wait()

	failedSubvols := make([]bool, n)
	successSet := make([]bool, n)
	var validReplies []Reply
	var validIdx []int
	for i, isUp := range up {
		if !isUp {
			continue
		}
		r := replies[i]
		if r.Valid {
			validReplies = append(validReplies, r)
			validIdx = append(validIdx, i)
		}
		if r.Valid && r.OpRet >= 0 {
			successSet[i] = true
		}
	}

	symmetric := isSymmetricError(validReplies)

	for idx, r := range replies {
		if !up[idx] {
			continue
		}
		if !r.Valid {
			failedSubvols[idx] = true
			continue
		}
		if r.OpRet < 0 && !symmetric {
			failedSubvols[idx] = true
		}
	}

	result := Result{FailedSubvols: failedSubvols}

	if symmetric && len(validReplies) > 0 {
		result.OpRet = validReplies[0].OpRet
		result.Errno = validReplies[0].Errno
	} else {
		successCount := 0
		for _, ok := range successSet {
			if ok {
				successCount++
			}
		}
		if cfg.QuorumCount > 0 && successCount < cfg.QuorumCount {
			quorumErrno := cfg.QuorumErrno
			if quorumErrno == 0 {
				quorumErrno = syscall.ENOTCONN
			}
			// If every valid reply failed and agrees on a non-ENOTCONN
			// errno, surface the highest-priority one instead, per
			// spec.md §4.3. A mix of partial success and disagreeing
			// failures still surfaces the generic quorum-loss errno.
			if successCount == 0 {
				if agreedErrno, ok := allAgreeNonConn(validReplies); ok {
					quorumErrno = agreedErrno
				}
			}
			result.OpRet = -1
			result.Errno = quorumErrno
		} else if successCount > 0 {
			result.OpRet = 0
		} else {
			result.OpRet = -1
			result.Errno = syscall.EIO
		}
	}

	// In-flight split-brain detection: if exactly one replica was
	// readable before this transaction and this transaction failed on
	// that one replica, mark in_flight_sb rather than letting the
	// remaining replicas silently become the new source of truth.
	if wasReadableBefore >= 0 && wasReadableBefore < n && failedSubvols[wasReadableBefore] {
		result.InFlightSB = true
		result.InFlightSBErrno = replies[wasReadableBefore].Errno
		ctxState.SetNeedRefresh()
		logger.WarnCtx(ctx, "in-flight split-brain detected",
			logger.ReplicaIndex(wasReadableBefore))
	}

	// POST-OP: clear dirty on successful replicas, leave pending on failed
	// ones (the per-FOP wrapper / caller's postOp implements the actual
	// xattrop against each replica's Subvolume).
	g, gctx = errgroup.WithContext(ctx)
	for i, isUp := range up {
		if !isUp || !successSet[i] {
			continue
		}
		i := i
		g.Go(func() error {
			postOp(gctx, i)
			return nil
		})
	}
	_ = g.Wait()

	return result
}

// isSymmetricError implements the §4.3 "symmetric error short-circuit":
// every valid reply has op_ret=-1, all errnos equal, and none is ENOTCONN.
func isSymmetricError(replies []Reply) bool {
	if len(replies) == 0 {
		return false
	}
	first := replies[0]
	if first.OpRet >= 0 {
		return false
	}
	if first.Errno == syscall.ENOTCONN {
		return false
	}
	for _, r := range replies[1:] {
		if r.OpRet >= 0 || r.Errno != first.Errno {
			return false
		}
	}
	return true
}

func allAgreeNonConn(replies []Reply) (syscall.Errno, bool) {
	var errs []syscall.Errno
	for _, r := range replies {
		if r.OpRet < 0 {
			errs = append(errs, r.Errno)
		}
	}
	if len(errs) == 0 {
		return 0, false
	}
	first := errs[0]
	for _, e := range errs[1:] {
		if e != first {
			return 0, false
		}
	}
	if first == syscall.ENOTCONN {
		return 0, false
	}
	return errors.HighestPriorityErrno(errs), true
}

// QuorumSatisfied reports whether successCount meets cfg's quorum policy.
func QuorumSatisfied(cfg Config, successCount int) bool {
	if cfg.QuorumCount <= 0 {
		return successCount > 0
	}
	return successCount >= cfg.QuorumCount
}

// String renders a Result for log/test diagnostics.
func (r Result) String() string {
	return fmt.Sprintf("op_ret=%d errno=%v in_flight_sb=%v", r.OpRet, r.Errno, r.InFlightSB)
}
