package transaction

import (
	"context"
	"syscall"
	"testing"

	"github.com/distfs/afr-core/internal/afr/inode"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, i int) Reply { return Reply{Valid: true, OpRet: 0} }

// Scenario A: healthy 3-way write, quorum=2, all up.
func TestScenarioAHealthyWrite(t *testing.T) {
	t.Parallel()
	up := []bool{true, true, true}
	cfg := Config{QuorumCount: 2}
	ctxState := inode.NewContext(3)

	writeOp := func(ctx context.Context, i int) Reply {
		return Reply{Valid: true, OpRet: 5}
	}

	res := Run(context.Background(), up, cfg, noop, writeOp, noop, ctxState, 7, 7, -1)
	require.Equal(t, 0, res.OpRet)
	require.False(t, res.FailedSubvols[0])
	require.False(t, res.FailedSubvols[1])
	require.False(t, res.FailedSubvols[2])
}

// Scenario B: write with one brick down, quorum=2.
func TestScenarioBOneBrickDown(t *testing.T) {
	t.Parallel()
	up := []bool{true, true, false}
	cfg := Config{QuorumCount: 2}
	ctxState := inode.NewContext(3)

	writeOp := func(ctx context.Context, i int) Reply {
		return Reply{Valid: true, OpRet: 5}
	}

	res := Run(context.Background(), up, cfg, noop, writeOp, noop, ctxState, 8, 8, -1)
	require.Equal(t, 0, res.OpRet)
	require.False(t, res.FailedSubvols[0])
	require.False(t, res.FailedSubvols[1])
	require.False(t, res.FailedSubvols[2]) // down replicas are simply not wound, not "failed"
}

func TestQuorumFailureReturnsENOTCONN(t *testing.T) {
	t.Parallel()
	up := []bool{true, true, true}
	cfg := Config{QuorumCount: 2}
	ctxState := inode.NewContext(3)

	writeOp := func(ctx context.Context, i int) Reply {
		if i == 0 {
			return Reply{Valid: true, OpRet: 5}
		}
		return Reply{Valid: true, OpRet: -1, Errno: syscall.EIO}
	}

	res := Run(context.Background(), up, cfg, noop, writeOp, noop, ctxState, 1, 1, -1)
	require.Equal(t, -1, res.OpRet)
	require.Equal(t, syscall.ENOTCONN, res.Errno)
}

func TestSymmetricErrorShortCircuit(t *testing.T) {
	t.Parallel()
	up := []bool{true, true, true}
	cfg := Config{QuorumCount: 2}
	ctxState := inode.NewContext(3)

	writeOp := func(ctx context.Context, i int) Reply {
		return Reply{Valid: true, OpRet: -1, Errno: syscall.ENOSPC}
	}

	res := Run(context.Background(), up, cfg, noop, writeOp, noop, ctxState, 1, 1, -1)
	require.Equal(t, -1, res.OpRet)
	require.Equal(t, syscall.ENOSPC, res.Errno)
	require.False(t, res.FailedSubvols[0])
	require.False(t, res.FailedSubvols[1])
	require.False(t, res.FailedSubvols[2])
}

func TestSymmetricErrorExcludesENOTCONN(t *testing.T) {
	t.Parallel()
	up := []bool{true, true}
	cfg := Config{QuorumCount: 1}
	ctxState := inode.NewContext(2)

	writeOp := func(ctx context.Context, i int) Reply {
		return Reply{Valid: true, OpRet: -1, Errno: syscall.ENOTCONN}
	}

	res := Run(context.Background(), up, cfg, noop, writeOp, noop, ctxState, 1, 1, -1)
	// Not symmetric (ENOTCONN excluded) -> both failed -> quorum (1 needed, 0 got) fails.
	require.True(t, res.FailedSubvols[0])
	require.True(t, res.FailedSubvols[1])
	require.Equal(t, -1, res.OpRet)
}

func TestConsistentIOGateFailsOnStaleGeneration(t *testing.T) {
	t.Parallel()
	up := []bool{true, true, true}
	cfg := Config{QuorumCount: 2, ConsistentIO: true}
	ctxState := inode.NewContext(3)

	res := Run(context.Background(), up, cfg, noop, noop, noop, ctxState, 5, 6, -1)
	require.Equal(t, -1, res.OpRet)
	require.Equal(t, syscall.ENOTCONN, res.Errno)
}

func TestInFlightSplitBrainMarksNeedRefresh(t *testing.T) {
	t.Parallel()
	up := []bool{true, true, true}
	cfg := Config{QuorumCount: 2}
	ctxState := inode.NewContext(3)
	ctxState.SetReadSubvol([]bool{true, true, true}, []bool{true, true, true}, 1, -1)

	writeOp := func(ctx context.Context, i int) Reply {
		if i == 0 {
			return Reply{Valid: true, OpRet: -1, Errno: syscall.EIO}
		}
		return Reply{Valid: true, OpRet: 5}
	}

	res := Run(context.Background(), up, cfg, noop, writeOp, noop, ctxState, 1, 1, 0)
	require.True(t, res.InFlightSB)
	require.True(t, ctxState.NeedRefresh(1))
}
