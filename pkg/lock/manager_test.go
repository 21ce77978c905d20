package lock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockGrantsNonConflicting(t *testing.T) {
	t.Parallel()
	m := NewManager()

	res, err := m.Lock("/f", Owner{ClientID: "c1"}, 0, 100, WriteLock)
	require.NoError(t, err)
	require.True(t, res.Success)

	res, err = m.Lock("/f", Owner{ClientID: "c2"}, 200, 100, WriteLock)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestLockConflict(t *testing.T) {
	t.Parallel()
	m := NewManager()

	_, err := m.Lock("/f", Owner{ClientID: "c1"}, 0, 100, WriteLock)
	require.NoError(t, err)

	res, err := m.Lock("/f", Owner{ClientID: "c2"}, 50, 50, ReadLock)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.NotNil(t, res.Conflict)
	require.Equal(t, "c1", res.Conflict.Lock.Owner.ClientID)
}

func TestLockSameOwnerNeverConflicts(t *testing.T) {
	t.Parallel()
	m := NewManager()

	_, err := m.Lock("/f", Owner{ClientID: "c1"}, 0, 100, WriteLock)
	require.NoError(t, err)

	res, err := m.Lock("/f", Owner{ClientID: "c1"}, 50, 50, WriteLock)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestTwoReadersOverlapNoConflict(t *testing.T) {
	t.Parallel()
	m := NewManager()

	_, err := m.Lock("/f", Owner{ClientID: "c1"}, 0, 100, ReadLock)
	require.NoError(t, err)

	res, err := m.Lock("/f", Owner{ClientID: "c2"}, 50, 50, ReadLock)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestUnlockIsIdempotent(t *testing.T) {
	t.Parallel()
	m := NewManager()

	err := m.Unlock("/f", Owner{ClientID: "c1"}, 0, 100)
	require.NoError(t, err)

	_, err = m.Lock("/f", Owner{ClientID: "c1"}, 0, 100, WriteLock)
	require.NoError(t, err)
	err = m.Unlock("/f", Owner{ClientID: "c1"}, 0, 100)
	require.NoError(t, err)
	err = m.Unlock("/f", Owner{ClientID: "c1"}, 0, 100)
	require.NoError(t, err)
	require.Empty(t, m.ListLocks("/f"))
}

func TestSplitLockInterior(t *testing.T) {
	t.Parallel()
	l := &FileLock{Offset: 0, Length: 100}

	parts := SplitLock(l, 40, 20)
	require.Len(t, parts, 2)
	require.Equal(t, uint64(0), parts[0].Offset)
	require.Equal(t, uint64(40), parts[0].Length)
	require.Equal(t, uint64(60), parts[1].Offset)
	require.Equal(t, uint64(40), parts[1].Length)
}

func TestSplitLockFullyCovered(t *testing.T) {
	t.Parallel()
	l := &FileLock{Offset: 10, Length: 10}

	parts := SplitLock(l, 0, 100)
	require.Empty(t, parts)
}

func TestSplitLockUnbounded(t *testing.T) {
	t.Parallel()
	l := &FileLock{Offset: 0, Length: Unbounded}

	parts := SplitLock(l, 0, 50)
	require.Len(t, parts, 1)
	require.Equal(t, uint64(50), parts[0].Offset)
	require.Equal(t, Unbounded, parts[0].Length)
}

func TestMergeAdjacentSameOwner(t *testing.T) {
	t.Parallel()
	owner := Owner{ClientID: "c1"}
	locks := []*FileLock{
		{Owner: owner, Offset: 0, Length: 50, Type: WriteLock},
		{Owner: owner, Offset: 50, Length: 50, Type: WriteLock},
	}

	merged := MergeLocks(locks)
	require.Len(t, merged, 1)
	require.Equal(t, uint64(0), merged[0].Offset)
	require.Equal(t, uint64(100), merged[0].Length)
}

func TestMergeDifferentOwnersNotMerged(t *testing.T) {
	t.Parallel()
	locks := []*FileLock{
		{Owner: Owner{ClientID: "c1"}, Offset: 0, Length: 50, Type: WriteLock},
		{Owner: Owner{ClientID: "c2"}, Offset: 50, Length: 50, Type: WriteLock},
	}

	merged := MergeLocks(locks)
	require.Len(t, merged, 2)
}

func TestRangesOverlap(t *testing.T) {
	t.Parallel()
	require.True(t, RangesOverlap(0, 100, 50, 50))
	require.False(t, RangesOverlap(0, 100, 100, 50))
	require.True(t, RangesOverlap(0, Unbounded, 1000, 1))
}

func TestGetLockReportsConflictOwner(t *testing.T) {
	t.Parallel()
	m := NewManager()
	_, err := m.Lock("/f", Owner{ClientID: "c1"}, 0, 100, WriteLock)
	require.NoError(t, err)

	found := m.GetLock("/f", Owner{ClientID: "c2"}, 0, 100, WriteLock)
	require.NotNil(t, found)
	require.Equal(t, "c1", found.Owner.ClientID)

	free := m.GetLock("/f", Owner{ClientID: "c2"}, 1000, 100, WriteLock)
	require.Nil(t, free)
}

func TestRemoveOwnerLocks(t *testing.T) {
	t.Parallel()
	m := NewManager()
	_, err := m.Lock("/f", Owner{ClientID: "c1"}, 0, 100, WriteLock)
	require.NoError(t, err)
	_, err = m.Lock("/g", Owner{ClientID: "c1"}, 0, 100, WriteLock)
	require.NoError(t, err)

	m.RemoveOwnerLocks(Owner{ClientID: "c1"})
	require.Empty(t, m.ListLocks("/f"))
	require.Empty(t, m.ListLocks("/g"))
}
