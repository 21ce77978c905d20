package inode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadSubvolRoundTrip(t *testing.T) {
	t.Parallel()
	c := NewContext(3)

	data := []bool{true, true, false}
	meta := []bool{true, true, true}
	c.SetReadSubvol(data, meta, 7, -1)

	gotData, gen := c.ReadSubvolGet(Data)
	require.Equal(t, uint32(7), gen)
	require.Equal(t, data, gotData)

	gotMeta, _ := c.ReadSubvolGet(Metadata)
	require.Equal(t, meta, gotMeta)
}

func TestArbiterBitAlwaysZero(t *testing.T) {
	t.Parallel()
	c := NewContext(3)
	data := []bool{true, true, true}
	c.SetReadSubvol(data, []bool{true, true, true}, 1, 2)

	got, _ := c.ReadSubvolGet(Data)
	require.False(t, got[2])
}

func TestWriteSubvolClearedWhenLockCountZero(t *testing.T) {
	t.Parallel()
	c := NewContext(3)
	c.BeginTxn()
	c.WriteSubvolSet([]bool{true, true, true}, []bool{true, true, true}, 5)
	require.Equal(t, 1, c.LockCount())

	c.EndTxn()
	require.Equal(t, 0, c.LockCount())
	require.Equal(t, SubvolBitmap{}, c.writeSubvol)
}

func TestNeedRefreshOnStaleGeneration(t *testing.T) {
	t.Parallel()
	c := NewContext(3)
	c.SetReadSubvol([]bool{true, true, true}, []bool{true, true, true}, 5, -1)
	require.False(t, c.NeedRefresh(5))
	require.True(t, c.NeedRefresh(6))
}

func TestSplitBrainChoiceRoundTrip(t *testing.T) {
	t.Parallel()
	c := NewContext(3)
	require.Equal(t, -1, c.SplitBrainChoice())

	c.SetSplitBrainChoice(1)
	require.Equal(t, 1, c.SplitBrainChoice())

	c.ClearSplitBrainChoice()
	require.Equal(t, -1, c.SplitBrainChoice())
}
