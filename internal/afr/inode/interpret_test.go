package inode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterpretHealthyAllValid(t *testing.T) {
	t.Parallel()
	replies := []Reply{
		{Valid: true, IsRegularFile: true, Size: 5, Pending: zeroPending(3)},
		{Valid: true, IsRegularFile: true, Size: 5, Pending: zeroPending(3)},
		{Valid: true, IsRegularFile: true, Size: 5, Pending: zeroPending(3)},
	}
	res := Interpret(replies, -1)
	require.False(t, res.NeedsHeal)
	require.Equal(t, []bool{false, false, false}, res.DataAccused)
	require.Equal(t, []bool{false, false, false}, res.MetaAccused)
}

func TestInterpretFailedReplyAccusesBoth(t *testing.T) {
	t.Parallel()
	replies := []Reply{
		{Valid: true, IsRegularFile: true, Size: 5, Pending: zeroPending(3)},
		{Valid: false, Failed: true},
		{Valid: true, IsRegularFile: true, Size: 5, Pending: zeroPending(3)},
	}
	res := Interpret(replies, -1)
	require.True(t, res.NeedsHeal)
	require.True(t, res.DataAccused[1])
	require.True(t, res.MetaAccused[1])
}

func TestInterpretArbiterAlwaysAccusedForData(t *testing.T) {
	t.Parallel()
	replies := []Reply{
		{Valid: true, IsRegularFile: true, Size: 5, Pending: zeroPending(3)},
		{Valid: true, IsRegularFile: true, Size: 5, Pending: zeroPending(3)},
		{Valid: true, IsRegularFile: false, Pending: zeroPending(3)},
	}
	res := Interpret(replies, 2)
	require.True(t, res.DataAccused[2])
}

func TestInterpretPendingCountersCrossAccuse(t *testing.T) {
	t.Parallel()
	// Replica 0 reports replica 1 owes it a data pending op.
	p0 := zeroPending(2)
	p0[Data][1] = 1
	p1 := zeroPending(2)
	replies := []Reply{
		{Valid: true, IsRegularFile: true, Size: 5, Pending: p0},
		{Valid: true, IsRegularFile: true, Size: 5, Pending: p1},
	}
	res := Interpret(replies, -1)
	require.True(t, res.DataAccused[1])
	require.False(t, res.DataAccused[0])
}

func TestInterpretSizeHeuristicAccusesSmaller(t *testing.T) {
	t.Parallel()
	replies := []Reply{
		{Valid: true, IsRegularFile: true, Size: 100, Pending: zeroPending(2)},
		{Valid: true, IsRegularFile: true, Size: 50, Pending: zeroPending(2)},
	}
	res := Interpret(replies, -1)
	require.True(t, res.DataAccused[1])
	require.False(t, res.DataAccused[0])
}

func TestGetReadableSplitBrainRegularFile(t *testing.T) {
	t.Parallel()
	// Scenario C: data split-brain (mutual accusation), metadata fine.
	dataReadable := []bool{false, false}
	metaReadable := []bool{true, true}

	_, err := GetReadable(dataReadable, metaReadable, false)
	require.Error(t, err)
	require.Equal(t, EIOFromSplitBrain(err).Error(), "input/output error")
}

func TestGetReadableDirectoryOnlyNeedsMetadata(t *testing.T) {
	t.Parallel()
	dataReadable := []bool{false, false}
	metaReadable := []bool{true, false}

	out, err := GetReadable(dataReadable, metaReadable, true)
	require.NoError(t, err)
	require.Equal(t, metaReadable, out)
}

func zeroPending(n int) [][]uint32 {
	p := make([][]uint32, 3)
	for i := range p {
		p[i] = make([]uint32, n)
	}
	return p
}
