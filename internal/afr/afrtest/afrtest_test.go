package afrtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewHealthySetAllUp(t *testing.T) {
	t.Parallel()
	rs, mems := NewHealthySet(3)
	require.NotNil(t, rs)
	require.Len(t, mems, 3)

	children, _, _ := rs.Status()
	require.Len(t, children, 3)
	for _, c := range children {
		require.True(t, c.Up)
	}
}

func TestManualClockAdvances(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	require.Equal(t, start, c.Now())

	later := c.Advance(time.Hour)
	require.Equal(t, start.Add(time.Hour), later)
	require.Equal(t, later, c.Now())
}
