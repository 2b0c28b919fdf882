package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

func TestUpdate_CreatesEntryOnFirstCall(t *testing.T) {
	q := New(nil, 0)
	e := q.Update("state", "action", 1.0)
	assert.Equal(t, 1, e.Visits)
	assert.Equal(t, 1, e.Wins)
	assert.Greater(t, e.QValue, 0.0)
}

func TestUpdate_TracksWinsAndLossesByPhiInvThreshold(t *testing.T) {
	q := New(nil, 0)
	win := q.Update("s", "a", kernel.PhiInv)
	assert.Equal(t, 1, win.Wins)
	loss := q.Update("s", "a", kernel.PhiInv-0.01)
	assert.Equal(t, 1, loss.Losses)
}

func TestUpdate_ConsolidatesAtThresholdAndLatches(t *testing.T) {
	q := New(nil, 0)
	var e kernel.QEntry
	for i := 0; i < kernel.EWCConsolidationThreshold; i++ {
		e = q.Update("s", "a", 0.5)
	}
	require.True(t, e.Consolidated)
	require.NotNil(t, e.EWCAnchor)

	// Reward drops sharply after consolidation; the latch must not reset.
	e2 := q.Update("s", "a", 0.0)
	assert.True(t, e2.Consolidated)
}

func TestUpdate_ClampsQValueIntoUnitRange(t *testing.T) {
	q := New(nil, 0)
	var e kernel.QEntry
	for i := 0; i < 50; i++ {
		e = q.Update("s", "a", 2.0) // out-of-range reward
	}
	assert.LessOrEqual(t, e.QValue, 1.0)
	assert.GreaterOrEqual(t, e.QValue, 0.0)
}

func TestLookup_UnknownEntry(t *testing.T) {
	q := New(nil, 0)
	_, ok := q.Lookup("missing", "action")
	assert.False(t, ok)
}

func TestConfidence_GrowsWithVisitsAndCapsAtPhiInv(t *testing.T) {
	q := New(nil, 0)
	assert.Equal(t, 0.0, q.Confidence("s", "a"))

	for i := 0; i < 5; i++ {
		q.Update("s", "a", 0.5)
	}
	low := q.Confidence("s", "a")

	for i := 0; i < 100; i++ {
		q.Update("s", "a", 0.5)
	}
	high := q.Confidence("s", "a")

	assert.Greater(t, high, low)
	assert.LessOrEqual(t, high, kernel.PhiInv)
}

func TestExploit_ReturnsHighestQValueAction(t *testing.T) {
	q := New(nil, 0)
	q.Update("s", "low", 0.1)
	q.Update("s", "high", 0.9)

	action, _, ok := q.Exploit("s")
	require.True(t, ok)
	assert.Equal(t, "high", action)
}

func TestExploit_UnknownStateHasNoAction(t *testing.T) {
	q := New(nil, 0)
	_, _, ok := q.Exploit("unknown")
	assert.False(t, ok)
}

func TestExplore_EmptyActionsIsNotOk(t *testing.T) {
	q := New(nil, 0)
	_, ok := q.Explore("s", nil, func() float64 { return 1 })
	assert.False(t, ok)
}

func TestExplore_PicksAmongCandidates(t *testing.T) {
	q := New(nil, 0)
	action, ok := q.Explore("s", []string{"a", "b", "c"}, func() float64 { return 1 })
	require.True(t, ok)
	assert.Contains(t, []string{"a", "b", "c"}, action)
}

func TestSize_CountsDistinctEntries(t *testing.T) {
	q := New(nil, 0)
	q.Update("s1", "a", 0.5)
	q.Update("s1", "b", 0.5)
	q.Update("s2", "a", 0.5)
	assert.Equal(t, 3, q.Size())
}
