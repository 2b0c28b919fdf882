package panel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

type fakeJudge struct {
	id         string
	minTier    kernel.Tier
	reputation float64
	delay      time.Duration
	err        error
	costUSD    float64
}

func (f fakeJudge) ID() string           { return f.id }
func (f fakeJudge) MinTier() kernel.Tier { return f.minTier }
func (f fakeJudge) Reputation() float64  { return f.reputation }
func (f fakeJudge) Analyze(ctx context.Context, cell kernel.Cell, budgetUSD float64) (kernel.Vote, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return kernel.Vote{}, ctx.Err()
		}
	}
	if f.err != nil {
		return kernel.Vote{}, f.err
	}
	return kernel.NewVote(f.id, cell.CellID, 50, 0.5, false, "", 0, f.costUSD, ""), nil
}

func testCell() kernel.Cell {
	return kernel.NewCell(kernel.RealityCode, kernel.AnalysisJudge, kernel.TimePresent, 0, "content", "", 0.1, 0.1, 1.0, 1)
}

func TestRun_TimesOutSlowJudgeWithoutBlockingPanel(t *testing.T) {
	judges := []Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, reputation: 100},
		fakeJudge{id: "SLOW", minTier: kernel.TierReflex, reputation: 100, delay: 500 * time.Millisecond},
	}
	p := New(judges, 20*time.Millisecond)
	results := p.Run(context.Background(), testCell(), kernel.TierReflex, 0)

	require.Len(t, results, 2)
	var slow Result
	for _, r := range results {
		if r.JudgeID == "SLOW" {
			slow = r
		}
	}
	assert.Error(t, slow.Err)
}

func TestRun_ExcludesJudgesBelowMinTier(t *testing.T) {
	judges := []Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, reputation: 100},
		fakeJudge{id: "META_ONLY", minTier: kernel.TierMeta, reputation: 100},
	}
	p := New(judges, 0)
	results := p.Run(context.Background(), testCell(), kernel.TierReflex, 0)

	for _, r := range results {
		assert.NotEqual(t, "META_ONLY", r.JudgeID)
	}
}

func TestRun_WithTierTimeoutsOverridesFallbackPerTier(t *testing.T) {
	judges := []Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, reputation: 100, delay: 50 * time.Millisecond},
	}
	p := New(judges, time.Second).WithTierTimeouts(map[kernel.Tier]time.Duration{
		kernel.TierReflex: 5 * time.Millisecond,
	})
	results := p.Run(context.Background(), testCell(), kernel.TierReflex, 0)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err, "reflex's 5ms override should time out before the 1s fallback would")
}

func TestRun_DividesBudgetAcrossEligibleJudges(t *testing.T) {
	judges := []Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, reputation: 100, costUSD: 0.05},
		fakeJudge{id: "A", minTier: kernel.TierReflex, reputation: 100, costUSD: 0.05},
	}
	p := New(judges, 0)
	results := p.Run(context.Background(), testCell(), kernel.TierReflex, 0.10)

	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestRun_FlagsJudgeThatExceedsItsBudgetShare(t *testing.T) {
	judges := []Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, reputation: 100, costUSD: 0.01},
		fakeJudge{id: "OVER", minTier: kernel.TierReflex, reputation: 100, costUSD: 0.09},
	}
	p := New(judges, 0)
	results := p.Run(context.Background(), testCell(), kernel.TierReflex, 0.10)

	var over Result
	for _, r := range results {
		if r.JudgeID == "OVER" {
			over = r
		}
	}
	assert.ErrorIs(t, over.Err, ErrBudgetExceeded)
}

func TestSelectEligible_ReputationFloorFiltersLowTrust(t *testing.T) {
	judges := []Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, reputation: 100},
		fakeJudge{id: "TRUSTED", minTier: kernel.TierReflex, reputation: 90},
		fakeJudge{id: "UNTRUSTED", minTier: kernel.TierReflex, reputation: 10},
	}
	p := New(judges, 0)
	eligible := p.selectEligible(kernel.TierReflex)

	names := make(map[string]bool)
	for _, j := range eligible {
		names[j.ID()] = true
	}
	assert.True(t, names["CYNIC"])
	assert.True(t, names["TRUSTED"])
	assert.False(t, names["UNTRUSTED"])
}

func TestSelectEligible_KeepsMinActiveJudgesEvenIfLowReputation(t *testing.T) {
	judges := []Judge{
		fakeJudge{id: "A", minTier: kernel.TierReflex, reputation: 5},
		fakeJudge{id: "B", minTier: kernel.TierReflex, reputation: 5},
		fakeJudge{id: "C", minTier: kernel.TierReflex, reputation: 5},
	}
	p := New(judges, 0)
	eligible := p.selectEligible(kernel.TierReflex)
	assert.Len(t, eligible, MinActiveJudges)
}

func TestSelectEligible_CoordinatorNeverFiltered(t *testing.T) {
	judges := []Judge{
		fakeJudge{id: CoordinatorID, minTier: kernel.TierReflex, reputation: 0},
	}
	p := New(judges, 0)
	eligible := p.selectEligible(kernel.TierReflex)
	require.Len(t, eligible, 1)
	assert.Equal(t, CoordinatorID, eligible[0].ID())
}

func TestHeuristicJudge_HigherRiskLowersScore(t *testing.T) {
	j := NewHeuristicJudge()
	low := kernel.NewCell(kernel.RealityCode, kernel.AnalysisJudge, kernel.TimePresent, 0, "x", "", 0.0, 0.0, 1, 1)
	high := kernel.NewCell(kernel.RealityCode, kernel.AnalysisJudge, kernel.TimePresent, 0, "x", "", 0.9, 0.9, 1, 1)

	lv, err := j.Analyze(context.Background(), low, 0)
	require.NoError(t, err)
	hv, err := j.Analyze(context.Background(), high, 0)
	require.NoError(t, err)
	assert.Greater(t, lv.QScore, hv.QScore)
}

func TestGuardianJudge_VetoesDangerMarker(t *testing.T) {
	j := NewGuardianJudge()
	cell := kernel.NewCell(kernel.RealityCode, kernel.AnalysisAct, kernel.TimePresent, 0, "please rm -rf /data", "", 0.1, 0.1, 1, 1)

	v, err := j.Analyze(context.Background(), cell, 0)
	require.NoError(t, err)
	assert.True(t, v.Veto)
	assert.Equal(t, 0.0, v.QScore)
}

func TestGuardianJudge_NoVetoOnCleanContent(t *testing.T) {
	j := NewGuardianJudge()
	cell := kernel.NewCell(kernel.RealityCode, kernel.AnalysisAct, kernel.TimePresent, 0, "refactor the parser", "", 0.1, 0.1, 1, 1)

	v, err := j.Analyze(context.Background(), cell, 0)
	require.NoError(t, err)
	assert.False(t, v.Veto)
}
