package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynic-kernel/kernel/internal/breaker"
	"github.com/cynic-kernel/kernel/internal/bus"
	"github.com/cynic-kernel/kernel/internal/kernel"
	"github.com/cynic-kernel/kernel/internal/lod"
	"github.com/cynic-kernel/kernel/internal/panel"
)

type fakeJudge struct {
	id      string
	minTier kernel.Tier
	score   float64
	veto    bool
}

func (f fakeJudge) ID() string           { return f.id }
func (f fakeJudge) MinTier() kernel.Tier { return f.minTier }
func (f fakeJudge) Reputation() float64  { return 100 }
func (f fakeJudge) Analyze(ctx context.Context, cell kernel.Cell, budgetUSD float64) (kernel.Vote, error) {
	return kernel.NewVote(f.id, cell.CellID, f.score, 0.5, f.veto, "", 0, 0, ""), nil
}

func buildOrchestrator(judges []panel.Judge) *Orchestrator {
	p := panel.New(judges, 100*time.Millisecond)
	lodCtrl := lod.New(nil, 1)
	breakers := breaker.NewKernelBreakers(nil, 0, 0)
	b := bus.New(nil, 8)
	return New(p, lodCtrl, breakers, b, nil, nil, nil)
}

func testCell() kernel.Cell {
	return kernel.NewCell(kernel.RealityCode, kernel.AnalysisJudge, kernel.TimePresent, 0, "content", "", 0.1, 0.1, 1.0, 0)
}

func TestRun_ReflexWithEnoughVotesSucceeds(t *testing.T) {
	judges := []panel.Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, score: 70},
		fakeJudge{id: "A", minTier: kernel.TierReflex, score: 70},
		fakeJudge{id: "B", minTier: kernel.TierReflex, score: 70},
	}
	o := buildOrchestrator(judges)

	j, err := o.Run(context.Background(), testCell(), kernel.TierReflex, 1.0, BudgetState{}, SignalInputs{})
	require.NoError(t, err)
	assert.InDelta(t, 70, j.QScore, 1)
	assert.Equal(t, kernel.TierReflex, j.LevelUsed)
}

func TestRun_ReflexFailsBelowThreeVotes(t *testing.T) {
	judges := []panel.Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, score: 70},
	}
	o := buildOrchestrator(judges)

	_, err := o.Run(context.Background(), testCell(), kernel.TierReflex, 1.0, BudgetState{}, SignalInputs{})
	assert.Error(t, err)
}

func TestRun_VetoProducesBarkVerdict(t *testing.T) {
	judges := []panel.Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, score: 70},
		fakeJudge{id: "GUARDIAN", minTier: kernel.TierReflex, score: 0, veto: true},
		fakeJudge{id: "C", minTier: kernel.TierReflex, score: 70},
	}
	o := buildOrchestrator(judges)

	j, err := o.Run(context.Background(), testCell(), kernel.TierReflex, 1.0, BudgetState{}, SignalInputs{})
	require.NoError(t, err)
	assert.Equal(t, kernel.VerdictBark, j.Verdict)
	assert.Equal(t, 0.0, j.QScore)
}

func TestRun_BudgetExhaustedForcesReflex(t *testing.T) {
	judges := []panel.Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, score: 70},
		fakeJudge{id: "A", minTier: kernel.TierReflex, score: 70},
		fakeJudge{id: "B", minTier: kernel.TierReflex, score: 70},
	}
	o := buildOrchestrator(judges)

	j, err := o.Run(context.Background(), testCell(), "", 1.0, BudgetState{Exhausted: true}, SignalInputs{})
	require.NoError(t, err)
	assert.Equal(t, kernel.TierReflex, j.LevelUsed)
}

func TestRun_EmitsJudgmentCreatedOnBus(t *testing.T) {
	judges := []panel.Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, score: 70},
		fakeJudge{id: "A", minTier: kernel.TierReflex, score: 70},
		fakeJudge{id: "B", minTier: kernel.TierReflex, score: 70},
	}
	p := panel.New(judges, 100*time.Millisecond)
	lodCtrl := lod.New(nil, 1)
	breakers := breaker.NewKernelBreakers(nil, 0, 0)
	b := bus.New(nil, 8)

	var fired bool
	b.Subscribe(bus.JudgmentCreated, func(bus.Event) error { fired = true; return nil })

	o := New(p, lodCtrl, breakers, b, nil, nil, nil)
	_, err := o.Run(context.Background(), testCell(), kernel.TierReflex, 1.0, BudgetState{}, SignalInputs{})
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestRun_OpenBreakerFastFails(t *testing.T) {
	judges := []panel.Judge{
		fakeJudge{id: "CYNIC", minTier: kernel.TierReflex, score: 70},
		fakeJudge{id: "A", minTier: kernel.TierReflex, score: 70},
		fakeJudge{id: "B", minTier: kernel.TierReflex, score: 70},
	}
	p := panel.New(judges, 100*time.Millisecond)
	lodCtrl := lod.New(nil, 1)
	breakers := breaker.NewKernelBreakers(nil, 0, 0)
	breakers.Reflex = breaker.New(breaker.Config{
		Name:        "reflex",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(breaker.Counts) bool { return true },
	})
	_ = breakers.Reflex.ExecuteContext(context.Background(), func(context.Context) error { return assert.AnError })

	o := New(p, lodCtrl, breakers, bus.New(nil, 8), nil, nil, nil)
	_, err := o.Run(context.Background(), testCell(), kernel.TierReflex, 1.0, BudgetState{}, SignalInputs{})
	assert.ErrorIs(t, err, breaker.ErrOpen)
}
