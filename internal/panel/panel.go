// Package panel implements the judge panel: the set of concurrent
// Judges that analyze one Cell and each return a Vote, behind a plain
// Go interface (Analyze, MinTier, Reputation).
package panel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

// Judge analyzes a Cell and returns its opinion as a Vote. budgetUSD is
// this Judge's share of the cycle's total budget, already divided across
// the panel's active judges; implementations that incur real cost (an
// LLM call, an external API) must stay within it. Implementations must
// be safe for concurrent use: the panel runner calls Analyze from
// multiple goroutines, one per judge for each Cell, and runs for
// different Cells may overlap.
type Judge interface {
	ID() string
	Analyze(ctx context.Context, cell kernel.Cell, budgetUSD float64) (kernel.Vote, error)
	// MinTier reports the lowest Tier this Judge may run at; panel
	// composition narrows as tier rises.
	MinTier() kernel.Tier
	// Reputation is this Judge's current E-Score in [0,100], used by the
	// panel runner's reputation filter.
	Reputation() float64
}

// ErrBudgetExceeded is returned in Result.Err when a Judge's Vote.CostUSD
// exceeds its allotted per-judge share of the cycle budget; the vote is
// dropped from downstream consensus.
var ErrBudgetExceeded = errors.New("panel: judge exceeded its per-judge budget")

// tierRank orders tiers REFLEX < MICRO < MACRO < META so MinTier can be
// compared with a live cycle's tier.
var tierRank = map[kernel.Tier]int{
	kernel.TierReflex: 0,
	kernel.TierMicro:  1,
	kernel.TierMacro:  2,
	kernel.TierMeta:   3,
}

func tierAtLeast(t, min kernel.Tier) bool {
	return tierRank[t] >= tierRank[min]
}

// ReputationFloor is the minimum E-Score a Judge needs to be included in
// a panel run; judges below it are skipped unless doing so would leave
// fewer than MinActiveJudges voters.
const ReputationFloor = kernel.VerdictThresholdGrowl // 38.2

// MinActiveJudges is the minimum panel size a run keeps regardless of
// reputation filtering: F(4) = 3.
var MinActiveJudges = kernel.Fibonacci(4)

// CoordinatorID is never excluded by the reputation filter.
const CoordinatorID = "CYNIC"

// Result pairs a Judge's Vote with the time it took and any error.
type Result struct {
	JudgeID string
	Vote    kernel.Vote
	Err     error
	Elapsed time.Duration
}

// Panel runs a set of Judges concurrently against one Cell, bounded by
// per-judge timeout and cost. The timeout is looked up by tier, matching
// each tier's own soft-timeout budget rather than one shared duration.
type Panel struct {
	judges      []Judge
	tierTimeout map[kernel.Tier]time.Duration
	fallback    time.Duration
}

// New builds a Panel from the given Judges. perJudgeBudget bounds how
// long any single Judge.Analyze call may run before being treated as a
// failed (non-voting) judge, for any tier not covered by a WithTierTimeouts
// call.
func New(judges []Judge, perJudgeBudget time.Duration) *Panel {
	if perJudgeBudget <= 0 {
		perJudgeBudget = 2 * time.Second
	}
	return &Panel{judges: judges, fallback: perJudgeBudget, tierTimeout: map[kernel.Tier]time.Duration{}}
}

// WithTierTimeouts overrides the per-judge timeout for each tier present
// in timeouts; a tier absent from the map keeps using the fallback
// duration New was built with.
func (p *Panel) WithTierTimeouts(timeouts map[kernel.Tier]time.Duration) *Panel {
	for tier, d := range timeouts {
		if d > 0 {
			p.tierTimeout[tier] = d
		}
	}
	return p
}

func (p *Panel) timeoutFor(tier kernel.Tier) time.Duration {
	if d, ok := p.tierTimeout[tier]; ok {
		return d
	}
	return p.fallback
}

// Run selects the judges eligible for tier, applies the reputation
// filter, and runs them concurrently, returning one Result per judge
// that was invoked. budgetUSD is the cycle's total cost budget for this
// panel run; it is divided evenly across the eligible judges before
// dispatch (a budgetUSD <= 0 means unbounded, skipping
// enforcement). A judge whose Analyze call exceeds perJudgeBudget,
// returns an error, or whose Vote.CostUSD exceeds its per-judge share is
// reported with a non-nil Err and contributes no vote to downstream
// consensus.
func (p *Panel) Run(ctx context.Context, cell kernel.Cell, tier kernel.Tier, budgetUSD float64) []Result {
	eligible := p.selectEligible(tier)

	var perJudge float64
	if budgetUSD > 0 && len(eligible) > 0 {
		perJudge = budgetUSD / float64(len(eligible))
	}
	timeout := p.timeoutFor(tier)

	type indexed struct {
		idx int
		res Result
	}
	out := make([]Result, len(eligible))
	ch := make(chan indexed, len(eligible))

	for i, j := range eligible {
		i, j := i, j
		go func() {
			jctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			start := time.Now()
			vote, err := j.Analyze(jctx, cell, perJudge)
			if err == nil && perJudge > 0 && vote.CostUSD > perJudge {
				err = fmt.Errorf("%w: judge %s cost %.4f over allotted %.4f", ErrBudgetExceeded, j.ID(), vote.CostUSD, perJudge)
			}
			ch <- indexed{i, Result{JudgeID: j.ID(), Vote: vote, Err: err, Elapsed: time.Since(start)}}
		}()
	}

	for range eligible {
		r := <-ch
		out[r.idx] = r.res
	}
	return out
}

// selectEligible narrows the full judge roster to those whose MinTier is
// satisfied by tier, then applies the reputation floor, always keeping
// at least MinActiveJudges voters and never excluding CoordinatorID.
func (p *Panel) selectEligible(tier kernel.Tier) []Judge {
	var byTier []Judge
	for _, j := range p.judges {
		if tierAtLeast(tier, j.MinTier()) {
			byTier = append(byTier, j)
		}
	}

	var kept []Judge
	var filtered []Judge
	for _, j := range byTier {
		if j.ID() == CoordinatorID || j.Reputation() >= ReputationFloor {
			kept = append(kept, j)
		} else {
			filtered = append(filtered, j)
		}
	}

	for len(kept) < MinActiveJudges && len(filtered) > 0 {
		kept = append(kept, filtered[0])
		filtered = filtered[1:]
	}
	return kept
}
