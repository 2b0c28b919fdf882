// Package orchestrator implements the kernel's tier orchestrator: the
// entry point that runs a Cell through REFLEX, MICRO, MACRO, or META and
// returns a Judgment.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cynic-kernel/kernel/internal/breaker"
	"github.com/cynic-kernel/kernel/internal/bus"
	"github.com/cynic-kernel/kernel/internal/consensus"
	"github.com/cynic-kernel/kernel/internal/kernel"
	"github.com/cynic-kernel/kernel/internal/lod"
	"github.com/cynic-kernel/kernel/internal/panel"
)

// MinBudgetToEscalate is the minimum remaining budget (USD) required to
// re-enter MICRO's failed consensus as MACRO.
const MinBudgetToEscalate = 0.0001

// AxiomMonitor reports how many of the kernel's emergent-axiom counters
// are currently active, feeding the φ^(active-2) budget multiplier.
// Nil is a valid, always-neutral AxiomMonitor.
type AxiomMonitor interface {
	ActiveCount() int
}

// BudgetState reports session-level budget flags the level-selection
// rule consults.
type BudgetState struct {
	Exhausted bool
	Stressed  bool
}

// SignalInputs is the blended-signal input to level-selection rule 4.
type SignalInputs struct {
	AxiomMaturity   float64
	Reputation      float64
	OracleConfidence float64
	AllAxiomsActive bool
}

// PipelineError is a typed Pipeline-kind error surfaced as
// JUDGMENT_FAILED.
type PipelineError struct {
	CellID string
	Reason string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("orchestrator: pipeline failed for cell %s: %s", e.CellID, e.Reason)
}

// ErrCircuitOpen wraps breaker.ErrOpen for pipeline-entry fast-fail.
var ErrCircuitOpen = breaker.ErrOpen

// ProbeCell is one canonical META self-probe input with its expected
// q_score range.
type ProbeCell struct {
	Name  string
	Cell  kernel.Cell
	MinQ  float64
	MaxQ  float64
}

// ProbeResult is one probe's outcome.
type ProbeResult struct {
	Name        string
	QScore      float64
	Verdict     kernel.Verdict
	ExpectedMin float64
	ExpectedMax float64
	Passed      bool
	DurationMs  float64
	Error       string
}

// EvolveSummary is one META self-probe cycle's aggregate result.
type EvolveSummary struct {
	Timestamp  time.Time
	PassRate   float64
	PassCount  int
	Total      int
	Regression bool
	Results    []ProbeResult
}

// evolveHistoryCap is F(8) = 21.
const evolveHistoryCap = 21

// Orchestrator runs Cells through the four cognitive tiers.
type Orchestrator struct {
	panel    *panel.Panel
	lod      *lod.Controller
	breakers *breaker.KernelBreakers
	bus      *bus.Bus
	axioms   AxiomMonitor
	logger   *slog.Logger

	mu             sync.Mutex
	judgmentCount  int
	evolveHistory  []EvolveSummary
	probeCells     []ProbeCell
}

// New constructs an Orchestrator. axioms may be nil (neutral multiplier).
func New(p *panel.Panel, lodCtrl *lod.Controller, breakers *breaker.KernelBreakers, b *bus.Bus, axioms AxiomMonitor, logger *slog.Logger, probes []ProbeCell) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		panel:      p,
		lod:        lodCtrl,
		breakers:   breakers,
		bus:        b,
		axioms:     axioms,
		logger:     logger,
		probeCells: probes,
	}
}

// Run routes cell through the selected tier's cycle and returns the
// resulting Judgment. level, when non-empty, is honored (after LOD
// capping); an empty Tier triggers auto-selection.
func (o *Orchestrator) Run(ctx context.Context, cell kernel.Cell, level kernel.Tier, budgetUSD float64, budget BudgetState, signals SignalInputs) (kernel.Judgment, error) {
	effectiveBudget := budgetUSD
	if effectiveBudget == 0 {
		effectiveBudget = cell.BudgetUSD
	}
	effectiveBudget *= o.axiomBudgetMultiplier()

	if level == "" {
		level = o.selectLevel(cell, effectiveBudget, budget, signals)
	}
	if o.lod != nil {
		level = o.lod.Cap(level)
	}

	br := o.breakerFor(level)
	if br != nil {
		if err := br.Allow(); err != nil {
			o.emitFailed(cell, err.Error(), br)
			return kernel.Judgment{}, err
		}
	}

	if o.bus != nil {
		o.bus.Publish(bus.Event{
			Type: bus.JudgmentRequested,
			Payload: bus.JudgmentRequestedPayload{CellID: cell.CellID, Reality: string(cell.Reality), Level: string(level)},
		})
	}

	start := time.Now()
	var judgment kernel.Judgment
	var err error
	switch level {
	case kernel.TierReflex:
		judgment, err = o.cycleReflex(ctx, cell, effectiveBudget, start)
	case kernel.TierMicro:
		judgment, err = o.cycleMicro(ctx, cell, effectiveBudget, start)
	default: // MACRO and META both run the full cycle; META additionally probes
		judgment, err = o.cycleMacro(ctx, cell, effectiveBudget, start)
	}

	if br != nil {
		if err != nil {
			_ = br.ExecuteContext(ctx, func(context.Context) error { return err })
		} else {
			_ = br.ExecuteContext(ctx, func(context.Context) error { return nil })
		}
	}

	if err != nil {
		o.emitFailed(cell, err.Error(), br)
		return kernel.Judgment{}, err
	}

	o.mu.Lock()
	o.judgmentCount++
	o.mu.Unlock()

	o.emitCreated(judgment)
	o.emitLearning(judgment)

	return judgment, nil
}

func (o *Orchestrator) breakerFor(level kernel.Tier) *breaker.Breaker {
	if o.breakers == nil {
		return nil
	}
	switch level {
	case kernel.TierReflex:
		return o.breakers.Reflex
	case kernel.TierMicro:
		return o.breakers.Micro
	case kernel.TierMacro:
		return o.breakers.Macro
	default:
		return o.breakers.Meta
	}
}

func (o *Orchestrator) emitFailed(cell kernel.Cell, reason string, br *breaker.Breaker) {
	if o.bus == nil {
		return
	}
	payload := bus.JudgmentFailedPayload{CellID: cell.CellID, Error: reason}
	if br != nil {
		payload.CircuitState = br.State().String()
		payload.FailureCount = int(br.Counts().ConsecutiveFailures)
	}
	o.bus.Publish(bus.Event{Type: bus.JudgmentFailed, Payload: payload})
}

func (o *Orchestrator) emitCreated(j kernel.Judgment) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(bus.Event{
		Type: bus.JudgmentCreated,
		Payload: bus.JudgmentCreatedPayload{
			JudgmentID:       j.JudgmentID,
			CellID:           j.CellID,
			StateKey:         j.StateKey,
			Reality:          string(j.Reality),
			Verdict:          string(j.Verdict),
			QScore:           j.QScore,
			Confidence:       j.Confidence,
			ResidualVariance: j.ResidualVariance,
			DogVotes:         j.DogVotes,
			LevelUsed:        string(j.LevelUsed),
		},
	})
}

// emitLearning publishes LEARNING_EVENT for every completed cycle,
// regardless of tier.
func (o *Orchestrator) emitLearning(j kernel.Judgment) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(bus.Event{
		Type: bus.LearningEvent,
		Payload: bus.LearningEventPayload{
			StateKey:   j.StateKey,
			Action:     string(j.Verdict),
			Reward:     j.QScore / kernel.MaxQScore,
			JudgmentID: j.JudgmentID,
			LoopName:   "orchestrator",
		},
	})
}

func (o *Orchestrator) axiomBudgetMultiplier() float64 {
	if o.axioms == nil {
		return 1.0
	}
	active := o.axioms.ActiveCount()
	return math.Pow(kernel.Phi, float64(active-2))
}

// selectLevel implements the five-rule tier selection order.
func (o *Orchestrator) selectLevel(cell kernel.Cell, budgetUSD float64, budget BudgetState, signals SignalInputs) kernel.Tier {
	if o.lod != nil {
		switch o.lod.Current() {
		case lod.Emergency, lod.Minimal:
			return kernel.TierReflex
		case lod.Reduced:
			return kernel.TierMicro
		}
	}

	if budget.Exhausted {
		return kernel.TierReflex
	}
	if budget.Stressed {
		return kernel.TierMicro
	}

	if signals.AxiomMaturity == 0 && signals.Reputation == 0 && signals.OracleConfidence == 0 {
		// No oracle/reputation signal supplied: fall back to the cell's
		// own consciousness hint.
		switch {
		case cell.Consciousness <= 1:
			return kernel.TierReflex
		case cell.Consciousness <= 3:
			return kernel.TierMicro
		default:
			return kernel.TierMacro
		}
	}

	blended := 0.4*signals.AxiomMaturity + 0.3*signals.Reputation + 0.3*signals.OracleConfidence
	switch {
	case blended < kernel.PhiInvSq:
		return kernel.TierReflex
	case blended < kernel.PhiInv:
		return kernel.TierMicro
	case blended < 0.82:
		return kernel.TierMacro
	default:
		if signals.AllAxiomsActive {
			return kernel.TierMeta
		}
		return kernel.TierMacro
	}
}

// cycleReflex runs non-LLM judges only, averages the surviving votes'
// q_scores, and caps confidence at φ⁻².
func (o *Orchestrator) cycleReflex(ctx context.Context, cell kernel.Cell, budgetUSD float64, start time.Time) (kernel.Judgment, error) {
	results := o.panel.Run(ctx, cell, kernel.TierReflex, budgetUSD)
	votes := survivingVotes(results)

	if len(votes) < 3 {
		return kernel.Judgment{}, &PipelineError{CellID: cell.CellID, Reason: "fewer than 3 surviving votes at REFLEX"}
	}

	avgQ := 0.0
	for _, v := range votes {
		avgQ += v.QScore
	}
	avgQ /= float64(len(votes))

	dogVeto := false
	for _, v := range votes {
		if v.Veto {
			dogVeto = true
			break
		}
	}
	veto := dogVeto || cell.IsHardVeto()

	finalQ := 0.0
	if !veto {
		finalQ = kernel.PhiBoundScore(avgQ)
	}

	confidence := kernel.PhiInvSq
	if confidence > kernel.MaxConfidence {
		confidence = kernel.MaxConfidence
	}

	dogVotes := make(map[string]float64, len(votes))
	totalCost := 0.0
	for _, v := range votes {
		dogVotes[v.JudgeID] = v.QScore
		totalCost += v.CostUSD
	}

	return kernel.NewJudgment(cell, finalQ, confidence, len(votes) >= 3, len(votes), 3, 0, nil, dogVotes, totalCost, 0, kernel.TierReflex, float64(time.Since(start).Milliseconds())), nil
}

// cycleMicro runs the full panel at reduced (φ⁻²-fraction) budget,
// reaches PBFT consensus, and escalates to MACRO on consensus failure
// when remaining budget allows it.
func (o *Orchestrator) cycleMicro(ctx context.Context, cell kernel.Cell, budgetUSD float64, start time.Time) (kernel.Judgment, error) {
	microBudget := budgetUSD * kernel.PhiInvSq
	results := o.panel.Run(ctx, cell, kernel.TierMicro, microBudget)
	votes := survivingVotes(results)
	if len(votes) < 3 {
		return kernel.Judgment{}, &PipelineError{CellID: cell.CellID, Reason: "fewer than 3 surviving votes at MICRO"}
	}

	fused := consensus.Fuse(votes)

	if !fused.Reached && !fused.Veto {
		remaining := budgetUSD - microBudget
		if remaining > MinBudgetToEscalate {
			o.logger.Info("escalating MICRO to MACRO on consensus failure", "cell_id", cell.CellID)
			return o.cycleMacro(ctx, cell, remaining, start)
		}
		if o.bus != nil {
			o.bus.Publish(bus.Event{
				Type: bus.ConsensusFailed,
				Payload: bus.ConsensusPayload{Votes: fused.Votes, Quorum: fused.Quorum},
			})
		}
	} else if o.bus != nil {
		o.bus.Publish(bus.Event{
			Type: bus.ConsensusReached,
			Payload: bus.ConsensusPayload{Votes: fused.Votes, Quorum: fused.Quorum, ResidualVariance: consensus.ResidualVariance(fused.Variance)},
		})
	}

	confidence := fused.Confidence
	if confidence > kernel.PhiInv {
		confidence = kernel.PhiInv
	}

	dogVotes := make(map[string]float64, len(votes))
	totalCost := 0.0
	for _, v := range votes {
		dogVotes[v.JudgeID] = v.QScore
		totalCost += v.CostUSD
	}

	q := fused.QScore
	if fused.Veto {
		q = 0
	}

	return kernel.NewJudgment(cell, q, confidence, fused.Reached, fused.Votes, fused.Quorum, consensus.ResidualVariance(fused.Variance), nil, dogVotes, totalCost, 0, kernel.TierMicro, float64(time.Since(start).Milliseconds())), nil
}

// cycleMacro runs the canonical full 7-step cycle: PERCEIVE, JUDGE,
// DECIDE, ACT (left to the caller via DECISION_MADE/guardrail chain),
// LEARN, ACCOUNT, EMERGE.
func (o *Orchestrator) cycleMacro(ctx context.Context, cell kernel.Cell, budgetUSD float64, start time.Time) (kernel.Judgment, error) {
	if o.bus != nil {
		o.bus.Publish(bus.Event{
			Type:    bus.PerceptionReceived,
			Payload: bus.PerceptionReceivedPayload{CellID: cell.CellID, Reality: string(cell.Reality)},
		})
	}

	results := o.panel.Run(ctx, cell, kernel.TierMacro, budgetUSD)
	votes := survivingVotes(results)
	if len(votes) < 3 {
		return kernel.Judgment{}, &PipelineError{CellID: cell.CellID, Reason: "fewer than 3 surviving votes at MACRO"}
	}

	fused := consensus.Fuse(votes)

	if fused.Reached && !fused.Veto {
		if o.bus != nil {
			o.bus.Publish(bus.Event{
				Type:    bus.ConsensusReached,
				Payload: bus.ConsensusPayload{Votes: fused.Votes, Quorum: fused.Quorum, ResidualVariance: consensus.ResidualVariance(fused.Variance)},
			})
		}
	} else if o.bus != nil {
		o.bus.Publish(bus.Event{
			Type:    bus.ConsensusFailed,
			Payload: bus.ConsensusPayload{Votes: fused.Votes, Quorum: fused.Quorum},
		})
	}

	confidence := fused.Confidence
	if confidence > kernel.PhiInv {
		confidence = kernel.PhiInv
	}

	q := fused.QScore
	if fused.Veto {
		q = 0
	}

	dogVotes := make(map[string]float64, len(votes))
	totalCost := 0.0
	for _, v := range votes {
		dogVotes[v.JudgeID] = v.QScore
		totalCost += v.CostUSD
	}
	residualVariance := consensus.ResidualVariance(fused.Variance)

	j := kernel.NewJudgment(cell, q, confidence, fused.Reached, fused.Votes, fused.Quorum, residualVariance, nil, dogVotes, totalCost, 0, kernel.TierMacro, float64(time.Since(start).Milliseconds()))

	if o.bus != nil {
		o.bus.Publish(bus.Event{
			Type: bus.DecisionMade,
			Payload: bus.DecisionMadePayload{
				Verdict:    string(j.Verdict),
				Reality:    string(j.Reality),
				StateKey:   j.StateKey,
				QValue:     j.QScore / kernel.MaxQScore,
				JudgmentID: j.JudgmentID,
			},
		})
		o.bus.Publish(bus.Event{
			Type:    bus.CostAccounted,
			Payload: bus.CostAccountedPayload{JudgmentID: j.JudgmentID, CostUSD: totalCost},
		})
	}

	return j, nil
}

func survivingVotes(results []panel.Result) []kernel.Vote {
	var votes []kernel.Vote
	for _, r := range results {
		if r.Err == nil {
			votes = append(votes, r.Vote)
		}
	}
	return votes
}

// Evolve runs the fixed probe-cell set at REFLEX and records pass/fail
// against each probe's expected range, detecting regression versus the
// previous run.
func (o *Orchestrator) Evolve(ctx context.Context) EvolveSummary {
	var results []ProbeResult
	for _, probe := range o.probeCells {
		start := time.Now()
		j, err := o.Run(ctx, probe.Cell, kernel.TierReflex, probe.Cell.BudgetUSD, BudgetState{}, SignalInputs{})
		elapsed := float64(time.Since(start).Milliseconds())
		if err != nil {
			results = append(results, ProbeResult{
				Name: probe.Name, Verdict: kernel.VerdictBark,
				ExpectedMin: probe.MinQ, ExpectedMax: probe.MaxQ,
				Passed: false, DurationMs: elapsed, Error: err.Error(),
			})
			continue
		}
		passed := j.QScore >= probe.MinQ && j.QScore <= probe.MaxQ
		results = append(results, ProbeResult{
			Name: probe.Name, QScore: j.QScore, Verdict: j.Verdict,
			ExpectedMin: probe.MinQ, ExpectedMax: probe.MaxQ,
			Passed: passed, DurationMs: elapsed,
		})
	}

	passCount := 0
	for _, r := range results {
		if r.Passed {
			passCount++
		}
	}
	passRate := 0.0
	if len(results) > 0 {
		passRate = float64(passCount) / float64(len(results))
	}

	o.mu.Lock()
	regression := false
	if len(o.evolveHistory) > 0 {
		prevRate := o.evolveHistory[len(o.evolveHistory)-1].PassRate
		regression = passRate < prevRate-0.20
	}
	summary := EvolveSummary{
		Timestamp:  time.Now(),
		PassRate:   passRate,
		PassCount:  passCount,
		Total:      len(results),
		Regression: regression,
		Results:    results,
	}
	o.evolveHistory = append(o.evolveHistory, summary)
	if len(o.evolveHistory) > evolveHistoryCap {
		o.evolveHistory = o.evolveHistory[len(o.evolveHistory)-evolveHistoryCap:]
	}
	o.mu.Unlock()

	if o.bus != nil {
		o.bus.Publish(bus.Event{
			Type:    bus.MetaCycle,
			Payload: bus.MetaCyclePayload{PassRate: passRate, Regression: regression, Results: results},
		})
	}

	return summary
}

// Stats reports cumulative orchestrator counters.
type Stats struct {
	JudgmentsTotal       int
	EvolveCycles         int
	LastEvolvePassRate   float64
	LastEvolveRegression bool
}

func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := Stats{JudgmentsTotal: o.judgmentCount, EvolveCycles: len(o.evolveHistory)}
	if len(o.evolveHistory) > 0 {
		last := o.evolveHistory[len(o.evolveHistory)-1]
		s.LastEvolvePassRate = last.PassRate
		s.LastEvolveRegression = last.Regression
	}
	return s
}
