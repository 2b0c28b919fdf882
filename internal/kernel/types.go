package kernel

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reality is the domain a Cell perceives from.
type Reality string

const (
	RealityCode   Reality = "CODE"
	RealityMarket Reality = "MARKET"
	RealitySocial Reality = "SOCIAL"
	RealityHuman  Reality = "HUMAN"
	RealityCynic  Reality = "CYNIC"
	RealitySolana Reality = "SOLANA"
	RealityCosmos Reality = "COSMOS"
)

// Analysis is the judgment phase a Cell is headed toward.
type Analysis string

const (
	AnalysisPerceive Analysis = "PERCEIVE"
	AnalysisJudge    Analysis = "JUDGE"
	AnalysisDecide   Analysis = "DECIDE"
	AnalysisAct      Analysis = "ACT"
	AnalysisLearn    Analysis = "LEARN"
	AnalysisAccount  Analysis = "ACCOUNT"
	AnalysisEmerge   Analysis = "EMERGE"
)

// TimeDim is the temporal orientation of a Cell.
type TimeDim string

const (
	TimePast    TimeDim = "PAST"
	TimePresent TimeDim = "PRESENT"
	TimeFuture  TimeDim = "FUTURE"
)

// LOD is the level-of-detail a Cell was perceived/judged at, 0 (finest) to 3.
type LOD int

// Verdict is the fused outcome of a Judgment.
type Verdict string

const (
	VerdictBark  Verdict = "BARK"
	VerdictGrowl Verdict = "GROWL"
	VerdictWag   Verdict = "WAG"
	VerdictHowl  Verdict = "HOWL"
)

// Cell is a unit of perception awaiting judgment. Immutable after
// construction; ownership passes producer -> scheduler -> worker -> (optionally)
// the learning loop.
type Cell struct {
	CellID        string
	Reality       Reality
	Analysis      Analysis
	TimeDim       TimeDim
	LOD           LOD
	Content       string
	Context       string
	Risk          float64 // [0,1]
	Complexity    float64 // [0,1]
	BudgetUSD     float64 // >= 0
	Consciousness int     // hint, 0-7
	CreatedAt     time.Time
}

// NewCell constructs a Cell with a fresh ID and creation timestamp. Risk and
// Complexity are clamped into [0,1]; BudgetUSD is clamped to be non-negative.
func NewCell(reality Reality, analysis Analysis, timeDim TimeDim, lod LOD, content, context string, risk, complexity, budgetUSD float64, consciousness int) Cell {
	return Cell{
		CellID:        uuid.NewString(),
		Reality:       reality,
		Analysis:      analysis,
		TimeDim:       timeDim,
		LOD:           lod,
		Content:       content,
		Context:       context,
		Risk:          clamp01(risk),
		Complexity:    clamp01(complexity),
		BudgetUSD:     maxf(budgetUSD, 0),
		Consciousness: consciousness,
		CreatedAt:     time.Now(),
	}
}

// StateKey derives the kernel's keying scheme: reality:analysis:time_dim:lod.
func (c Cell) StateKey() string {
	return fmt.Sprintf("%s:%s:%s:%d", c.Reality, c.Analysis, c.TimeDim, c.LOD)
}

// IsHardVeto reports whether the Cell is explicitly, structurally dangerous:
// risk == 1.0 and analysis == ACT. No Judge heuristic is needed to detect
// this — it is declared by construction.
func (c Cell) IsHardVeto() bool {
	return c.Risk >= 1.0 && c.Analysis == AnalysisAct
}

// Vote is one Judge's opinion on one Cell.
type Vote struct {
	JudgeID    string
	CellID     string
	QScore     float64 // [0,100]
	Confidence float64 // [0, MaxConfidence]
	Veto       bool
	Reasoning  string
	LatencyMs  float64
	CostUSD    float64
	LLMID      string // optional
}

// NewVote constructs a Vote with its score and confidence clamped into
// their legal ranges.
func NewVote(judgeID, cellID string, qScore, confidence float64, veto bool, reasoning string, latencyMs, costUSD float64, llmID string) Vote {
	return Vote{
		JudgeID:    judgeID,
		CellID:     cellID,
		QScore:     PhiBoundScore(qScore),
		Confidence: PhiBoundConfidence(confidence),
		Veto:       veto,
		Reasoning:  reasoning,
		LatencyMs:  latencyMs,
		CostUSD:    costUSD,
		LLMID:      llmID,
	}
}

// Tier is the cognitive depth a pipeline runs at.
type Tier string

const (
	TierReflex Tier = "REFLEX"
	TierMicro  Tier = "MICRO"
	TierMacro  Tier = "MACRO"
	TierMeta   Tier = "META"
)

// Judgment is the fused outcome of one pipeline run.
type Judgment struct {
	JudgmentID        string
	CellID            string
	StateKey          string
	Reality           Reality
	QScore            float64
	Confidence        float64
	Verdict           Verdict
	ConsensusReached  bool
	ConsensusVotes    int
	ConsensusQuorum   int
	ResidualVariance  float64
	UnnameableDetected bool
	AxiomScores       map[string]float64
	DogVotes          map[string]float64 // judge_id -> q_score
	CostUSD           float64
	LLMCalls          int
	LevelUsed         Tier
	DurationMs        float64
	CreatedAt         time.Time
}

// NewJudgment constructs a Judgment, clamping QScore/Confidence and
// deriving Verdict and UnnameableDetected from the kernel's invariants.
func NewJudgment(cell Cell, qScore, confidence float64, consensusReached bool, consensusVotes, consensusQuorum int, residualVariance float64, axiomScores map[string]float64, dogVotes map[string]float64, costUSD float64, llmCalls int, level Tier, durationMs float64) Judgment {
	q := PhiBoundScore(qScore)
	return Judgment{
		JudgmentID:         uuid.NewString(),
		CellID:             cell.CellID,
		StateKey:           cell.StateKey(),
		Reality:            cell.Reality,
		QScore:             q,
		Confidence:         PhiBoundConfidence(confidence),
		Verdict:            VerdictFromQScore(q),
		ConsensusReached:   consensusReached,
		ConsensusVotes:     consensusVotes,
		ConsensusQuorum:    consensusQuorum,
		ResidualVariance:   residualVariance,
		UnnameableDetected: residualVariance > PhiInv,
		AxiomScores:        axiomScores,
		DogVotes:           dogVotes,
		CostUSD:            costUSD,
		LLMCalls:           llmCalls,
		LevelUsed:          level,
		DurationMs:         durationMs,
		CreatedAt:          time.Now(),
	}
}

// QEntry is one learned (state_key, action) value.
type QEntry struct {
	StateKey     string
	Action       string
	QValue       float64
	Visits       int
	Wins         int
	Losses       int
	EWCAnchor    *float64
	Consolidated bool // one-way latch, set once Visits >= EWCConsolidationThreshold
}

// Key returns the map key this entry is stored under.
func (e QEntry) Key() string {
	return e.StateKey + "|" + e.Action
}

// ResidualPoint is one observation fed into the residual detector's ring
// buffer.
type ResidualPoint struct {
	JudgmentID       string
	ResidualVariance float64
	Reality          Reality
	ObservedAt       time.Time
	Unnameable       bool
}

// ActionType classifies a ProposedAction.
type ActionType string

const (
	ActionInvestigate ActionType = "INVESTIGATE"
	ActionRefactor    ActionType = "REFACTOR"
	ActionAlert       ActionType = "ALERT"
	ActionMonitor     ActionType = "MONITOR"
	ActionImprove     ActionType = "IMPROVE"
)

// ActionStatus is a ProposedAction's lifecycle state.
type ActionStatus string

const (
	ActionPending      ActionStatus = "PENDING"
	ActionAccepted     ActionStatus = "ACCEPTED"
	ActionRejected     ActionStatus = "REJECTED"
	ActionAutoExecuted ActionStatus = "AUTO_EXECUTED"
)

// ProposedAction is one actionable verdict awaiting approval.
type ProposedAction struct {
	ActionID    string
	JudgmentID  string
	StateKey    string
	Verdict     Verdict
	Reality     Reality
	ActionType  ActionType
	Priority    int // 1..4
	Prompt      string
	Status      ActionStatus
	ProposedAt  time.Time
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
