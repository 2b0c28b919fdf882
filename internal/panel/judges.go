package panel

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cynic-kernel/kernel/internal/collab"
	"github.com/cynic-kernel/kernel/internal/kernel"
	"github.com/cynic-kernel/kernel/internal/learning"
)

// HeuristicJudge scores a Cell from its structural fields alone — risk,
// complexity, analysis — with no history and no LLM. It is the
// always-available REFLEX-tier baseline judge: a pure function with no
// external state.
type HeuristicJudge struct {
	reputation float64
}

func NewHeuristicJudge() *HeuristicJudge {
	return &HeuristicJudge{reputation: 70.0}
}

func (j *HeuristicJudge) ID() string            { return "HEURISTIC" }
func (j *HeuristicJudge) MinTier() kernel.Tier  { return kernel.TierReflex }
func (j *HeuristicJudge) Reputation() float64   { return j.reputation }

func (j *HeuristicJudge) Analyze(ctx context.Context, cell kernel.Cell, budgetUSD float64) (kernel.Vote, error) {
	start := time.Now()
	// Higher risk and complexity push the score down; a pure ACT analysis
	// at high risk is caught upstream by Cell.IsHardVeto, not here.
	q := kernel.MaxQScore * (1 - 0.5*cell.Risk - 0.3*cell.Complexity)
	conf := kernel.PhiInv * (1 - 0.4*cell.Complexity)
	reasoning := "heuristic: risk=" + strconv.FormatFloat(cell.Risk, 'f', 2, 64) +
		" complexity=" + strconv.FormatFloat(cell.Complexity, 'f', 2, 64)
	return kernel.NewVote(j.ID(), cell.CellID, q, conf, false, reasoning,
		float64(time.Since(start).Microseconds())/1000.0, 0, ""), nil
}

// GuardianJudge is the sole Judge permitted to set Vote.Veto: it
// blocks Cells whose content carries a recognized danger marker.
type GuardianJudge struct {
	reputation  float64
	dangerWords []string
}

func NewGuardianJudge() *GuardianJudge {
	return &GuardianJudge{
		reputation:  85.0,
		dangerWords: []string{"rm -rf", "drop table", "force push", "disable auth", "delete all"},
	}
}

func (j *GuardianJudge) ID() string           { return "GUARDIAN" }
func (j *GuardianJudge) MinTier() kernel.Tier { return kernel.TierReflex }
func (j *GuardianJudge) Reputation() float64  { return j.reputation }

func (j *GuardianJudge) Analyze(ctx context.Context, cell kernel.Cell, budgetUSD float64) (kernel.Vote, error) {
	start := time.Now()
	lowered := strings.ToLower(cell.Content)
	veto := false
	reasoning := "guardian: clear"
	for _, w := range j.dangerWords {
		if strings.Contains(lowered, w) {
			veto = true
			reasoning = "guardian: matched danger marker \"" + w + "\""
			break
		}
	}
	q := kernel.MaxQScore
	if veto {
		q = 0
	}
	return kernel.NewVote(j.ID(), cell.CellID, q, kernel.PhiInv, veto, reasoning,
		float64(time.Since(start).Microseconds())/1000.0, 0, ""), nil
}

// scholarEntry is one recorded (cell_text, q_score) pair in ScholarJudge's
// rolling buffer.
type scholarEntry struct {
	text    string
	qScore  float64
	reality kernel.Reality
}

// ScholarJudge recalls similar past Cells by token-overlap similarity (a
// dependency-free stand-in for TF-IDF cosine similarity) and blends that
// recollection with the shared Q-table's learned value for the Cell's
// state key: BUFFER_MAX = F(11) = 89, K_NEIGHBORS = F(4) = 3,
// MIN_SIMILARITY = φ⁻², cold/warm/rich modes, and a
// blended_q = tfidf_q*(1-w) + qtable_q*w formula.
type ScholarJudge struct {
	mu      sync.Mutex
	buffer  []scholarEntry
	qtable  *learning.QTable // read-only access, may be nil
}

const (
	scholarBufferMax    = 89   // F(11)
	scholarKNeighbors   = 3    // F(4)
	scholarMinSimilarity = kernel.PhiInvSq
	scholarColdConfidence = 0.200
	scholarNeutralQ     = 0.5 * kernel.MaxQScore // 50.0 -> GROWL
	scholarRichEntries  = 21 // F(8)
)

// NewScholarJudge constructs a ScholarJudge. qtable may be nil, in which
// case blending is skipped and the raw similarity-based score is used.
func NewScholarJudge(qtable *learning.QTable) *ScholarJudge {
	return &ScholarJudge{qtable: qtable}
}

func (j *ScholarJudge) ID() string            { return "SCHOLAR" }
func (j *ScholarJudge) MinTier() kernel.Tier  { return kernel.TierMicro } // too slow for REFLEX
func (j *ScholarJudge) Reputation() float64   { return 65.0 }

// Learn records a consensus outcome into Scholar's rolling buffer,
// evicting the oldest entry once the buffer is at capacity.
func (j *ScholarJudge) Learn(cellText string, qScore float64, reality kernel.Reality) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.buffer = append(j.buffer, scholarEntry{text: cellText, qScore: qScore, reality: reality})
	if len(j.buffer) > scholarBufferMax {
		j.buffer = j.buffer[len(j.buffer)-scholarBufferMax:]
	}
}

func (j *ScholarJudge) Analyze(ctx context.Context, cell kernel.Cell, budgetUSD float64) (kernel.Vote, error) {
	start := time.Now()
	j.mu.Lock()
	bufLen := len(j.buffer)
	tfidfQ, similarFound := j.nearestNeighborScore(cell.Content)
	j.mu.Unlock()

	var q, conf float64
	var reasoning string
	switch {
	case bufLen == 0:
		q, conf = scholarNeutralQ, scholarColdConfidence
		reasoning = "scholar: cold buffer, neutral GROWL"
	case !similarFound:
		q, conf = scholarNeutralQ, scholarColdConfidence
		reasoning = "scholar: no neighbor above min similarity"
	case bufLen < scholarRichEntries:
		q, conf = tfidfQ, kernel.PhiInvSq+0.1
		reasoning = "scholar: warm buffer similarity match"
	default:
		q, conf = tfidfQ, kernel.PhiInv
		reasoning = "scholar: rich buffer similarity match"
	}

	if j.qtable != nil {
		if entry, ok := j.qtable.Lookup(cell.StateKey(), string(cell.Analysis)); ok {
			w := minf(float64(entry.Visits)/float64(kernel.Fibonacci(8)), kernel.PhiInv) * kernel.PhiInvSq
			qtableQ := entry.QValue * kernel.MaxQScore // QEntry.QValue is [0,1]; rescale to q_score
			q = tfidfQ*(1-w) + qtableQ*w
			reasoning += " blended with q-table"
		}
	}

	return kernel.NewVote(j.ID(), cell.CellID, q, conf, false, reasoning,
		float64(time.Since(start).Microseconds())/1000.0, 0, ""), nil
}

// nearestNeighborScore finds the K nearest buffer entries to text by
// Jaccard token overlap and returns their q_score average, reporting
// whether any neighbor cleared scholarMinSimilarity.
func (j *ScholarJudge) nearestNeighborScore(text string) (float64, bool) {
	if len(j.buffer) == 0 {
		return scholarNeutralQ, false
	}
	type scored struct {
		sim    float64
		qScore float64
	}
	tokens := tokenSet(text)
	var candidates []scored
	for _, e := range j.buffer {
		sim := jaccard(tokens, tokenSet(e.text))
		if sim >= scholarMinSimilarity {
			candidates = append(candidates, scored{sim, e.qScore})
		}
	}
	if len(candidates) == 0 {
		return scholarNeutralQ, false
	}
	if len(candidates) > scholarKNeighbors {
		// keep the K highest-similarity candidates
		for i := 0; i < scholarKNeighbors; i++ {
			best := i
			for k := i + 1; k < len(candidates); k++ {
				if candidates[k].sim > candidates[best].sim {
					best = k
				}
			}
			candidates[i], candidates[best] = candidates[best], candidates[i]
		}
		candidates = candidates[:scholarKNeighbors]
	}
	var weighted, weightSum float64
	for _, c := range candidates {
		weighted += c.sim * c.qScore
		weightSum += c.sim
	}
	if weightSum == 0 {
		return scholarNeutralQ, false
	}
	return kernel.PhiBoundScore(weighted / weightSum), true
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// PredictorJudge votes purely off the shared Q-table, with no buffer
// and no text analysis — a read-only fast-path voter for MICRO/MACRO
// tiers.
type PredictorJudge struct {
	qtable *learning.QTable
}

func NewPredictorJudge(qtable *learning.QTable) *PredictorJudge {
	return &PredictorJudge{qtable: qtable}
}

func (j *PredictorJudge) ID() string           { return "PREDICTOR" }
func (j *PredictorJudge) MinTier() kernel.Tier { return kernel.TierMicro }
func (j *PredictorJudge) Reputation() float64  { return 60.0 }

func (j *PredictorJudge) Analyze(ctx context.Context, cell kernel.Cell, budgetUSD float64) (kernel.Vote, error) {
	start := time.Now()
	entry, ok := j.qtable.Lookup(cell.StateKey(), string(cell.Analysis))
	q := scholarNeutralQ
	conf := scholarColdConfidence
	reasoning := "predictor: no q-table entry"
	if ok {
		q = entry.QValue * kernel.MaxQScore
		conf = minf(kernel.PhiInv, 0.2+float64(entry.Visits)/float64(kernel.Fibonacci(9)))
		reasoning = "predictor: q-table lookup"
	}
	return kernel.NewVote(j.ID(), cell.CellID, q, conf, false, reasoning,
		float64(time.Since(start).Microseconds())/1000.0, 0, ""), nil
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// llmJudgeTimeout bounds one Complete call; MACRO/META tiers budget more
// latency than REFLEX/MICRO so an LLM round trip is affordable.
const llmJudgeTimeout = 8 * time.Second

// LLMJudge delegates scoring to an external model via a
// collab.LLMRegistry, a MACRO/META-tier judge that routes through
// LLMRegistry.BestFor/Adapter.Complete instead of local heuristics.
type LLMJudge struct {
	registry collab.LLMRegistry
	minTier  kernel.Tier
	reputation float64
}

// NewLLMJudge wires registry as the (judge, task) -> Adapter router.
// minTier is normally TierMacro or TierMeta: an LLM round trip is too
// slow for REFLEX/MICRO's latency budgets.
func NewLLMJudge(registry collab.LLMRegistry, minTier kernel.Tier) *LLMJudge {
	return &LLMJudge{registry: registry, minTier: minTier, reputation: 75.0}
}

func (j *LLMJudge) ID() string            { return "LLM_" + string(j.minTier) }
func (j *LLMJudge) MinTier() kernel.Tier  { return j.minTier }
func (j *LLMJudge) Reputation() float64   { return j.reputation }

func (j *LLMJudge) Analyze(ctx context.Context, cell kernel.Cell, budgetUSD float64) (kernel.Vote, error) {
	start := time.Now()
	if budgetUSD <= 0 {
		return kernel.NewVote(j.ID(), cell.CellID, scholarNeutralQ, scholarColdConfidence, false,
			"llm: no budget allocated, skipping round trip", 0, 0, ""), nil
	}

	task := string(cell.Analysis)
	adapter, err := j.registry.BestFor(j.ID(), task)
	if err != nil {
		return kernel.Vote{}, err
	}

	req := collab.LLMRequest{
		JudgeID:   j.ID(),
		Task:      task,
		Prompt:    cell.Content + "\n\ncontext: " + cell.Context,
		Timeout:   llmJudgeTimeout,
		BudgetUSD: budgetUSD,
	}
	resp, err := adapter.Complete(ctx, req)
	success := err == nil
	defer j.registry.UpdateBenchmark(j.ID(), task, j.ID(), resp, success)
	if err != nil {
		return kernel.Vote{}, err
	}

	// The canned response carries no numeric score; blend the same
	// risk/complexity heuristic HeuristicJudge uses with a small bonus
	// for a non-empty response, standing in for a real model's verdict
	// until a live model backend replaces the inline adapter logic.
	q := kernel.MaxQScore * (1 - 0.5*cell.Risk - 0.3*cell.Complexity)
	if len(resp.Text) > 0 {
		q = minf(q+2, kernel.MaxQScore)
	}
	conf := kernel.PhiInv

	return kernel.NewVote(j.ID(), cell.CellID, q, conf, false, resp.Text,
		resp.LatencyMs, resp.CostUSD, j.ID()), nil
}

