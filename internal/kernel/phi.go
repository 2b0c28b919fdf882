// Package kernel holds the CYNIC judgment kernel's core data model: Cells,
// Votes, Judgments, QEntries, ResidualPoints, ProposedActions, and the
// golden-ratio constants every other package derives its thresholds from.
package kernel

import "math"

// Golden ratio constants. All confidence and consolidation math in the
// kernel is bounded by these.
const (
	Phi       = 1.618033988749895 // φ
	PhiInv    = 0.618             // φ⁻¹, MAX_CONFIDENCE
	PhiInvSq  = 0.382             // φ⁻²
	MaxQScore = 100.0
)

// MaxConfidence is the hard cap on Judgment.Confidence at every write site.
const MaxConfidence = PhiInv

// Verdict thresholds: BARK < 38.2 ≤ GROWL < 61.8 ≤ WAG < 82.0 ≤ HOWL.
const (
	VerdictThresholdGrowl = 38.2
	VerdictThresholdWag   = 61.8
	VerdictThresholdHowl  = 82.0
)

// LearningRate is α, the base TD(0) learning rate.
const LearningRate = 0.038

// EWCConsolidationThreshold is the visit count at which a QEntry latches
// into its reduced effective-learning-rate regime.
const EWCConsolidationThreshold = 21

// EWCLambda is λ in α_eff = α·(1 − λ·consolidated).
const EWCLambda = PhiInv

// fib holds Fibonacci numbers indexed by k, F(1)=1, F(2)=1, ... as used
// throughout the kernel for cadences and caps.
var fib = [...]int{0, 1, 1, 2, 3, 5, 8, 13, 21, 34, 55, 89, 144}

// Fibonacci returns F(k) for k in [0,12]; panics outside that range since
// the kernel never needs a wider table.
func Fibonacci(k int) int {
	return fib[k]
}

// PhiBoundScore clamps a q_score into [0, MaxQScore].
func PhiBoundScore(q float64) float64 {
	if q < 0 {
		return 0
	}
	if q > MaxQScore {
		return MaxQScore
	}
	return q
}

// PhiBoundConfidence clamps a confidence value to [0, MaxConfidence].
func PhiBoundConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// VerdictFromQScore derives the fixed-threshold verdict from a q_score.
func VerdictFromQScore(q float64) Verdict {
	switch {
	case q < VerdictThresholdGrowl:
		return VerdictBark
	case q < VerdictThresholdWag:
		return VerdictGrowl
	case q < VerdictThresholdHowl:
		return VerdictWag
	default:
		return VerdictHowl
	}
}

// Quorum computes the PBFT-style quorum for n live judges.
func Quorum(n int) int {
	if n >= 4 {
		return 2*((n-1)/3) + 1
	}
	return n
}

// GeometricMean returns the φ-weighted geometric mean of scores, clamped
// to [0, MaxQScore]. The score at position i of n is weighted by
// φ^(−i/n), so earlier positions carry slightly more weight (callers that
// sort scores in descending order weight the highest most), matching the aggregator's
// "φ-weighted geometric mean of the per-judge scores" requirement.
func GeometricMean(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	logSum := 0.0
	weightSum := 0.0
	for i, s := range scores {
		if s <= 0 {
			s = 0.0001 // avoid log(0); a zero vote still pulls the mean down hard
		}
		w := math.Pow(Phi, -float64(i)/float64(len(scores)))
		logSum += w * math.Log(s)
		weightSum += w
	}
	mean := math.Exp(logSum / weightSum)
	return PhiBoundScore(mean)
}

// Variance returns the population variance of a set of scores.
func Variance(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	mean := 0.0
	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	v := 0.0
	for _, s := range scores {
		d := s - mean
		v += d * d
	}
	return v / float64(len(scores))
}
