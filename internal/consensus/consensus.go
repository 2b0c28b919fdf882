// Package consensus fuses a panel of Votes into one Judgment-level
// score: PBFT-style quorum, veto propagation, and a φ-weighted
// geometric-mean fusion rule.
package consensus

import (
	"sort"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

// Result is the outcome of fusing a set of Votes.
type Result struct {
	Reached    bool
	Veto       bool
	QScore     float64
	Confidence float64
	Votes      int
	Quorum     int
	Variance   float64
}

// Fuse computes quorum, checks for veto, and fuses the surviving votes
// into a single score via φ-weighted geometric mean. A veto from any
// voting Judge short-circuits to QScore=0 with ConsensusReached=true
// (the panel did reach a decision: reject).
func Fuse(votes []kernel.Vote) Result {
	n := len(votes)
	if n == 0 {
		return Result{Reached: false, Quorum: 0}
	}

	quorum := kernel.Quorum(n)

	for _, v := range votes {
		if v.Veto {
			return Result{
				Reached:  true,
				Veto:     true,
				QScore:   0,
				Votes:    n,
				Quorum:   quorum,
				Variance: 0,
			}
		}
	}

	scores := make([]float64, n)
	confidences := make([]float64, n)
	for i, v := range votes {
		scores[i] = v.QScore
		confidences[i] = v.Confidence
	}
	// Fuse the highest-scoring votes first so the φ-weighting in
	// kernel.GeometricMean (which favors earlier entries) favors
	// agreement among the top scorers, not vote order.
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))

	fused := kernel.GeometricMean(scores)
	variance := kernel.Variance(scores)

	meanConfidence := 0.0
	for _, c := range confidences {
		meanConfidence += c
	}
	meanConfidence /= float64(n)

	agreementFactor := 1 - variance/(kernel.MaxQScore*kernel.MaxQScore*0.1)
	if agreementFactor < 0 {
		agreementFactor = 0
	}
	confidence := kernel.PhiBoundConfidence(meanConfidence * agreementFactor)

	reached := n >= quorum
	return Result{
		Reached:    reached,
		Veto:       false,
		QScore:     fused,
		Confidence: confidence,
		Votes:      n,
		Quorum:     quorum,
		Variance:   variance,
	}
}

// ResidualVariance normalizes a raw score variance into [0,1] for the
// residual detector via a variance/(MAX_Q_SCORE**2) clamp.
func ResidualVariance(variance float64) float64 {
	v := variance / (kernel.MaxQScore * kernel.MaxQScore)
	if v > 1 {
		return 1
	}
	return v
}
