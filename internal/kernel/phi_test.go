package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictFromQScore_Boundaries(t *testing.T) {
	cases := []struct {
		q    float64
		want Verdict
	}{
		{0, VerdictBark},
		{38.1, VerdictBark},
		{38.2, VerdictGrowl},
		{61.7, VerdictGrowl},
		{61.8, VerdictWag},
		{81.9, VerdictWag},
		{82.0, VerdictHowl},
		{100, VerdictHowl},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, VerdictFromQScore(c.q), "q_score=%v", c.q)
	}
}

func TestPhiBoundScore_Clamps(t *testing.T) {
	assert.Equal(t, 0.0, PhiBoundScore(-5))
	assert.Equal(t, MaxQScore, PhiBoundScore(150))
	assert.Equal(t, 50.0, PhiBoundScore(50))
}

func TestPhiBoundConfidence_NeverExceedsMaxConfidence(t *testing.T) {
	assert.Equal(t, 0.0, PhiBoundConfidence(-1))
	assert.Equal(t, MaxConfidence, PhiBoundConfidence(1))
	assert.LessOrEqual(t, PhiBoundConfidence(0.9), PhiInv)
}

func TestQuorum_PBFTFormula(t *testing.T) {
	assert.Equal(t, 1, Quorum(1))
	assert.Equal(t, 2, Quorum(2))
	assert.Equal(t, 3, Quorum(3))
	assert.Equal(t, 3, Quorum(4))
	assert.Equal(t, 3, Quorum(5))
	assert.Equal(t, 5, Quorum(7))
	assert.Equal(t, 5, Quorum(9))
}

func TestFibonacci_KnownCadences(t *testing.T) {
	assert.Equal(t, 3, Fibonacci(4))
	assert.Equal(t, 5, Fibonacci(5))
	assert.Equal(t, 13, Fibonacci(7))
	assert.Equal(t, 21, Fibonacci(8))
	assert.Equal(t, 34, Fibonacci(9))
	assert.Equal(t, 55, Fibonacci(10))
	assert.Equal(t, 89, Fibonacci(11))
	assert.Equal(t, 144, Fibonacci(12))
}

func TestGeometricMean_UnanimousAgreementEqualsInput(t *testing.T) {
	mean := GeometricMean([]float64{70, 70, 70, 70})
	assert.InDelta(t, 70, mean, 0.5)
}

func TestGeometricMean_EmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, GeometricMean(nil))
}

func TestGeometricMean_NeverExceedsMaxQScore(t *testing.T) {
	mean := GeometricMean([]float64{100, 100, 100})
	require.LessOrEqual(t, mean, MaxQScore)
}

func TestVariance_ConstantScoresIsZero(t *testing.T) {
	assert.Equal(t, 0.0, Variance([]float64{50, 50, 50}))
}

func TestVariance_SpreadIsPositive(t *testing.T) {
	assert.Greater(t, Variance([]float64{0, 100}), 0.0)
}

func TestCell_StateKey(t *testing.T) {
	c := NewCell(RealityCode, AnalysisJudge, TimePresent, LOD(1), "content", "ctx", 0.5, 0.5, 1.0, 3)
	assert.Equal(t, "CODE:JUDGE:PRESENT:1", c.StateKey())
}

func TestCell_IsHardVeto(t *testing.T) {
	veto := NewCell(RealityCode, AnalysisAct, TimePresent, LOD(0), "x", "", 1.0, 0, 0, 0)
	assert.True(t, veto.IsHardVeto())

	notVeto := NewCell(RealityCode, AnalysisAct, TimePresent, LOD(0), "x", "", 0.99, 0, 0, 0)
	assert.False(t, notVeto.IsHardVeto())

	wrongAnalysis := NewCell(RealityCode, AnalysisJudge, TimePresent, LOD(0), "x", "", 1.0, 0, 0, 0)
	assert.False(t, wrongAnalysis.IsHardVeto())
}

func TestNewJudgment_UnnameableDetectedAbovePhiInv(t *testing.T) {
	c := NewCell(RealityCode, AnalysisJudge, TimePresent, LOD(0), "x", "", 0.2, 0.2, 1.0, 1)

	below := NewJudgment(c, 60, 0.5, true, 3, 3, PhiInv-0.01, nil, nil, 0, 0, TierMicro, 10)
	assert.False(t, below.UnnameableDetected)

	above := NewJudgment(c, 60, 0.5, true, 3, 3, PhiInv+0.01, nil, nil, 0, 0, TierMicro, 10)
	assert.True(t, above.UnnameableDetected)
}

func TestNewVote_ClampsScoreAndConfidence(t *testing.T) {
	v := NewVote("judge", "cell", 500, 5, false, "reasoning", 1, 0, "")
	assert.Equal(t, MaxQScore, v.QScore)
	assert.Equal(t, MaxConfidence, v.Confidence)
}

func TestQEntry_Key(t *testing.T) {
	e := QEntry{StateKey: "CODE:JUDGE:PRESENT:0", Action: "REFACTOR"}
	assert.Equal(t, "CODE:JUDGE:PRESENT:0|REFACTOR", e.Key())
}
