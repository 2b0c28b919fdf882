package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

func vote(score, confidence float64, veto bool) kernel.Vote {
	return kernel.NewVote("judge", "cell", score, confidence, veto, "", 1, 0, "")
}

func TestFuse_Empty(t *testing.T) {
	r := Fuse(nil)
	assert.False(t, r.Reached)
	assert.Equal(t, 0, r.Quorum)
}

func TestFuse_VetoShortCircuits(t *testing.T) {
	votes := []kernel.Vote{
		vote(90, 0.5, false),
		vote(80, 0.5, false),
		vote(10, 0.5, true),
	}
	r := Fuse(votes)
	assert.True(t, r.Reached)
	assert.True(t, r.Veto)
	assert.Equal(t, 0.0, r.QScore)
}

func TestFuse_UnanimousAgreementYieldsHighConfidence(t *testing.T) {
	votes := []kernel.Vote{
		vote(70, 0.5, false),
		vote(70, 0.5, false),
		vote(70, 0.5, false),
		vote(70, 0.5, false),
	}
	r := Fuse(votes)
	require.True(t, r.Reached)
	assert.False(t, r.Veto)
	assert.InDelta(t, 70, r.QScore, 1)
	assert.InDelta(t, 0.5, r.Confidence, 0.05)
	assert.Equal(t, 0.0, r.Variance)
}

func TestFuse_ConfidenceNeverExceedsPhiInv(t *testing.T) {
	votes := []kernel.Vote{
		vote(100, kernel.MaxConfidence, false),
		vote(100, kernel.MaxConfidence, false),
		vote(100, kernel.MaxConfidence, false),
	}
	r := Fuse(votes)
	assert.LessOrEqual(t, r.Confidence, kernel.PhiInv)
}

func TestFuse_DisagreementLowersConfidence(t *testing.T) {
	agree := Fuse([]kernel.Vote{vote(70, 0.5, false), vote(70, 0.5, false), vote(70, 0.5, false), vote(70, 0.5, false)})
	disagree := Fuse([]kernel.Vote{vote(10, 0.5, false), vote(90, 0.5, false), vote(50, 0.5, false), vote(30, 0.5, false)})
	assert.Greater(t, agree.Confidence, disagree.Confidence)
}

func TestFuse_SingleVoteReachesUnanimityQuorum(t *testing.T) {
	votes := []kernel.Vote{vote(70, 0.5, false)}
	r := Fuse(votes)
	// single-vote panel: quorum==1==len(votes), reached.
	assert.True(t, r.Reached)
	assert.Equal(t, 1, r.Quorum)
}

func TestResidualVariance_NormalizesIntoUnitRange(t *testing.T) {
	assert.Equal(t, 0.0, ResidualVariance(0))
	assert.InDelta(t, 1.0, ResidualVariance(kernel.MaxQScore*kernel.MaxQScore*2), 0.0001)
	v := ResidualVariance(kernel.MaxQScore * kernel.MaxQScore / 2)
	assert.InDelta(t, 0.5, v, 0.0001)
}
