package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynic-kernel/kernel/internal/bus"
	"github.com/cynic-kernel/kernel/internal/kernel"
)

func TestNew_SubscribesToDecisionMade(t *testing.T) {
	b := bus.New(nil, 8)
	p := New(b)

	b.Publish(bus.Event{
		Type: bus.DecisionMade,
		Payload: bus.DecisionMadePayload{
			JudgmentID:   "j1",
			StateKey:     "CODE:JUDGE:PRESENT:0",
			Verdict:      string(kernel.VerdictBark),
			Reality:      string(kernel.RealityCode),
			ActionPrompt: "investigate this",
		},
	})

	pending := p.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, kernel.ActionInvestigate, pending[0].ActionType)
	assert.Equal(t, 1, pending[0].Priority)
	assert.Equal(t, kernel.ActionPending, pending[0].Status)
}

func TestOnDecisionMade_NoMappingIsIgnored(t *testing.T) {
	b := bus.New(nil, 8)
	p := New(b)

	b.Publish(bus.Event{
		Type: bus.DecisionMade,
		Payload: bus.DecisionMadePayload{
			JudgmentID: "j1",
			Verdict:    string(kernel.VerdictHowl),
			Reality:    string(kernel.RealityCode),
		},
	})

	assert.Empty(t, p.Pending())
}

func TestPropose_EvictsOldestAtQueueCap(t *testing.T) {
	p := New(nil)
	var first string
	for i := 0; i < QueueCap+1; i++ {
		a := p.Propose("j", "k", kernel.VerdictBark, kernel.RealityCode, kernel.ActionInvestigate, 1, "")
		if i == 0 {
			first = a.ActionID
		}
	}
	_, ok := p.Get(first)
	assert.False(t, ok, "oldest action should have been evicted")
	assert.Len(t, p.Pending(), QueueCap)
}

func TestPending_OrderedByPriorityThenTime(t *testing.T) {
	p := New(nil)
	p.Propose("j", "k1", kernel.VerdictGrowl, kernel.RealityCode, kernel.ActionRefactor, 2, "")
	p.Propose("j", "k2", kernel.VerdictBark, kernel.RealityCode, kernel.ActionInvestigate, 1, "")

	pending := p.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Priority)
	assert.Equal(t, 2, pending[1].Priority)
}

func TestAccept_TransitionsFromPending(t *testing.T) {
	p := New(nil)
	a := p.Propose("j", "k", kernel.VerdictBark, kernel.RealityCode, kernel.ActionInvestigate, 1, "")

	accepted, err := p.Accept(a.ActionID)
	require.NoError(t, err)
	assert.Equal(t, kernel.ActionAccepted, accepted.Status)

	_, err = p.Accept(a.ActionID)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestReject_UnknownActionID(t *testing.T) {
	p := New(nil)
	_, err := p.Reject("missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReject_PublishesNegativeRewardLearningEvent(t *testing.T) {
	b := bus.New(nil, 8)
	p := New(b)
	a := p.Propose("j", "CODE:JUDGE:PRESENT:0", kernel.VerdictBark, kernel.RealityCode, kernel.ActionInvestigate, 1, "")

	var seen bus.LearningEventPayload
	b.Subscribe(bus.LearningEvent, func(e bus.Event) error {
		seen = e.Payload.(bus.LearningEventPayload)
		return nil
	})

	_, err := p.Reject(a.ActionID, nil)
	require.NoError(t, err)
	assert.Equal(t, "action_rejection", seen.LoopName)
	assert.Equal(t, 0.0, seen.Reward)
	assert.Equal(t, "CODE:JUDGE:PRESENT:0", seen.StateKey)
}

func TestAutoExecute_Idempotency(t *testing.T) {
	p := New(nil)
	a := p.Propose("j", "k", kernel.VerdictBark, kernel.RealityCode, kernel.ActionInvestigate, 1, "")

	executed, err := p.AutoExecute(a.ActionID)
	require.NoError(t, err)
	assert.Equal(t, kernel.ActionAutoExecuted, executed.Status)

	_, err = p.AutoExecute(a.ActionID)
	assert.ErrorIs(t, err, ErrNotPending)
}
