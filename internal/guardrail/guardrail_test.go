package guardrail

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

type fakeVerifier struct {
	err error
}

func (f fakeVerifier) VerifySVID(string) (uint64, error) { return 0, f.err }

func fullChain(verifier CallerVerifier, approver Approver) *Chain {
	power := NewPowerLimiter(1).WithVerifier(verifier)
	return NewChain(power, NewAlignmentChecker(), NewTransparencyAudit(), NewHumanApprovalGate(approver, 2))
}

func passingDecision() Decision {
	return Decision{
		Judgment: kernel.Judgment{Verdict: kernel.VerdictWag},
		Action: kernel.ProposedAction{
			ActionType: kernel.ActionMonitor,
			Priority:   3,
			Prompt:     "watch it",
			Status:     kernel.ActionPending,
		},
	}
}

func TestEvaluate_AllPassReturnsNilAndRecordsAudit(t *testing.T) {
	c := fullChain(nil, AlwaysApprove{})
	rej := c.Evaluate(context.Background(), passingDecision())
	assert.Nil(t, rej)
	require.Len(t, c.AuditTrail(), 1)
	assert.True(t, c.AuditTrail()[0].Passed)
}

func TestPowerLimiter_BlocksMaxUrgencyRefactor(t *testing.T) {
	p := NewPowerLimiter(1)
	d := passingDecision()
	d.Action.ActionType = kernel.ActionRefactor
	d.Action.Priority = 1

	rej := p.Validate(context.Background(), d)
	require.NotNil(t, rej)
	assert.Equal(t, "PowerLimiter", rej.Guardrail)
}

func TestPowerLimiter_RequiresSVIDForAutoExecuted(t *testing.T) {
	p := NewPowerLimiter(1).WithVerifier(fakeVerifier{})
	d := passingDecision()
	d.Action.Status = kernel.ActionAutoExecuted
	d.CallerSVID = ""

	rej := p.Validate(context.Background(), d)
	require.NotNil(t, rej)
	assert.Contains(t, rej.Reason, "no caller SVID")
}

func TestPowerLimiter_RejectsFailedVerification(t *testing.T) {
	p := NewPowerLimiter(1).WithVerifier(fakeVerifier{err: errors.New("expired")})
	d := passingDecision()
	d.Action.Status = kernel.ActionAutoExecuted
	d.CallerSVID = "spiffe://kernel/caller"

	rej := p.Validate(context.Background(), d)
	require.NotNil(t, rej)
	assert.Contains(t, rej.Reason, "expired")
}

func TestPowerLimiter_PassesValidSVID(t *testing.T) {
	p := NewPowerLimiter(1).WithVerifier(fakeVerifier{})
	d := passingDecision()
	d.Action.Status = kernel.ActionAutoExecuted
	d.CallerSVID = "spiffe://kernel/caller"

	assert.Nil(t, p.Validate(context.Background(), d))
}

func TestAlignmentChecker_BarkVerdictMayOnlyInvestigateOrAlert(t *testing.T) {
	a := NewAlignmentChecker()
	d := passingDecision()
	d.Judgment.Verdict = kernel.VerdictBark
	d.Action.ActionType = kernel.ActionMonitor

	rej := a.Validate(context.Background(), d)
	require.NotNil(t, rej)

	d.Action.ActionType = kernel.ActionInvestigate
	assert.Nil(t, a.Validate(context.Background(), d))
}

func TestTransparencyAudit_RequiresPrompt(t *testing.T) {
	tr := NewTransparencyAudit()
	d := passingDecision()
	d.Action.Prompt = ""

	rej := tr.Validate(context.Background(), d)
	require.NotNil(t, rej)

	d.Action.Prompt = "explained"
	assert.Nil(t, tr.Validate(context.Background(), d))
}

func TestHumanApprovalGate_LowUrgencySkipsApproval(t *testing.T) {
	h := NewHumanApprovalGate(nil, 2)
	d := passingDecision()
	d.Action.Priority = 3

	assert.Nil(t, h.Validate(context.Background(), d))
}

type denyApprover struct{}

func (denyApprover) Approved(context.Context, Decision) bool { return false }

func TestHumanApprovalGate_HighUrgencyRequiresApproval(t *testing.T) {
	h := NewHumanApprovalGate(denyApprover{}, 2)
	d := passingDecision()
	d.Action.Priority = 1

	rej := h.Validate(context.Background(), d)
	require.NotNil(t, rej)
	assert.Equal(t, "HumanApprovalGate", rej.Guardrail)
}

func TestEvaluate_StopsAtFirstRejection(t *testing.T) {
	c := fullChain(nil, denyApprover{})
	d := passingDecision()
	d.Judgment.Verdict = kernel.VerdictBark
	d.Action.ActionType = kernel.ActionMonitor

	rej := c.Evaluate(context.Background(), d)
	require.NotNil(t, rej)
	assert.Equal(t, "AlignmentChecker", rej.Guardrail, "alignment should fail before the human gate runs")
}

func TestRejection_ErrorImplementsError(t *testing.T) {
	r := &Rejection{Guardrail: "X", Reason: "y"}
	var err error = r
	assert.Contains(t, err.Error(), "X")
	assert.Contains(t, err.Error(), "y")
}
