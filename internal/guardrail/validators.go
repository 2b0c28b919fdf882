package guardrail

import (
	"context"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

// CallerVerifier confirms a dispatch request's SPIFFE SVID is genuine,
// satisfied structurally by collab.SPIFFEIdentity without an import
// cycle back into collab.
type CallerVerifier interface {
	VerifySVID(spiffeID string) (uint64, error)
}

// PowerLimiter blocks actions whose action-type/priority combination would
// grant outsized unilateral authority — the cheapest, purely
// rule-based check, run first. When Verifier is set, it also refuses to
// pass any AUTO_EXECUTED action whose Decision.CallerSVID doesn't
// verify.
type PowerLimiter struct {
	// MaxAutoPriority is the urgency bound for REFACTOR actions: a
	// REFACTOR whose priority is <= MaxAutoPriority (1 = highest
	// urgency) is rejected.
	MaxAutoPriority int
	Verifier        CallerVerifier
}

func NewPowerLimiter(maxAutoPriority int) *PowerLimiter {
	if maxAutoPriority <= 0 {
		maxAutoPriority = 1
	}
	return &PowerLimiter{MaxAutoPriority: maxAutoPriority}
}

// WithVerifier attaches a CallerVerifier, returning p for chaining at
// construction time.
func (p *PowerLimiter) WithVerifier(v CallerVerifier) *PowerLimiter {
	p.Verifier = v
	return p
}

func (p *PowerLimiter) Name() string { return "PowerLimiter" }

func (p *PowerLimiter) Validate(ctx context.Context, d Decision) *Rejection {
	if d.Action.ActionType == kernel.ActionRefactor && d.Action.Priority <= p.MaxAutoPriority {
		return &Rejection{
			Guardrail:      p.Name(),
			Reason:         "refactor action at maximum urgency requires a narrower blast radius check",
			Recommendation: "split into smaller proposed actions",
		}
	}
	if p.Verifier != nil && d.Action.Status == kernel.ActionAutoExecuted {
		if d.CallerSVID == "" {
			return &Rejection{
				Guardrail:      p.Name(),
				Reason:         "auto-executed dispatch carries no caller SVID",
				Recommendation: "attach a SPIFFE identity to the dispatch request",
			}
		}
		if _, err := p.Verifier.VerifySVID(d.CallerSVID); err != nil {
			return &Rejection{
				Guardrail:      p.Name(),
				Reason:         "caller SVID failed verification: " + err.Error(),
				Recommendation: "re-issue the dispatch request with a valid SVID",
			}
		}
	}
	return nil
}

// AlignmentChecker blocks actions whose verdict contradicts the
// judgment's own consensus (a BARK verdict proposing anything but
// investigation/alert is inconsistent and blocked).
type AlignmentChecker struct{}

func NewAlignmentChecker() *AlignmentChecker { return &AlignmentChecker{} }

func (a *AlignmentChecker) Name() string { return "AlignmentChecker" }

func (a *AlignmentChecker) Validate(ctx context.Context, d Decision) *Rejection {
	if d.Judgment.Verdict == kernel.VerdictBark &&
		d.Action.ActionType != kernel.ActionInvestigate && d.Action.ActionType != kernel.ActionAlert {
		return &Rejection{
			Guardrail:      a.Name(),
			Reason:         "BARK verdict may only investigate or alert, not act",
			Recommendation: "downgrade action_type to INVESTIGATE or ALERT",
		}
	}
	return nil
}

// TransparencyAudit requires every dispatched action to carry a
// non-empty prompt so the audit trail can explain what ran and why.
type TransparencyAudit struct{}

func NewTransparencyAudit() *TransparencyAudit { return &TransparencyAudit{} }

func (t *TransparencyAudit) Name() string { return "TransparencyAudit" }

func (t *TransparencyAudit) Validate(ctx context.Context, d Decision) *Rejection {
	if d.Action.Prompt == "" {
		return &Rejection{
			Guardrail:      t.Name(),
			Reason:         "action carries no explanatory prompt",
			Recommendation: "attach the judgment's reasoning before dispatch",
		}
	}
	return nil
}

// HumanApprovalGate is the last, most expensive check: it defers to an
// external Approver (a human-in-the-loop system) for any action at or
// above a configured urgency (priority 1 = most urgent). Lower-urgency
// actions pass straight through.
type HumanApprovalGate struct {
	Approver        Approver
	RequireApproval int // priority <= this requires explicit human sign-off
}

// Approver decides whether a human has approved a pending Decision.
// The kernel core depends only on this interface; a deployment wires
// in its own approval surface (Slack, a ticket queue, a CLI prompt).
type Approver interface {
	Approved(ctx context.Context, d Decision) bool
}

// AlwaysApprove is a trivial Approver used when no human-gate backend is
// wired, so the chain degrades to pass-through rather than panicking.
type AlwaysApprove struct{}

func (AlwaysApprove) Approved(ctx context.Context, d Decision) bool { return true }

func NewHumanApprovalGate(approver Approver, requireApproval int) *HumanApprovalGate {
	if approver == nil {
		approver = AlwaysApprove{}
	}
	if requireApproval <= 0 {
		requireApproval = 2
	}
	return &HumanApprovalGate{Approver: approver, RequireApproval: requireApproval}
}

func (h *HumanApprovalGate) Name() string { return "HumanApprovalGate" }

func (h *HumanApprovalGate) Validate(ctx context.Context, d Decision) *Rejection {
	if d.Action.Priority > h.RequireApproval {
		return nil // low urgency, no human sign-off required
	}
	if h.Approver.Approved(ctx, d) {
		return nil
	}
	return &Rejection{
		Guardrail:      h.Name(),
		Reason:         "human approval withheld or pending",
		Recommendation: "resubmit once approved, or downgrade urgency",
	}
}
