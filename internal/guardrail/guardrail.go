// Package guardrail implements the kernel's pre-dispatch validation
// chain: PowerLimiter -> AlignmentChecker -> TransparencyAudit ->
// HumanApprovalGate, run as ordered sequential validators producing a
// typed rejection result.
package guardrail

import (
	"context"

	"github.com/cynic-kernel/kernel/internal/kernel"
)

// Rejection is a typed, audited block raised by one guardrail.
type Rejection struct {
	Guardrail      string
	Reason         string
	Recommendation string
}

func (r *Rejection) Error() string {
	return "guardrail " + r.Guardrail + " rejected: " + r.Reason
}

// Decision is what a guardrail chain validates: the judgment's proposed
// action, not the raw Judgment itself.
type Decision struct {
	Judgment   kernel.Judgment
	Action     kernel.ProposedAction
	CallerSVID string // SPIFFE ID of the caller requesting dispatch, optional
}

// Validator is one link in the chain.
type Validator interface {
	Name() string
	Validate(ctx context.Context, d Decision) *Rejection
}

// AuditRecord is kept for every decision the chain sees, pass or reject.
type AuditRecord struct {
	Decision  Decision
	Rejection *Rejection
	Passed    bool
}

// Chain runs validators in a fixed, intentionally ordered sequence:
// cheap rule-based checks first, the human gate last.
type Chain struct {
	validators []Validator
	audit      []AuditRecord
}

// NewChain builds the canonical four-stage chain.
func NewChain(power, alignment, transparency, human Validator) *Chain {
	return &Chain{validators: []Validator{power, alignment, transparency, human}}
}

// Evaluate runs the chain against d, stopping at the first rejection. A
// nil return means the decision passed every guardrail and may proceed
// to the runner.
func (c *Chain) Evaluate(ctx context.Context, d Decision) *Rejection {
	for _, v := range c.validators {
		if rej := v.Validate(ctx, d); rej != nil {
			c.audit = append(c.audit, AuditRecord{Decision: d, Rejection: rej, Passed: false})
			return rej
		}
	}
	c.audit = append(c.audit, AuditRecord{Decision: d, Passed: true})
	return nil
}

// AuditTrail returns every decision the chain has evaluated, in order.
func (c *Chain) AuditTrail() []AuditRecord {
	return append([]AuditRecord(nil), c.audit...)
}
