// Package action implements the kernel's action proposer: a
// rolling-cap queue of ProposedActions derived from DECISION_MADE
// events, with an accept/reject/auto-execute lifecycle driven by a
// fixed decision table mapping inputs to a bounded set of outcomes.
package action

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cynic-kernel/kernel/internal/bus"
	"github.com/cynic-kernel/kernel/internal/kernel"
)

// QueueCap is the rolling cap on pending actions: F(11) = 89.
const QueueCap = 89

// mapping is (verdict, reality) -> (action_type, priority).
type mapping struct {
	actionType kernel.ActionType
	priority   int
}

var decisionTable = map[kernel.Verdict]map[kernel.Reality]mapping{
	kernel.VerdictBark: {
		kernel.RealityCode:   {kernel.ActionInvestigate, 1},
		kernel.RealityCynic:  {kernel.ActionInvestigate, 1},
		kernel.RealityMarket: {kernel.ActionAlert, 2},
		kernel.RealitySolana: {kernel.ActionAlert, 2},
		kernel.RealitySocial: {kernel.ActionAlert, 2},
	},
	kernel.VerdictGrowl: {
		kernel.RealityCode:   {kernel.ActionRefactor, 2},
		kernel.RealityCynic:  {kernel.ActionRefactor, 2},
		kernel.RealityMarket: {kernel.ActionMonitor, 3},
		kernel.RealitySocial: {kernel.ActionMonitor, 3},
	},
}

// ErrNotFound is returned when Accept/Reject targets an unknown action_id.
var ErrNotFound = errors.New("action: unknown action_id")

// ErrNotPending is returned when Accept/Reject targets an action that has
// already left the PENDING state.
var ErrNotPending = errors.New("action: action is not pending")

// Proposer owns the rolling action queue and its bus subscription.
type Proposer struct {
	mu      sync.Mutex
	actions []kernel.ProposedAction
	bus     *bus.Bus
}

// New constructs a Proposer and subscribes it to DECISION_MADE.
func New(b *bus.Bus) *Proposer {
	p := &Proposer{bus: b}
	if b != nil {
		b.Subscribe(bus.DecisionMade, p.onDecisionMade)
	}
	return p
}

func (p *Proposer) onDecisionMade(e bus.Event) error {
	payload, ok := e.Payload.(bus.DecisionMadePayload)
	if !ok {
		return nil
	}
	verdict := kernel.Verdict(payload.Verdict)
	reality := kernel.Reality(payload.Reality)
	m, ok := decisionTable[verdict][reality]
	if !ok {
		return nil // no actionable mapping for this (verdict, reality) pair
	}
	p.Propose(payload.JudgmentID, payload.StateKey, verdict, reality, m.actionType, m.priority, payload.ActionPrompt)
	return nil
}

// Propose appends one new PENDING action, evicting the oldest entry if
// the queue is already at QueueCap.
func (p *Proposer) Propose(judgmentID, stateKey string, verdict kernel.Verdict, reality kernel.Reality, actionType kernel.ActionType, priority int, prompt string) kernel.ProposedAction {
	a := kernel.ProposedAction{
		ActionID:   uuid.NewString(),
		JudgmentID: judgmentID,
		StateKey:   stateKey,
		Verdict:    verdict,
		Reality:    reality,
		ActionType: actionType,
		Priority:   priority,
		Prompt:     prompt,
		Status:     kernel.ActionPending,
		ProposedAt: time.Now(),
	}

	p.mu.Lock()
	p.actions = append(p.actions, a)
	if len(p.actions) > QueueCap {
		p.actions = p.actions[len(p.actions)-QueueCap:]
	}
	p.mu.Unlock()

	return a
}

// Pending returns every PENDING action ordered by (priority asc,
// proposed_at asc).
func (p *Proposer) Pending() []kernel.ProposedAction {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []kernel.ProposedAction
	for _, a := range p.actions {
		if a.Status == kernel.ActionPending {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ProposedAt.Before(out[j].ProposedAt)
	})
	return out
}

// Get returns one action by ID regardless of its status.
func (p *Proposer) Get(actionID string) (kernel.ProposedAction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.actions {
		if a.ActionID == actionID {
			return a, true
		}
	}
	return kernel.ProposedAction{}, false
}

// Accept transitions actionID from PENDING to ACCEPTED.
func (p *Proposer) Accept(actionID string) (kernel.ProposedAction, error) {
	return p.transition(actionID, kernel.ActionAccepted, 0)
}

// Reject transitions actionID from PENDING to REJECTED, calls onReject
// (when non-nil) with the action's state key and type, and, if the
// Proposer has a bus, publishes a zero-reward LEARNING_EVENT.
func (p *Proposer) Reject(actionID string, onReject func(stateKey, action string)) (kernel.ProposedAction, error) {
	a, err := p.transition(actionID, kernel.ActionRejected, 0)
	if err != nil {
		return a, err
	}
	if onReject != nil {
		onReject(a.StateKey, string(a.ActionType))
	}
	if p.bus != nil {
		p.bus.Publish(bus.Event{
			Type: bus.LearningEvent,
			Payload: bus.LearningEventPayload{
				StateKey:   a.StateKey,
				Action:     string(a.ActionType),
				Reward:     0,
				JudgmentID: a.JudgmentID,
				LoopName:   "action_rejection",
			},
		})
	}
	return a, nil
}

// AutoExecute transitions actionID from PENDING to AUTO_EXECUTED,
// for actions that cleared every guardrail without needing a human.
func (p *Proposer) AutoExecute(actionID string) (kernel.ProposedAction, error) {
	return p.transition(actionID, kernel.ActionAutoExecuted, 0)
}

func (p *Proposer) transition(actionID string, to kernel.ActionStatus, _ int) (kernel.ProposedAction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.actions {
		if p.actions[i].ActionID == actionID {
			if p.actions[i].Status != kernel.ActionPending {
				return p.actions[i], ErrNotPending
			}
			p.actions[i].Status = to
			return p.actions[i], nil
		}
	}
	return kernel.ProposedAction{}, ErrNotFound
}
