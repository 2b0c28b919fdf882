// Package learning implements the kernel's TD(0) Q-table with Elastic
// Weight Consolidation: an RWMutex-guarded map keyed by state/action,
// with a visit-weighted blend that latches once an entry consolidates.
package learning

import (
	"math"
	"sync"

	"github.com/cynic-kernel/kernel/internal/bus"
	"github.com/cynic-kernel/kernel/internal/kernel"
)

// QTable is the kernel's shared (state_key, action) -> value table.
// QEntry.QValue lives in [0,1], distinct from the [0,100]-scale
// q_score on Votes/Judgments. All access is guarded by a single
// RWMutex.
type QTable struct {
	mu         sync.RWMutex
	entries    map[string]*kernel.QEntry
	updates    int // total Update() calls since construction
	bus        *bus.Bus
	flushBatch int
}

// New constructs an empty QTable. flushBatch is the number of Update
// calls between QTableUpdated events; 0 selects the default of 21.
func New(b *bus.Bus, flushBatch int) *QTable {
	if flushBatch <= 0 {
		flushBatch = kernel.EWCConsolidationThreshold
	}
	return &QTable{
		entries:    make(map[string]*kernel.QEntry),
		bus:        b,
		flushBatch: flushBatch,
	}
}

// Lookup returns a copy of the entry for (stateKey, action), if present.
func (t *QTable) Lookup(stateKey, action string) (kernel.QEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[stateKey+"|"+action]
	if !ok {
		return kernel.QEntry{}, false
	}
	return *e, true
}

// Update applies one TD(0) step to the (stateKey, action) entry:
//
//	α_eff = α · (1 − λ·consolidated)
//	q_new = (1 − α_eff)·q_old + α_eff·r
//
// reward must be in [0,1]. Once Visits crosses
// kernel.EWCConsolidationThreshold, Consolidated latches permanently
// (one-way) and every subsequent update uses the reduced α_eff.
func (t *QTable) Update(stateKey, action string, reward float64) kernel.QEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := stateKey + "|" + action
	e, ok := t.entries[key]
	if !ok {
		e = &kernel.QEntry{StateKey: stateKey, Action: action}
		t.entries[key] = e
	}

	consolidated := 0.0
	if e.Consolidated {
		consolidated = 1.0
	}
	alphaEff := kernel.LearningRate * (1 - kernel.EWCLambda*consolidated)

	e.QValue = clamp01((1-alphaEff)*e.QValue + alphaEff*reward)
	e.Visits++
	if reward >= kernel.PhiInv {
		e.Wins++
	} else {
		e.Losses++
	}

	if !e.Consolidated && e.Visits >= kernel.EWCConsolidationThreshold {
		e.Consolidated = true
		anchor := e.QValue
		e.EWCAnchor = &anchor
		if t.bus != nil {
			t.bus.Publish(bus.Event{
				Type: bus.EWCCheckpoint,
				Payload: bus.EWCCheckpointPayload{
					StateKey: stateKey,
					Action:   action,
					QValue:   e.QValue,
				},
			})
		}
	}

	t.updates++
	if t.updates%t.flushBatch == 0 {
		t.emitFlush()
	}

	return *e
}

func (t *QTable) emitFlush() {
	if t.bus == nil {
		return
	}
	consolidated := 0
	for _, e := range t.entries {
		if e.Consolidated {
			consolidated++
		}
	}
	t.bus.Publish(bus.Event{
		Type: bus.QTableUpdated,
		Payload: bus.QTableUpdatedPayload{
			Flushed:         t.flushBatch,
			TotalEntries:    len(t.entries),
			EWCConsolidated: consolidated,
			TotalUpdates:    t.updates,
		},
	})
}

// Confidence returns min(log(1+visits)/log(1+21), 0.618) for the entry at
// (stateKey, action), or 0 if no entry exists yet.
func (t *QTable) Confidence(stateKey, action string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[stateKey+"|"+action]
	if !ok {
		return 0
	}
	c := math.Log(1+float64(e.Visits)) / math.Log(1+float64(kernel.EWCConsolidationThreshold))
	if c > kernel.PhiInv {
		return kernel.PhiInv
	}
	return c
}

// Size returns the number of distinct (state_key, action) entries.
func (t *QTable) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Exploit returns the highest-Q action recorded for stateKey (argmax
// policy). Unknown states have no exploitable action; callers should
// default to the cautious GROWL action.
func (t *QTable) Exploit(stateKey string) (action string, qValue float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	best := -1.0
	for _, e := range t.entries {
		if e.StateKey != stateKey {
			continue
		}
		if !ok || e.QValue > best {
			ok = true
			best = e.QValue
			action = e.Action
			qValue = e.QValue
		}
	}
	return
}

// Explore picks an action for stateKey via Thompson-style sampling: each
// known action's Wins/Losses parameterize a Beta-like score
// (Wins+1)/(Visits+2), and the highest-scoring sample among a random
// draw per action is chosen. actions lists every candidate action,
// including ones never yet visited (sampled at the uninformative prior).
func (t *QTable) Explore(stateKey string, actions []string, rng func() float64) (action string, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(actions) == 0 {
		return "", false
	}
	best := -1.0
	for _, a := range actions {
		e, found := t.entries[stateKey+"|"+a]
		wins, visits := 0, 0
		if found {
			wins, visits = e.Wins, e.Visits
		}
		prior := (float64(wins) + 1) / (float64(visits) + 2)
		sample := prior * rng()
		if sample > best {
			best = sample
			action = a
			ok = true
		}
	}
	return
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
