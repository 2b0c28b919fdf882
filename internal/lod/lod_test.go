package lod

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cynic-kernel/kernel/internal/bus"
	"github.com/cynic-kernel/kernel/internal/kernel"
)

func TestController_StartsAtFull(t *testing.T) {
	c := New(nil, 0)
	assert.Equal(t, Full, c.Current())
}

func TestObserve_SingleBadTickDoesNotFlip(t *testing.T) {
	c := New(nil, 3)
	level := c.Observe(Metrics{ErrorRate: 0.9})
	assert.Equal(t, Full, level, "one bad tick must not flip the level under hysteresis")
}

func TestObserve_CommitsAfterHysteresisTicks(t *testing.T) {
	c := New(nil, 3)
	c.Observe(Metrics{ErrorRate: 0.9})
	c.Observe(Metrics{ErrorRate: 0.9})
	level := c.Observe(Metrics{ErrorRate: 0.9})
	assert.Equal(t, Minimal, level)
}

func TestObserve_NoisyTicksResetTheStreak(t *testing.T) {
	c := New(nil, 3)
	c.Observe(Metrics{ErrorRate: 0.9})   // MINIMAL streak=1
	c.Observe(Metrics{ErrorRate: 0.0})   // back to FULL, resets
	level := c.Observe(Metrics{ErrorRate: 0.9})
	assert.Equal(t, Full, level, "streak should not carry across a differing tick")
}

func TestObserve_PublishesConsciousnessChangedOnCommit(t *testing.T) {
	b := bus.New(nil, 8)
	c := New(b, 1)

	var payload bus.ConsciousnessChangedPayload
	b.Subscribe(bus.ConsciousnessChanged, func(e bus.Event) error {
		payload = e.Payload.(bus.ConsciousnessChangedPayload)
		return nil
	})

	c.Observe(Metrics{ErrorRate: 0.9})
	assert.Equal(t, "FULL", payload.From)
	assert.Equal(t, "MINIMAL", payload.To)
	assert.Equal(t, "up", payload.Direction)
}

func TestWorstFor_TakesWorstAcrossMetrics(t *testing.T) {
	c := New(nil, 1)
	level := c.Observe(Metrics{ErrorRate: 0.0, MemoryPct: 0.95})
	assert.Equal(t, Minimal, level)
}

func TestCap_EmergencyAndMinimalForceReflex(t *testing.T) {
	c := New(nil, 1)
	c.Observe(Metrics{ErrorRate: 0.9})
	require.Equal(t, Minimal, c.Current())
	assert.Equal(t, kernel.TierReflex, c.Cap(kernel.TierMeta))
	assert.Equal(t, kernel.TierReflex, c.Cap(kernel.TierReflex))
}

func TestCap_ReducedCapsAtMicro(t *testing.T) {
	c := New(nil, 1)
	c.Observe(Metrics{ErrorRate: 0.2}) // REDUCED
	require.Equal(t, Reduced, c.Current())
	assert.Equal(t, kernel.TierMicro, c.Cap(kernel.TierMacro))
	assert.Equal(t, kernel.TierMicro, c.Cap(kernel.TierMeta))
	assert.Equal(t, kernel.TierReflex, c.Cap(kernel.TierReflex))
}

func TestCap_FullIsIdentity(t *testing.T) {
	c := New(nil, 1)
	assert.Equal(t, kernel.TierMeta, c.Cap(kernel.TierMeta))
}

func TestCap_IdempotentOnAlreadyCappedTier(t *testing.T) {
	c := New(nil, 1)
	c.Observe(Metrics{ErrorRate: 0.2}) // REDUCED
	once := c.Cap(kernel.TierMicro)
	twice := c.Cap(once)
	assert.Equal(t, once, twice)
}
