// Package lod implements the kernel's level-of-detail controller:
// a health-metrics-driven self-throttle with hysteresis. State is held
// behind a mutex and transitions are gated by consecutive-observation
// counting across four levels rather than a binary state machine.
package lod

import (
	"sync"

	"github.com/cynic-kernel/kernel/internal/bus"
	"github.com/cynic-kernel/kernel/internal/kernel"
)

// Level is one of FULL, REDUCED, EMERGENCY, MINIMAL, ordered worst-last.
type Level int

const (
	Full Level = iota
	Reduced
	Emergency
	Minimal
)

func (l Level) String() string {
	switch l {
	case Full:
		return "FULL"
	case Reduced:
		return "REDUCED"
	case Emergency:
		return "EMERGENCY"
	case Minimal:
		return "MINIMAL"
	default:
		return "UNKNOWN"
	}
}

// Metrics is one tick's health snapshot.
type Metrics struct {
	ErrorRate  float64 // [0,1]
	LatencyMs  float64
	QueueDepth int
	MemoryPct  float64 // [0,1]
	DiskPct    float64 // [0,1]
}

// thresholds holds the REDUCED/EMERGENCY/MINIMAL bars for one metric.
type thresholds struct {
	reduced, emergency, minimal float64
}

var (
	errorRateThresholds = thresholds{0.10, 0.30, 0.50}
	latencyThresholds   = thresholds{2000, 5000, 10000}
	queueDepthThresholds = thresholds{34, 89, 144} // F9, F11, F12
	memoryThresholds    = thresholds{0.618, 0.764, 0.90}
	diskThresholds      = thresholds{0.618, 0.764, 0.90}
)

func worstFor(value float64, t thresholds) Level {
	switch {
	case value >= t.minimal:
		return Minimal
	case value >= t.emergency:
		return Emergency
	case value >= t.reduced:
		return Reduced
	default:
		return Full
	}
}

// Controller tracks the worst-of-metrics LOD with hysteresis: a proposed
// transition only takes effect after HysteresisTicks consecutive ticks
// agree on the same worst level.
type Controller struct {
	mu              sync.Mutex
	current         Level
	pending         Level
	pendingStreak   int
	hysteresisTicks int
	bus             *bus.Bus
}

// New constructs a Controller starting at FULL. hysteresisTicks of 0
// selects a default of 3.
func New(b *bus.Bus, hysteresisTicks int) *Controller {
	if hysteresisTicks <= 0 {
		hysteresisTicks = 3
	}
	return &Controller{
		current:         Full,
		pending:         Full,
		hysteresisTicks: hysteresisTicks,
		bus:             b,
	}
}

// Observe feeds one tick's Metrics into the controller, returning the
// (possibly unchanged) current Level. A proposed transition — up or
// down — only commits once it has been the worst level for
// hysteresisTicks consecutive calls; a single noisy tick does not flip
// the state.
func (c *Controller) Observe(m Metrics) Level {
	worst := worstFor(m.ErrorRate, errorRateThresholds)
	if w := worstFor(m.LatencyMs, latencyThresholds); w > worst {
		worst = w
	}
	if w := worstFor(float64(m.QueueDepth), queueDepthThresholds); w > worst {
		worst = w
	}
	if w := worstFor(m.MemoryPct, memoryThresholds); w > worst {
		worst = w
	}
	if w := worstFor(m.DiskPct, diskThresholds); w > worst {
		worst = w
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if worst == c.current {
		c.pending = c.current
		c.pendingStreak = 0
		return c.current
	}

	if worst == c.pending {
		c.pendingStreak++
	} else {
		c.pending = worst
		c.pendingStreak = 1
	}

	if c.pendingStreak >= c.hysteresisTicks {
		from := c.current
		c.current = worst
		c.pendingStreak = 0
		direction := "down"
		if worst > from {
			direction = "up"
		}
		if c.bus != nil {
			c.bus.Publish(bus.Event{
				Type: bus.ConsciousnessChanged,
				Payload: bus.ConsciousnessChangedPayload{
					From:      from.String(),
					To:        worst.String(),
					Direction: direction,
				},
			})
		}
	}

	return c.current
}

// Current returns the committed Level without observing a new tick.
func (c *Controller) Current() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Cap clamps tier to what the current LOD permits: EMERGENCY/MINIMAL
// force REFLEX, REDUCED caps at MICRO. Applying Cap to an
// already-capped tier is idempotent (invariant 6).
func (c *Controller) Cap(tier kernel.Tier) kernel.Tier {
	switch c.Current() {
	case Emergency, Minimal:
		return kernel.TierReflex
	case Reduced:
		if tier == kernel.TierMacro || tier == kernel.TierMeta {
			return kernel.TierMicro
		}
		return tier
	default:
		return tier
	}
}
