// Package residual implements the kernel's unnameable-residual detector:
// a fixed-size ring buffer of recent ResidualPoints, classified into
// SPIKE/RISING/STABLE_HIGH patterns, held in a Mutex-protected map keyed
// by reality.
package residual

import (
	"sync"
	"time"

	"github.com/cynic-kernel/kernel/internal/bus"
	"github.com/cynic-kernel/kernel/internal/kernel"
)

// Pattern classifies the recent trend of residual variance.
type Pattern string

const (
	PatternNone       Pattern = "NONE"
	PatternSpike      Pattern = "SPIKE"
	PatternRising     Pattern = "RISING"
	PatternStableHigh Pattern = "STABLE_HIGH"
)

// Capacity is the ring buffer size: F(8) = 21.
const Capacity = 21

// Detector tracks a ring buffer of ResidualPoints per Reality and
// classifies emergent patterns, emitting EmergenceDetected/ResidualHigh
// on the shared bus.
type Detector struct {
	mu      sync.Mutex
	buffers map[kernel.Reality][]kernel.ResidualPoint
	bus     *bus.Bus
}

// New constructs an empty Detector and subscribes it to JUDGMENT_CREATED:
// every Judgment the orchestrator emits is observed exactly once, via
// the bus, with no direct coupling to the orchestrator.
func New(b *bus.Bus) *Detector {
	d := &Detector{
		buffers: make(map[kernel.Reality][]kernel.ResidualPoint),
		bus:     b,
	}
	if b != nil {
		b.Subscribe(bus.JudgmentCreated, d.onJudgmentCreated)
	}
	return d
}

func (d *Detector) onJudgmentCreated(e bus.Event) error {
	payload, ok := e.Payload.(bus.JudgmentCreatedPayload)
	if !ok {
		return nil
	}
	d.Observe(kernel.Judgment{
		JudgmentID:         payload.JudgmentID,
		CellID:             payload.CellID,
		Reality:            kernel.Reality(payload.Reality),
		ResidualVariance:   payload.ResidualVariance,
		UnnameableDetected: payload.ResidualVariance > kernel.PhiInv,
		CreatedAt:          time.Now(),
	})
	return nil
}

// Observe records one Judgment's residual variance and classifies the
// updated buffer, emitting ResidualHigh when the point itself crosses
// φ⁻¹ and EmergenceDetected when the buffer's trend resolves to a
// non-trivial Pattern.
func (d *Detector) Observe(j kernel.Judgment) Pattern {
	point := kernel.ResidualPoint{
		JudgmentID:       j.JudgmentID,
		ResidualVariance: j.ResidualVariance,
		Reality:          j.Reality,
		ObservedAt:       j.CreatedAt,
		Unnameable:       j.UnnameableDetected,
	}

	d.mu.Lock()
	buf := append(d.buffers[j.Reality], point)
	if len(buf) > Capacity {
		buf = buf[len(buf)-Capacity:]
	}
	d.buffers[j.Reality] = buf
	pattern := classify(buf)
	d.mu.Unlock()

	if point.Unnameable && d.bus != nil {
		d.bus.Publish(bus.Event{
			Type: bus.ResidualHigh,
			Payload: bus.ResidualHighPayload{
				JudgmentID:       j.JudgmentID,
				ResidualVariance: j.ResidualVariance,
				CellID:           j.CellID,
			},
		})
	}

	if pattern != PatternNone && d.bus != nil {
		d.bus.Publish(bus.Event{
			Type: bus.EmergenceDetected,
			Payload: bus.EmergenceDetectedPayload{
				PatternType: string(pattern),
				Severity:    buf[len(buf)-1].ResidualVariance,
				Evidence:    string(j.Reality),
			},
		})
	}

	return pattern
}

// classify inspects the tail of a buffer and names its trend:
//
//	SPIKE:       single point > φ⁻¹ while the previous three points' mean < φ⁻²
//	RISING:      three consecutive points strictly increasing, spanning > φ⁻²
//	STABLE_HIGH: at least five of the last seven points > φ⁻¹
//
// SPIKE is checked first since it is the most specific signal.
func classify(buf []kernel.ResidualPoint) Pattern {
	n := len(buf)
	last := buf[n-1].ResidualVariance

	if n >= 4 && last > kernel.PhiInv {
		prevMean := (buf[n-2].ResidualVariance + buf[n-3].ResidualVariance + buf[n-4].ResidualVariance) / 3
		if prevMean < kernel.PhiInvSq {
			return PatternSpike
		}
	}

	if n >= 3 {
		a, b, c := buf[n-3].ResidualVariance, buf[n-2].ResidualVariance, buf[n-1].ResidualVariance
		if a < b && b < c && (c-a) > kernel.PhiInvSq {
			return PatternRising
		}
	}

	window := buf
	if n > 7 {
		window = buf[n-7:]
	}
	if len(window) == 7 {
		high := 0
		for _, p := range window {
			if p.ResidualVariance > kernel.PhiInv {
				high++
			}
		}
		if high >= 5 {
			return PatternStableHigh
		}
	}

	return PatternNone
}
