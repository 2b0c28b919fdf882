// Package introspect implements the kernel's read-only observability
// surface: named Prometheus metrics (promauto.NewCounterVec/
// HistogramVec/GaugeVec, one field per named series, one Record* method
// per update site) plus a gorilla/mux HTTP server exposing them and a
// handful of read-only state snapshots.
package introspect

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus series the kernel exposes.
type Metrics struct {
	ErrorsTotal       *prometheus.CounterVec
	JudgmentsTotal    *prometheus.CounterVec
	JudgeLatency      *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec
	BreakerState      *prometheus.GaugeVec
	LODLevel          prometheus.Gauge
	ConsensusVariance *prometheus.HistogramVec
	BudgetSpentUSD    prometheus.Gauge
}

// NewMetrics registers and returns the kernel's metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		ErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_errors_total",
				Help: "Total errors by error kind (Transient/Pipeline/Guardrail/Fatal)",
			},
			[]string{"kind", "source"},
		),

		JudgmentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_judgments_total",
				Help: "Total judgments produced, by tier and verdict",
			},
			[]string{"tier", "verdict"},
		),

		JudgeLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_judge_latency_ms",
				Help:    "Per-judge analysis latency in milliseconds",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
			},
			[]string{"judge_id"},
		),

		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kernel_queue_depth",
				Help: "Current scheduler queue depth by tier",
			},
			[]string{"tier"},
		),

		BreakerState: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kernel_breaker_state",
				Help: "Circuit breaker state by tier: 0=closed, 1=half_open, 2=open",
			},
			[]string{"tier"},
		),

		LODLevel: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_lod_level",
				Help: "Current level-of-detail controller level, 0 (finest) to 3",
			},
		),

		ConsensusVariance: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_consensus_residual_variance",
				Help:    "Residual variance of fused consensus scores",
				Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.382, 0.5, 0.618, 0.8, 1.0},
			},
			[]string{"reality"},
		),

		BudgetSpentUSD: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "kernel_budget_spent_usd",
				Help: "Cumulative USD spent this kernel session",
			},
		),
	}
}

// RecordError increments the named error counter for kind/source.
func (m *Metrics) RecordError(kind, source string) {
	m.ErrorsTotal.WithLabelValues(kind, source).Inc()
}

// RecordJudgment records one completed judgment's tier and verdict.
func (m *Metrics) RecordJudgment(tier, verdict string) {
	m.JudgmentsTotal.WithLabelValues(tier, verdict).Inc()
}

// RecordJudgeLatency records one judge's Analyze duration.
func (m *Metrics) RecordJudgeLatency(judgeID string, ms float64) {
	m.JudgeLatency.WithLabelValues(judgeID).Observe(ms)
}

// SetQueueDepth publishes the scheduler's current per-tier depth.
func (m *Metrics) SetQueueDepth(tier string, depth int) {
	m.QueueDepth.WithLabelValues(tier).Set(float64(depth))
}

// breakerStateValue maps a breaker.State's String() to the gauge's
// numeric encoding.
func breakerStateValue(state string) float64 {
	switch state {
	case "HALF_OPEN":
		return 1
	case "OPEN":
		return 2
	default:
		return 0
	}
}

// SetBreakerState publishes one tier's circuit breaker state.
func (m *Metrics) SetBreakerState(tier, state string) {
	m.BreakerState.WithLabelValues(tier).Set(breakerStateValue(state))
}

// SetLODLevel publishes the LOD controller's current level.
func (m *Metrics) SetLODLevel(level int) {
	m.LODLevel.Set(float64(level))
}

// RecordConsensusVariance records one judgment's residual variance.
func (m *Metrics) RecordConsensusVariance(reality string, variance float64) {
	m.ConsensusVariance.WithLabelValues(reality).Observe(variance)
}

// SetBudgetSpent publishes cumulative session spend.
func (m *Metrics) SetBudgetSpent(usd float64) {
	m.BudgetSpentUSD.Set(usd)
}
