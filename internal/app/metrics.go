package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch outcome labels.
const (
	outcomeApplied  = "applied"
	outcomeConflict = "conflict"
	outcomeFailed   = "failed"
)

// Dropped-operation reason labels.
const (
	dropReasonCascade = "cascade"
	dropReasonReduced = "reduced"
)

// Metrics holds the Prometheus collectors for batch saves. A nil *Metrics
// records nothing.
type Metrics struct {
	batches       *prometheus.CounterVec
	applied       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	applyDuration prometheus.Histogram
}

// NewMetrics registers batch collectors on reg. A nil reg yields nil metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &Metrics{
		// Labels: outcome (applied, conflict, failed)
		batches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockenv",
			Subsystem: "environment",
			Name:      "batches_total",
			Help:      "Batch saves by outcome",
		}, []string{"outcome"}),
		// Labels: kind (ADD, UPDATE, MOVE, REORDER, REMOVE)
		applied: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockenv",
			Subsystem: "environment",
			Name:      "operations_applied_total",
			Help:      "Operations applied after normalization",
		}, []string{"kind"}),
		// Labels: reason (cascade, reduced)
		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blockenv",
			Subsystem: "environment",
			Name:      "operations_dropped_total",
			Help:      "Operations removed before apply",
		}, []string{"reason"}),
		applyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "blockenv",
			Subsystem: "environment",
			Name:      "apply_duration_seconds",
			Help:      "Time spent applying one batch",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

func (m *Metrics) observeBatch(outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
	if outcome == outcomeApplied {
		m.applyDuration.Observe(time.Since(started).Seconds())
	}
}

func (m *Metrics) observeApplied(kind string) {
	if m == nil {
		return
	}
	m.applied.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeDropped(reason string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.dropped.WithLabelValues(reason).Add(float64(count))
}
