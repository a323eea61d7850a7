package signal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsTotal tracks accepted candidates per asset and type.
	SignalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_signal_candidates_total",
			Help: "Total number of signal candidates emitted",
		},
		[]string{"asset", "type"},
	)

	// RejectionsTotal tracks rejected cycles by enumerated reason.
	RejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_signal_rejections_total",
			Help: "Total number of signal rejections",
		},
		[]string{"reason"},
	)

	// SkipsTotal tracks cycles skipped by the stale-data guard.
	SkipsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_signal_skips_total",
		Help: "Total number of cycles skipped on stale market data",
	})

	// OverridesTotal tracks high-divergence override acceptances.
	OverridesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_signal_overrides_total",
		Help: "Total number of high-divergence override acceptances",
	})

	// EscapeClauseTotal tracks escape-clause acceptances.
	EscapeClauseTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_signal_escape_clause_total",
		Help: "Total number of escape-clause acceptances",
	})

	// DivergenceDetected tracks the divergence magnitude of accepted
	// candidates.
	DivergenceDetected = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oraclelag_signal_divergence",
		Help:    "Divergence magnitude of accepted candidates",
		Buckets: []float64{0.01, 0.02, 0.03, 0.05, 0.08, 0.12, 0.20, 0.30, 0.50},
	})
)
