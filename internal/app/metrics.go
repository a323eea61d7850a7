package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal tracks pipeline cycles per asset.
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_pipeline_cycles_total",
			Help: "Total number of pipeline detection cycles",
		},
		[]string{"asset"},
	)

	// WindowExpiredCycles tracks cycles dropped because the asset's
	// market window has ended.
	WindowExpiredCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_pipeline_window_expired_cycles_total",
			Help: "Total number of cycles dropped on an expired market window",
		},
		[]string{"asset"},
	)

	// LowConfidenceSignals tracks candidates scored below the entry
	// minimum.
	LowConfidenceSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_pipeline_low_confidence_signals_total",
			Help: "Total number of candidates scored below the entry minimum",
		},
		[]string{"asset"},
	)
)
