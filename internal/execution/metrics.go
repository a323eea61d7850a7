package execution

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersPlacedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_execution_orders_placed_total",
		Help: "Maker orders submitted, by side",
	}, []string{"side"})

	WaitOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_execution_wait_outcomes_total",
		Help: "Placement wait resolutions, by outcome",
	}, []string{"outcome"})

	PlacementErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_execution_placement_errors_total",
		Help: "Orders the venue refused outright",
	})

	CancelFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_execution_cancel_failures_total",
		Help: "Cancellations that failed at the venue",
	})

	LateFillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_execution_late_fills_total",
		Help: "Fills discovered during cancellation",
	})

	FillLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oraclelag_execution_fill_latency_seconds",
		Help:    "Time from placement to confirmed fill",
		Buckets: []float64{0.2, 0.5, 1.0, 1.5, 2.0, 2.5, 3.0, 3.5},
	})
)
