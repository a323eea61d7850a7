package position

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_position_open",
		Help: "Live positions currently held",
	})

	PositionsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_position_opened_total",
		Help: "Positions that reached the open state",
	})

	PositionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_position_closed_total",
		Help: "Closed positions, by exit reason",
	}, []string{"reason"})

	OpenRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_position_open_rejections_total",
		Help: "Candidates that never became an open position, by reason",
	}, []string{"reason"})

	ReconciledPositionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_position_reconciled_total",
		Help: "Positions opened from late entry fills",
	})

	CloseRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_position_close_retries_total",
		Help: "Exit attempts that did not fill",
	})

	PartialExitFillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_position_partial_exit_fills_total",
		Help: "Exit orders that sold only part of the held contracts",
	})

	CloseExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_position_close_exhausted_total",
		Help: "Close bursts that ran out of retries with the position still held",
	})

	RealizedPnLDollars = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oraclelag_position_realized_pnl_dollars",
		Help:    "Realized PnL per closed position",
		Buckets: []float64{-4, -2, -1, -0.5, -0.25, 0, 0.25, 0.5, 1, 2, 4},
	})

	HoldSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oraclelag_position_hold_seconds",
		Help:    "Time from entry fill to exit fill",
		Buckets: []float64{5, 15, 30, 45, 60, 75, 90, 105, 120, 150},
	})
)
