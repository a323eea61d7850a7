package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrippedState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_breaker_tripped",
		Help: "1 while the circuit breaker refuses new entries",
	})

	TripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_breaker_trips_total",
		Help: "Breaker trips, by ceiling crossed",
	}, []string{"reason"})

	EntriesRefusedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_breaker_entries_refused_total",
		Help: "Entry attempts refused while tripped",
	})

	DailyPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_breaker_daily_pnl",
		Help: "Cumulative realized PnL for the current UTC day",
	})

	FailedFillStreak = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_breaker_failed_fill_streak",
		Help: "Current consecutive failed-fill count",
	})

	DailyExecutionCost = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_breaker_daily_execution_cost",
		Help: "Cumulative execution cost for the current UTC day",
	})
)
