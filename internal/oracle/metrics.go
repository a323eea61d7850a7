package oracle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OracleValue tracks the latest oracle answer per asset.
	OracleValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oraclelag_oracle_value",
			Help: "Latest oracle answer per asset",
		},
		[]string{"asset"},
	)

	// OracleAgeSeconds tracks the age of the latest round at poll time.
	OracleAgeSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oraclelag_oracle_age_seconds",
			Help: "Age of the latest oracle round per asset",
		},
		[]string{"asset"},
	)

	// RoundsTotal tracks observed round advances per asset.
	RoundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_oracle_rounds_total",
			Help: "Total number of oracle round advances observed",
		},
		[]string{"asset"},
	)

	// PollErrorsTotal tracks failed feed reads per asset.
	PollErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_oracle_poll_errors_total",
			Help: "Total number of failed oracle feed reads",
		},
		[]string{"asset"},
	)
)
