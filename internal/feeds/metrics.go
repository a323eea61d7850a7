package feeds

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_feeds_ticks_total",
		Help: "Normalized trade ticks, by feed and asset",
	}, []string{"feed", "asset"})

	DecodeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_feeds_decode_errors_total",
		Help: "Frames that failed to decode, by feed",
	}, []string{"feed"})

	TickLagSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oraclelag_feeds_tick_lag_seconds",
		Help:    "Delay between the exchange trade time and local receipt",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"feed"})
)
