package wallet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GasBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_wallet_gas_balance",
		Help: "Native token balance for gas, in whole units",
	})

	CollateralBalance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_wallet_collateral_balance",
		Help: "Collateral token balance, in whole units",
	})

	CollateralAllowance = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_wallet_collateral_allowance",
		Help: "Collateral approved to the venue exchange, in whole units",
	})

	UpdateErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_wallet_update_errors_total",
		Help: "Balance refreshes that failed",
	})

	UpdateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oraclelag_wallet_update_duration_seconds",
		Help:    "Time taken to refresh balances",
		Buckets: prometheus.DefBuckets,
	})

	LastUpdateTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_wallet_last_update_timestamp",
		Help: "Unix timestamp of the last successful balance refresh",
	})
)
