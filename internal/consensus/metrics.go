package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotsTotal tracks successfully produced consensus snapshots.
	SnapshotsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_consensus_snapshots_total",
		Help: "Total number of consensus snapshots produced",
	})

	// FailuresTotal tracks consensus failures by reason.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_consensus_failures_total",
			Help: "Total number of consensus failures",
		},
		[]string{"reason"},
	)

	// TicksObservedTotal tracks accepted ticks per source.
	TicksObservedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_consensus_ticks_observed_total",
			Help: "Total number of price ticks accepted per source",
		},
		[]string{"source"},
	)

	// TicksDroppedTotal tracks rejected ticks by reason.
	TicksDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_consensus_ticks_dropped_total",
			Help: "Total number of price ticks dropped",
		},
		[]string{"reason"},
	)

	// OutliersRejectedTotal tracks single-source outliers rejected from
	// the consensus set.
	OutliersRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_consensus_outliers_rejected_total",
		Help: "Total number of outlier sources rejected during consensus",
	})

	// AgreementScore tracks the distribution of agreement scores.
	AgreementScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oraclelag_consensus_agreement_score",
		Help:    "Distribution of consensus agreement scores",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	// FreshSources tracks the number of fresh sources per asset.
	FreshSources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oraclelag_consensus_fresh_sources",
			Help: "Number of sources with a fresh tick per asset",
		},
		[]string{"asset"},
	)

	// ConsensusPrice tracks the latest consensus price per asset.
	ConsensusPrice = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oraclelag_consensus_price",
			Help: "Latest consensus price per asset",
		},
		[]string{"asset"},
	)
)
