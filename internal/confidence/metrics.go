package confidence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_confidence_scores_total",
		Help: "Candidates scored, by resulting tier",
	}, []string{"tier"})

	ScoreValue = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oraclelag_confidence_score_value",
		Help:    "Distribution of confidence score values",
		Buckets: prometheus.LinearBuckets(0.05, 0.05, 20),
	})

	EscapePenaltiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_confidence_escape_penalties_total",
		Help: "Escape-clause candidates that received the score penalty",
	})
)
