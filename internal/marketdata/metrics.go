package marketdata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal tracks venue stream events by type.
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oraclelag_marketdata_events_total",
			Help: "Total number of venue stream events processed",
		},
		[]string{"type"},
	)

	// ParseErrorsTotal tracks undecodable frames and levels.
	ParseErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_marketdata_parse_errors_total",
		Help: "Total number of venue stream parse errors",
	})

	// BooksTracked tracks the number of outcome books held.
	BooksTracked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_marketdata_books_tracked",
		Help: "Number of outcome token books currently tracked",
	})

	// BookAgeSeconds tracks the staleness clock per asset at snapshot
	// time.
	BookAgeSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oraclelag_marketdata_book_age_seconds",
			Help: "Seconds since the quoted price last changed per asset",
		},
		[]string{"asset"},
	)
)
