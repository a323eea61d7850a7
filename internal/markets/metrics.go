package markets

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHitsTotal tracks metadata cache hits.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_markets_metadata_cache_hits_total",
		Help: "Total number of metadata cache hits",
	})

	// CacheMissesTotal tracks metadata cache misses.
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oraclelag_markets_metadata_cache_misses_total",
		Help: "Total number of metadata cache misses",
	})
)
