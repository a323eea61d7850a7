package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_storage_writes_total",
		Help: "Completed storage writes, by record kind",
	}, []string{"kind"})

	WriteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_storage_write_errors_total",
		Help: "Storage writes that failed, by record kind",
	}, []string{"kind"})

	DroppedWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_storage_dropped_writes_total",
		Help: "Writes dropped because the queue was full or closed",
	}, []string{"kind"})

	WriteQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oraclelag_storage_write_queue_depth",
		Help: "Writes waiting in the async queue",
	})
)
