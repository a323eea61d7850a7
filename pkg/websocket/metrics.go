package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oraclelag_ws_active_connections",
		Help: "Live WebSocket connections, by feed",
	}, []string{"feed"})

	ReconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_ws_reconnect_attempts_total",
		Help: "Reconnection attempts, by feed",
	}, []string{"feed"})

	ReconnectFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_ws_reconnect_failures_total",
		Help: "Reconnection attempts that failed, by feed",
	}, []string{"feed"})

	FramesReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_ws_frames_received_total",
		Help: "Raw frames read from the socket, by feed",
	}, []string{"feed"})

	FramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oraclelag_ws_frames_dropped_total",
		Help: "Frames dropped because the consumer channel was full, by feed",
	}, []string{"feed"})

	ConnectionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "oraclelag_ws_connection_duration_seconds",
		Help:    "Connection lifetime before a disconnect, by feed",
		Buckets: []float64{60, 300, 600, 1800, 3600, 7200, 14400, 28800, 43200, 86400},
	}, []string{"feed"})
)
