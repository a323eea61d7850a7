// Package httpserver exposes the process's observability surface:
// Prometheus metrics, the health probes, and JSON status endpoints for
// the live pipeline.
package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/circuitbreaker"
	"github.com/quorumtrade/oraclelag/pkg/healthprobe"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

// PositionSource serves the live position table.
type PositionSource interface {
	Positions() []types.Position
}

// BreakerSource reports circuit breaker state.
type BreakerSource interface {
	State() circuitbreaker.Status
}

// ConsensusSource serves the latest fused price per asset.
type ConsensusSource interface {
	Snapshot(asset string) (types.ConsensusSnapshot, error)
}

// FeedSource reports per-source feed health.
type FeedSource interface {
	Health(now time.Time) map[string]bool
}

// Server provides HTTP endpoints for metrics, health checks and status.
type Server struct {
	server        *http.Server
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
}

// Config holds server configuration.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker

	Positions PositionSource
	Breaker   BreakerSource
	Consensus ConsensusSource
	Feeds     FeedSource

	Assets      []string
	TradingMode string
}

// New creates a new HTTP server.
func New(cfg *Config) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	handler := newStatusHandler(cfg)
	r.Get("/api/status", handler.handleStatus)
	r.Get("/api/positions", handler.handlePositions)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server:        server,
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
	}
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}
