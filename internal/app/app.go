// Package app wires the trading pipeline together and owns its
// lifecycle: construction, startup ordering, the per-asset detection
// loop, and dependency-ordered shutdown.
package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/circuitbreaker"
	"github.com/quorumtrade/oraclelag/internal/consensus"
	"github.com/quorumtrade/oraclelag/internal/execution"
	"github.com/quorumtrade/oraclelag/internal/feeds"
	"github.com/quorumtrade/oraclelag/internal/marketdata"
	"github.com/quorumtrade/oraclelag/internal/markets"
	"github.com/quorumtrade/oraclelag/internal/oracle"
	"github.com/quorumtrade/oraclelag/internal/position"
	"github.com/quorumtrade/oraclelag/internal/signal"
	"github.com/quorumtrade/oraclelag/internal/storage"
	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/healthprobe"
	"github.com/quorumtrade/oraclelag/pkg/httpserver"
	"github.com/quorumtrade/oraclelag/pkg/types"
	"github.com/quorumtrade/oraclelag/pkg/wallet"
	"github.com/quorumtrade/oraclelag/pkg/websocket"
)

// App is the main application orchestrator.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	assets []string

	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server

	registry *markets.Registry
	writer   *storage.Writer

	engine        *consensus.Engine
	feedSup       *feeds.Supervisor
	venueStream   *websocket.Client
	books         *marketdata.Manager
	oracleTracker *oracle.Tracker

	detector  *signal.Detector
	positions *position.Manager
	breaker   *circuitbreaker.Breaker

	walletTracker *wallet.Tracker
	pipeline      *pipeline

	positionEvents chan types.PositionEvent
	breakerEvents  chan types.BreakerEvent
	lateFills      chan execution.LateFill

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options holds application options.
type Options struct {
	// SingleAsset restricts the pipeline to one asset for debugging.
	SingleAsset string
}
