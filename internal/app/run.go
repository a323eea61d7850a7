package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const breakerEventTimeout = 5 * time.Second

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("mode", a.cfg.TradingMode),
		zap.Strings("assets", a.assets),
		zap.Strings("feed-sources", a.cfg.FeedSources),
		zap.String("storage", a.cfg.StorageBackend),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.startComponents()
	if err != nil {
		return err
	}

	a.registerHealthChecks()

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.Duration("pipeline-interval", a.cfg.PipelineInterval))

	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	a.wg.Add(1)
	go a.runHTTPServer()

	err := a.feedSup.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start feed supervisor: %w", err)
	}

	err = a.venueStream.Start()
	if err != nil {
		return fmt.Errorf("start venue stream: %w", err)
	}

	err = a.books.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start market data manager: %w", err)
	}

	err = a.oracleTracker.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start oracle tracker: %w", err)
	}

	err = a.positions.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start position manager: %w", err)
	}

	if a.walletTracker != nil {
		a.wg.Add(1)
		go a.runWalletTracker()
	}

	a.wg.Add(1)
	go a.runEvents()

	for _, asset := range a.assets {
		a.wg.Add(1)
		go a.runPipeline(asset)
	}

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) runWalletTracker() {
	defer a.wg.Done()
	err := a.walletTracker.Run(a.ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("wallet-tracker-error", zap.Error(err))
	}
}

func (a *App) runPipeline(asset string) {
	defer a.wg.Done()
	a.pipeline.run(a.ctx, asset)
}

// runEvents drains the lifecycle channels: breaker transitions are
// persisted, position transitions logged. Components emit without
// blocking, so a stalled consumer here costs events, never trades.
func (a *App) runEvents() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case event := <-a.breakerEvents:
			ctx, cancel := context.WithTimeout(context.Background(), breakerEventTimeout)
			err := a.writer.StoreBreakerEvent(ctx, event)
			cancel()
			if err != nil {
				a.logger.Error("breaker-event-archive-failed", zap.Error(err))
			}
		case event := <-a.positionEvents:
			a.logger.Debug("position-lifecycle-event",
				zap.String("kind", string(event.Kind)),
				zap.String("id", event.Position.ID),
				zap.String("asset", event.Position.Asset),
				zap.String("status", string(event.Position.Status)))
		}
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
