package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Shutdown stops the pipeline in dependency order: stop producing
// signals first, then close positions' machinery, then the data layers
// that everything above reads from, storage last so every archive
// drains.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady("pipeline", false)

	// Stops the pipeline goroutines, the event drain and every
	// component started with a.ctx.
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	err = a.positions.Close()
	if err != nil {
		a.logger.Error("position-manager-close-error", zap.Error(err))
	}

	err = a.oracleTracker.Close()
	if err != nil {
		a.logger.Error("oracle-tracker-close-error", zap.Error(err))
	}

	err = a.books.Close()
	if err != nil {
		a.logger.Error("market-data-close-error", zap.Error(err))
	}

	err = a.venueStream.Close()
	if err != nil {
		a.logger.Error("venue-stream-close-error", zap.Error(err))
	}

	err = a.feedSup.Close()
	if err != nil {
		a.logger.Error("feed-supervisor-close-error", zap.Error(err))
	}

	a.wg.Wait()

	// The writer drains its queue into the backend, then closes the
	// backend itself.
	err = a.writer.Close()
	if err != nil {
		a.logger.Error("storage-close-error", zap.Error(err))
	}

	a.logger.Info("application-shutdown-complete")

	return nil
}
