package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// ConsoleStorage writes every record through the structured logger and
// retains nothing. It is the fallback when no database is wanted.
type ConsoleStorage struct {
	logger *zap.Logger
}

// NewConsoleStorage creates a log-only storage backend.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	return &ConsoleStorage{logger: logger}
}

// StoreSignal logs the accepted candidate and its score.
func (c *ConsoleStorage) StoreSignal(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) error {
	c.logger.Info("signal-recorded",
		zap.String("id", candidate.ID),
		zap.String("asset", candidate.Asset),
		zap.String("direction", string(candidate.Direction)),
		zap.String("type", string(candidate.Type)),
		zap.Float64("divergence", candidate.Divergence),
		zap.Float64("implied-prob", candidate.ImpliedProb),
		zap.Float64("confidence", score.Value),
		zap.String("tier", string(score.Tier)),
		zap.Bool("override", candidate.Override))
	return nil
}

// StorePosition logs the terminal position.
func (c *ConsoleStorage) StorePosition(ctx context.Context, position *types.Position) error {
	c.logger.Info("position-recorded",
		zap.String("id", position.ID),
		zap.String("asset", position.Asset),
		zap.String("status", string(position.Status)),
		zap.String("direction", string(position.Direction)),
		zap.Float64("entry-price", position.EntryPrice),
		zap.Float64("exit-price", position.ExitPrice),
		zap.Float64("size", position.Size),
		zap.Float64("realized-pnl", position.RealizedPnL),
		zap.String("exit-reason", string(position.ExitReason)),
		zap.Bool("reconciled", position.Reconciled))
	return nil
}

// StoreBreakerEvent logs the breaker state change.
func (c *ConsoleStorage) StoreBreakerEvent(ctx context.Context, event types.BreakerEvent) error {
	c.logger.Info("breaker-event-recorded",
		zap.String("kind", string(event.Kind)),
		zap.String("reason", event.Reason),
		zap.Float64("daily-pnl", event.DailyPnL),
		zap.Int("failed-fills", event.FailedFills),
		zap.Float64("execution-cost", event.ExecutionCost))
	return nil
}

// ClosedPositions always comes back empty; the console backend keeps no
// history.
func (c *ConsoleStorage) ClosedPositions(ctx context.Context, since time.Time) ([]types.Position, error) {
	return nil, nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}
