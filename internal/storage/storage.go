// Package storage persists the pipeline's durable records: accepted
// signals, terminal positions and circuit breaker state changes. The
// console backend only logs, SQLite keeps a local file for paper-trading
// runs, and Postgres serves deployments that outlive one process.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

// Storage is the persistence contract shared by every backend. Writes are
// synchronous at this level; wrap a backend in a Writer to buffer them off
// the trading path.
type Storage interface {
	// StoreSignal records an accepted candidate together with the
	// confidence it scored.
	StoreSignal(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) error

	// StorePosition records a position in a terminal state. Storing the
	// same position id again replaces the earlier row.
	StorePosition(ctx context.Context, position *types.Position) error

	// StoreBreakerEvent records a circuit breaker trip or reset.
	StoreBreakerEvent(ctx context.Context, event types.BreakerEvent) error

	// ClosedPositions returns closed positions whose exit time is at or
	// after since, oldest first.
	ClosedPositions(ctx context.Context, since time.Time) ([]types.Position, error)

	Close() error
}

// Open constructs the backend named by cfg.StorageBackend.
func Open(cfg *config.Config, logger *zap.Logger) (Storage, error) {
	switch cfg.StorageBackend {
	case "console":
		return NewConsoleStorage(logger), nil
	case "sqlite":
		return NewSQLiteStorage(SQLiteConfig{
			Path:   cfg.SQLitePath,
			Logger: logger,
		})
	case "postgres":
		return NewPostgresStorage(PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
