package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// SQLiteConfig holds the settings for the embedded SQLite backend.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" keeps everything in process.
	Path   string
	Logger *zap.Logger
}

// SQLiteStorage persists records to an embedded SQLite database. The
// driver is pure Go, so paper-trading runs need no database server.
// Timestamps are stored as unix nanoseconds.
type SQLiteStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS signals (
	id                 TEXT PRIMARY KEY,
	asset              TEXT NOT NULL,
	direction          TEXT NOT NULL,
	signal_type        TEXT NOT NULL,
	divergence         REAL NOT NULL,
	implied_prob       REAL NOT NULL,
	consensus_price    REAL NOT NULL,
	oracle_price       REAL NOT NULL,
	oracle_age_seconds REAL NOT NULL,
	yes_bid            REAL NOT NULL,
	yes_ask            REAL NOT NULL,
	confidence         REAL NOT NULL,
	confidence_tier    TEXT NOT NULL,
	override           INTEGER NOT NULL,
	created_at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	id                 TEXT PRIMARY KEY,
	signal_id          TEXT NOT NULL,
	asset              TEXT NOT NULL,
	market_id          TEXT NOT NULL,
	token_id           TEXT NOT NULL,
	entry_order_id     TEXT NOT NULL,
	direction          TEXT NOT NULL,
	status             TEXT NOT NULL,
	entry_price        REAL NOT NULL,
	size               REAL NOT NULL,
	entry_time         INTEGER NOT NULL,
	confidence         REAL NOT NULL,
	initial_divergence REAL NOT NULL,
	initial_oracle_age REAL NOT NULL,
	max_profit_pct     REAL NOT NULL,
	max_drawdown_pct   REAL NOT NULL,
	exit_price         REAL NOT NULL,
	exit_time          INTEGER NOT NULL,
	exit_reason        TEXT NOT NULL,
	realized_pnl       REAL NOT NULL,
	reconciled         INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS positions_status_exit_time ON positions (status, exit_time);

CREATE TABLE IF NOT EXISTS breaker_events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	kind           TEXT NOT NULL,
	reason         TEXT NOT NULL,
	daily_pnl      REAL NOT NULL,
	failed_fills   INTEGER NOT NULL,
	execution_cost REAL NOT NULL,
	occurred_at    INTEGER NOT NULL
);
`

// NewSQLiteStorage opens or creates the database file and its schema.
func NewSQLiteStorage(cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// The pool must stay at a single connection: SQLite allows one writer,
	// and a second ":memory:" connection would see an empty database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	cfg.Logger.Info("sqlite-storage-opened", zap.String("path", cfg.Path))

	return &SQLiteStorage{db: db, logger: cfg.Logger}, nil
}

// StoreSignal inserts the candidate with its score. A replayed id is
// ignored so retries stay idempotent.
func (s *SQLiteStorage) StoreSignal(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) error {
	var oraclePrice, oracleAge float64
	if candidate.Oracle != nil {
		oraclePrice = candidate.Oracle.Value
		oracleAge = candidate.Oracle.AgeSeconds
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals (
			id, asset, direction, signal_type, divergence, implied_prob,
			consensus_price, oracle_price, oracle_age_seconds,
			yes_bid, yes_ask, confidence, confidence_tier, override, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		candidate.ID,
		candidate.Asset,
		string(candidate.Direction),
		string(candidate.Type),
		candidate.Divergence,
		candidate.ImpliedProb,
		candidate.Consensus.Price,
		oraclePrice,
		oracleAge,
		candidate.Market.YesBid,
		candidate.Market.YesAsk,
		score.Value,
		string(score.Tier),
		candidate.Override,
		unixNanos(candidate.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}

	s.logger.Debug("signal-stored",
		zap.String("id", candidate.ID),
		zap.String("asset", candidate.Asset))

	return nil
}

// StorePosition replaces any earlier row stored under the same id.
func (s *SQLiteStorage) StorePosition(ctx context.Context, position *types.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO positions (
			id, signal_id, asset, market_id, token_id, entry_order_id,
			direction, status, entry_price, size, entry_time, confidence,
			initial_divergence, initial_oracle_age, max_profit_pct,
			max_drawdown_pct, exit_price, exit_time, exit_reason,
			realized_pnl, reconciled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		position.ID,
		position.SignalID,
		position.Asset,
		position.MarketID,
		position.TokenID,
		position.EntryOrderID,
		string(position.Direction),
		string(position.Status),
		position.EntryPrice,
		position.Size,
		unixNanos(position.EntryTime),
		position.Confidence,
		position.InitialDivergence,
		position.InitialOracleAge,
		position.MaxProfitPct,
		position.MaxDrawdownPct,
		position.ExitPrice,
		unixNanos(position.ExitTime),
		string(position.ExitReason),
		position.RealizedPnL,
		position.Reconciled,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	s.logger.Debug("position-stored",
		zap.String("id", position.ID),
		zap.String("status", string(position.Status)))

	return nil
}

// StoreBreakerEvent appends the breaker state change.
func (s *SQLiteStorage) StoreBreakerEvent(ctx context.Context, event types.BreakerEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO breaker_events (
			kind, reason, daily_pnl, failed_fills, execution_cost, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		string(event.Kind),
		event.Reason,
		event.DailyPnL,
		event.FailedFills,
		event.ExecutionCost,
		unixNanos(event.At),
	)
	if err != nil {
		return fmt.Errorf("insert breaker event: %w", err)
	}

	s.logger.Debug("breaker-event-stored", zap.String("kind", string(event.Kind)))

	return nil
}

// ClosedPositions returns closed positions with an exit time at or after
// since, oldest first.
func (s *SQLiteStorage) ClosedPositions(ctx context.Context, since time.Time) ([]types.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signal_id, asset, market_id, token_id, entry_order_id,
			direction, status, entry_price, size, entry_time, confidence,
			initial_divergence, initial_oracle_age, max_profit_pct,
			max_drawdown_pct, exit_price, exit_time, exit_reason,
			realized_pnl, reconciled
		FROM positions
		WHERE status = ? AND exit_time >= ?
		ORDER BY exit_time`,
		string(types.PositionClosed), unixNanos(since))
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		var pos types.Position
		var entryTime, exitTime int64
		if err := rows.Scan(
			&pos.ID, &pos.SignalID, &pos.Asset, &pos.MarketID, &pos.TokenID,
			&pos.EntryOrderID, &pos.Direction, &pos.Status, &pos.EntryPrice,
			&pos.Size, &entryTime, &pos.Confidence, &pos.InitialDivergence,
			&pos.InitialOracleAge, &pos.MaxProfitPct, &pos.MaxDrawdownPct,
			&pos.ExitPrice, &exitTime, &pos.ExitReason, &pos.RealizedPnL,
			&pos.Reconciled,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		pos.EntryTime = fromUnixNanos(entryTime)
		pos.ExitTime = fromUnixNanos(exitTime)
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Close closes the database file.
func (s *SQLiteStorage) Close() error {
	s.logger.Info("closing-sqlite-storage")
	return s.db.Close()
}

// unixNanos flattens t for storage. The zero time maps to 0 so it survives
// a round trip; UnixNano is undefined on the zero value.
func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
