package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// PostgresConfig holds the connection settings for the Postgres backend.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	SSLMode  string
	Logger   *zap.Logger
}

// PostgresStorage persists records to a PostgreSQL database.
type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS signals (
	id                 TEXT PRIMARY KEY,
	asset              TEXT NOT NULL,
	direction          TEXT NOT NULL,
	signal_type        TEXT NOT NULL,
	divergence         DOUBLE PRECISION NOT NULL,
	implied_prob       DOUBLE PRECISION NOT NULL,
	consensus_price    DOUBLE PRECISION NOT NULL,
	oracle_price       DOUBLE PRECISION NOT NULL,
	oracle_age_seconds DOUBLE PRECISION NOT NULL,
	yes_bid            DOUBLE PRECISION NOT NULL,
	yes_ask            DOUBLE PRECISION NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	confidence_tier    TEXT NOT NULL,
	override           BOOLEAN NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
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
	entry_price        DOUBLE PRECISION NOT NULL,
	size               DOUBLE PRECISION NOT NULL,
	entry_time         TIMESTAMPTZ NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	initial_divergence DOUBLE PRECISION NOT NULL,
	initial_oracle_age DOUBLE PRECISION NOT NULL,
	max_profit_pct     DOUBLE PRECISION NOT NULL,
	max_drawdown_pct   DOUBLE PRECISION NOT NULL,
	exit_price         DOUBLE PRECISION NOT NULL,
	exit_time          TIMESTAMPTZ NOT NULL,
	exit_reason        TEXT NOT NULL,
	realized_pnl       DOUBLE PRECISION NOT NULL,
	reconciled         BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS positions_status_exit_time ON positions (status, exit_time);

CREATE TABLE IF NOT EXISTS breaker_events (
	id             BIGSERIAL PRIMARY KEY,
	kind           TEXT NOT NULL,
	reason         TEXT NOT NULL,
	daily_pnl      DOUBLE PRECISION NOT NULL,
	failed_fills   INTEGER NOT NULL,
	execution_cost DOUBLE PRECISION NOT NULL,
	occurred_at    TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStorage connects, verifies the connection and creates the
// schema when it is missing.
func NewPostgresStorage(cfg PostgresConfig) (*PostgresStorage, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &PostgresStorage{db: db, logger: cfg.Logger}
	if _, err := db.Exec(postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	cfg.Logger.Info("postgres-storage-connected",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database))

	return p, nil
}

// StoreSignal inserts the candidate with its score. A replayed id is
// ignored so retries stay idempotent.
func (p *PostgresStorage) StoreSignal(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) error {
	var oraclePrice, oracleAge float64
	if candidate.Oracle != nil {
		oraclePrice = candidate.Oracle.Value
		oracleAge = candidate.Oracle.AgeSeconds
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO signals (
			id, asset, direction, signal_type, divergence, implied_prob,
			consensus_price, oracle_price, oracle_age_seconds,
			yes_bid, yes_ask, confidence, confidence_tier, override, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`,
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
		candidate.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}

	p.logger.Debug("signal-stored",
		zap.String("id", candidate.ID),
		zap.String("asset", candidate.Asset))

	return nil
}

// StorePosition upserts the position so a later terminal state replaces an
// earlier one under the same id.
func (p *PostgresStorage) StorePosition(ctx context.Context, position *types.Position) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO positions (
			id, signal_id, asset, market_id, token_id, entry_order_id,
			direction, status, entry_price, size, entry_time, confidence,
			initial_divergence, initial_oracle_age, max_profit_pct,
			max_drawdown_pct, exit_price, exit_time, exit_reason,
			realized_pnl, reconciled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			max_profit_pct = EXCLUDED.max_profit_pct,
			max_drawdown_pct = EXCLUDED.max_drawdown_pct,
			exit_price = EXCLUDED.exit_price,
			exit_time = EXCLUDED.exit_time,
			exit_reason = EXCLUDED.exit_reason,
			realized_pnl = EXCLUDED.realized_pnl,
			reconciled = EXCLUDED.reconciled`,
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
		position.EntryTime,
		position.Confidence,
		position.InitialDivergence,
		position.InitialOracleAge,
		position.MaxProfitPct,
		position.MaxDrawdownPct,
		position.ExitPrice,
		position.ExitTime,
		string(position.ExitReason),
		position.RealizedPnL,
		position.Reconciled,
	)
	if err != nil {
		return fmt.Errorf("insert position: %w", err)
	}

	p.logger.Debug("position-stored",
		zap.String("id", position.ID),
		zap.String("status", string(position.Status)))

	return nil
}

// StoreBreakerEvent appends the breaker state change.
func (p *PostgresStorage) StoreBreakerEvent(ctx context.Context, event types.BreakerEvent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO breaker_events (
			kind, reason, daily_pnl, failed_fills, execution_cost, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(event.Kind),
		event.Reason,
		event.DailyPnL,
		event.FailedFills,
		event.ExecutionCost,
		event.At,
	)
	if err != nil {
		return fmt.Errorf("insert breaker event: %w", err)
	}

	p.logger.Debug("breaker-event-stored", zap.String("kind", string(event.Kind)))

	return nil
}

// ClosedPositions returns closed positions with an exit time at or after
// since, oldest first.
func (p *PostgresStorage) ClosedPositions(ctx context.Context, since time.Time) ([]types.Position, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, signal_id, asset, market_id, token_id, entry_order_id,
			direction, status, entry_price, size, entry_time, confidence,
			initial_divergence, initial_oracle_age, max_profit_pct,
			max_drawdown_pct, exit_price, exit_time, exit_reason,
			realized_pnl, reconciled
		FROM positions
		WHERE status = $1 AND exit_time >= $2
		ORDER BY exit_time`,
		string(types.PositionClosed), since)
	if err != nil {
		return nil, fmt.Errorf("query closed positions: %w", err)
	}
	defer rows.Close()

	var positions []types.Position
	for rows.Next() {
		var pos types.Position
		if err := rows.Scan(
			&pos.ID, &pos.SignalID, &pos.Asset, &pos.MarketID, &pos.TokenID,
			&pos.EntryOrderID, &pos.Direction, &pos.Status, &pos.EntryPrice,
			&pos.Size, &pos.EntryTime, &pos.Confidence, &pos.InitialDivergence,
			&pos.InitialOracleAge, &pos.MaxProfitPct, &pos.MaxDrawdownPct,
			&pos.ExitPrice, &pos.ExitTime, &pos.ExitReason, &pos.RealizedPnL,
			&pos.Reconciled,
		); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// Close closes the database connection.
func (p *PostgresStorage) Close() error {
	p.logger.Info("closing-postgres-storage")
	return p.db.Close()
}
