// Package position owns the trade lifecycle: turning scored signal
// candidates into maker entries, monitoring open positions against the
// exit ladder, and archiving the outcome.
//
// The manager keeps at most one live position per asset. Every open
// position is driven by its own monitor goroutine; field writes happen
// under the manager's lock so API readers always see consistent copies.
package position

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/execution"
	"github.com/quorumtrade/oraclelag/internal/markets"
	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

const archiveTimeout = 5 * time.Second

// Executor places maker orders and supervises the bounded entry and
// exit waits.
type Executor interface {
	ExecuteEntry(ctx context.Context, req execution.Request) (*execution.Result, error)
	ExecuteExit(ctx context.Context, req execution.Request) (*execution.Result, error)
}

// MarketSource serves point-in-time prediction-market snapshots.
type MarketSource interface {
	Snapshot(asset string) (types.MarketSnapshot, error)
}

// OracleSource reports oracle state and update-imminence predictions.
type OracleSource interface {
	State(asset string) (types.OracleState, bool)
	Imminent(asset string, consensusPrice float64, now time.Time) bool
}

// ConsensusSource serves the live consensus price, used by the oracle
// imminence deviation trigger.
type ConsensusSource interface {
	Snapshot(asset string) (types.ConsensusSnapshot, error)
}

// Breaker gates new entries and receives realized results.
type Breaker interface {
	AllowEntry() error
	RecordPnL(pnl float64)
}

// Store archives terminal positions.
type Store interface {
	StorePosition(ctx context.Context, position *types.Position) error
}

// MetadataSource serves per-token order constraints.
type MetadataSource interface {
	TokenMetadata(ctx context.Context, tokenID string) (markets.TokenMetadata, error)
}

// HandleSource resolves asset handles and outcome token ids.
type HandleSource interface {
	HandleFor(asset string) (markets.Handle, bool)
	Token(tokenID string) (markets.TokenRef, bool)
}

// Config wires the manager's collaborators and trading parameters.
type Config struct {
	Executor Executor
	Markets  MarketSource
	Oracle   OracleSource
	Breaker  Breaker
	Registry HandleSource

	// Consensus, Store and Metadata are optional. Without consensus the
	// imminence check falls back to the heartbeat schedule alone; without
	// metadata the configured TickSize is used for every token.
	Consensus ConsensusSource
	Store     Store
	Metadata  MetadataSource

	Assets        map[string]config.AssetParams
	PositionSize  float64
	MinConfidence float64

	MonitorInterval time.Duration
	SettleDelay     time.Duration

	SpreadExitThreshold float64
	EmergencyTimeLimit  time.Duration
	OracleImminentAge   time.Duration
	TPOracleAgeFactor   float64
	TPOracleAgeTrigger  time.Duration
	TPDivergenceFactor  float64
	TPDivergenceTrigger float64
	CollapseRelative    float64
	CollapseFloor       float64

	TickSize           float64
	MinSpreadToImprove float64
	CloseRetries       int

	// Events receives lifecycle transitions; sends never block.
	Events chan<- types.PositionEvent

	// LateFills is the execution controller's reconciliation stream.
	LateFills <-chan execution.LateFill

	Logger *zap.Logger
}

// Manager runs the position state machine for every traded asset.
type Manager struct {
	config Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	table map[string]*types.Position
}

// New creates a position manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Markets == nil {
		return nil, fmt.Errorf("market source is required")
	}
	if cfg.Oracle == nil {
		return nil, fmt.Errorf("oracle source is required")
	}
	if cfg.Breaker == nil {
		return nil, fmt.Errorf("circuit breaker is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("market registry is required")
	}
	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("at least one asset must be configured")
	}
	if cfg.PositionSize <= 0 {
		return nil, fmt.Errorf("position size must be positive, got %f", cfg.PositionSize)
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		return nil, fmt.Errorf("minimum confidence must be between 0 and 1, got %f", cfg.MinConfidence)
	}
	if cfg.MonitorInterval <= 0 {
		return nil, fmt.Errorf("monitor interval must be positive, got %s", cfg.MonitorInterval)
	}
	if cfg.TickSize <= 0 {
		return nil, fmt.Errorf("tick size must be positive, got %f", cfg.TickSize)
	}
	if cfg.CloseRetries < 1 {
		return nil, fmt.Errorf("close retries must be at least 1, got %d", cfg.CloseRetries)
	}

	return &Manager{
		config: cfg,
		logger: cfg.Logger,
		table:  make(map[string]*types.Position),
	}, nil
}

// Start begins consuming late-fill reconciliations. Must be called
// before Open.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	if m.config.LateFills != nil {
		m.wg.Add(1)
		go m.reconcileLoop()
	}
	m.logger.Info("position-manager-started",
		zap.Float64("position-size", m.config.PositionSize),
		zap.Float64("min-confidence", m.config.MinConfidence),
		zap.Duration("monitor-interval", m.config.MonitorInterval))
	return nil
}

// Close stops every monitor goroutine and waits for them to drain.
// Positions that are still live stay in the table for inspection.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("position-manager-stopped", zap.Int("live-positions", m.Count()))
	return nil
}

// Open attempts to turn a scored candidate into a live position. The
// entry is always a post-only maker order; a candidate whose entry
// window passes without a fill is archived as rejected and never
// retried with a taker.
func (m *Manager) Open(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) (types.Position, error) {
	asset := candidate.Asset

	if score.Value < m.config.MinConfidence {
		OpenRejectionsTotal.WithLabelValues(string(types.RejectLowConfidence)).Inc()
		return types.Position{}, fmt.Errorf("confidence %.3f below minimum %.3f", score.Value, m.config.MinConfidence)
	}

	params, ok := m.config.Assets[asset]
	if !ok {
		return types.Position{}, fmt.Errorf("asset %s: no parameters configured", asset)
	}
	handle, ok := m.config.Registry.HandleFor(asset)
	if !ok {
		return types.Position{}, fmt.Errorf("asset %s: %w", asset, types.ErrMarketNotFound)
	}

	tokenID := handle.YesTokenID
	if candidate.Direction == types.DirectionDown {
		tokenID = handle.NoTokenID
	}

	tick := m.tickSize(ctx, tokenID)
	entryPrice := makerPrice(&candidate.Market, candidate.Direction, tick, m.config.MinSpreadToImprove)
	if entryPrice < params.EntryPriceMin || entryPrice > params.EntryPriceMax {
		OpenRejectionsTotal.WithLabelValues(string(types.RejectEntryPriceRange)).Inc()
		return types.Position{}, fmt.Errorf("entry price %.3f outside [%.2f, %.2f] for %s",
			entryPrice, params.EntryPriceMin, params.EntryPriceMax, asset)
	}

	if err := m.config.Breaker.AllowEntry(); err != nil {
		OpenRejectionsTotal.WithLabelValues("breaker_tripped").Inc()
		return types.Position{}, err
	}

	position := &types.Position{
		ID:                uuid.NewString(),
		SignalID:          candidate.ID,
		Asset:             asset,
		MarketID:          handle.MarketID,
		TokenID:           tokenID,
		Direction:         candidate.Direction,
		Status:            types.PositionPending,
		Confidence:        score.Value,
		InitialDivergence: candidate.Divergence,
	}
	if candidate.Oracle != nil {
		position.InitialOracleAge = candidate.Oracle.AgeSeconds
	}

	m.mu.Lock()
	if _, exists := m.table[asset]; exists {
		m.mu.Unlock()
		OpenRejectionsTotal.WithLabelValues("position_exists").Inc()
		return types.Position{}, fmt.Errorf("asset %s: %w", asset, types.ErrPositionExists)
	}
	m.table[asset] = position
	m.mu.Unlock()

	result, err := m.config.Executor.ExecuteEntry(ctx, execution.Request{
		MarketID:    handle.MarketID,
		TokenID:     tokenID,
		Side:        types.OrderBuy,
		Price:       entryPrice,
		Size:        m.config.PositionSize / entryPrice,
		InitialEdge: candidate.Divergence,
		EdgeCheck:   m.edgeCheck(asset, candidate),
	})
	if err != nil {
		m.drop(asset)
		return types.Position{}, fmt.Errorf("entry execution: %w", err)
	}

	switch {
	case result.Outcome == execution.OutcomeFilled:
		return m.activate(position, result, false), nil
	case result.LateFill:
		// The resting order filled while being taken down. The tokens
		// are held either way, so the position opens as reconciled.
		return m.activate(position, result, true), nil
	default:
		m.drop(asset)
		m.finalizeRejected(position, result.Outcome)
		if result.Outcome == execution.OutcomeCollapsed {
			return types.Position{}, fmt.Errorf("asset %s: %w", asset, types.ErrEdgeCollapsed)
		}
		return types.Position{}, fmt.Errorf("asset %s: %w", asset, types.ErrNoFill)
	}
}

// Positions returns copies of every live (pending, open, closing)
// position.
func (m *Manager) Positions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Position, 0, len(m.table))
	for _, p := range m.table {
		out = append(out, *p)
	}
	return out
}

// Active returns a copy of the live position for an asset.
func (m *Manager) Active(asset string) (types.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.table[asset]
	if !ok {
		return types.Position{}, false
	}
	return *p, true
}

// Count returns the number of live positions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.table)
}

func (m *Manager) activate(position *types.Position, result *execution.Result, reconciled bool) types.Position {
	m.mu.Lock()
	position.Status = types.PositionOpen
	position.EntryOrderID = result.OrderID
	position.EntryPrice = result.FillPrice
	position.Size = result.FilledSize
	position.EntryTime = time.Now()
	position.Reconciled = reconciled
	snapshot := *position
	m.mu.Unlock()

	OpenPositions.Inc()
	PositionsOpenedTotal.Inc()
	if reconciled {
		ReconciledPositionsTotal.Inc()
	}
	m.logger.Info("position-opened",
		zap.String("id", snapshot.ID),
		zap.String("asset", snapshot.Asset),
		zap.String("direction", string(snapshot.Direction)),
		zap.Float64("entry-price", snapshot.EntryPrice),
		zap.Float64("contracts", snapshot.Size),
		zap.Float64("confidence", snapshot.Confidence),
		zap.Bool("reconciled", snapshot.Reconciled))
	m.emit(types.PositionEventOpened, snapshot)

	m.wg.Add(1)
	go m.monitor(position)
	return snapshot
}

func (m *Manager) finalizeRejected(position *types.Position, outcome execution.Outcome) {
	position.Status = types.PositionRejected
	OpenRejectionsTotal.WithLabelValues(string(outcome)).Inc()
	m.logger.Info("entry-not-filled",
		zap.String("asset", position.Asset),
		zap.String("signal-id", position.SignalID),
		zap.String("outcome", string(outcome)))
	m.archive(position)
	m.emit(types.PositionEventRejected, *position)
}

// edgeCheck rebuilds the live edge as the gap between the candidate's
// implied probability and the current market YES price. The market
// moving onto the implied value is exactly the decay the entry wait
// abandons on.
func (m *Manager) edgeCheck(asset string, candidate *types.SignalCandidate) func() float64 {
	implied := candidate.ImpliedProb
	entryEdge := candidate.Divergence
	return func() float64 {
		snapshot, err := m.config.Markets.Snapshot(asset)
		if err != nil {
			return entryEdge
		}
		return math.Abs(implied - snapshot.YesBid)
	}
}

func (m *Manager) tickSize(ctx context.Context, tokenID string) float64 {
	if m.config.Metadata == nil {
		return m.config.TickSize
	}
	meta, err := m.config.Metadata.TokenMetadata(ctx, tokenID)
	if err != nil || meta.TickSize <= 0 {
		return m.config.TickSize
	}
	return meta.TickSize
}

func (m *Manager) drop(asset string) {
	m.mu.Lock()
	delete(m.table, asset)
	m.mu.Unlock()
}

func (m *Manager) archive(position *types.Position) {
	if m.config.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := m.config.Store.StorePosition(ctx, position); err != nil {
		m.logger.Error("position-archive-failed",
			zap.String("id", position.ID),
			zap.Error(err))
	}
}

func (m *Manager) emit(kind types.PositionEventKind, position types.Position) {
	if m.config.Events == nil {
		return
	}
	event := types.PositionEvent{Kind: kind, Position: position, At: time.Now()}
	select {
	case m.config.Events <- event:
	default:
		m.logger.Warn("position-event-dropped",
			zap.String("kind", string(kind)),
			zap.String("id", position.ID))
	}
}

// makerPrice picks the entry limit for the side being bought: improve
// the touch by one tick when the spread leaves room, otherwise join the
// bid. The price never reaches the ask, keeping the order post-only
// safe.
func makerPrice(snapshot *types.MarketSnapshot, direction types.Direction, tick, minSpreadToImprove float64) float64 {
	bid := snapshot.SideBid(direction)
	ask := snapshot.SideAsk(direction)
	if ask-bid >= minSpreadToImprove {
		if improved := bid + tick; improved < ask {
			return improved
		}
	}
	return bid
}
