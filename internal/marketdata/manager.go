package marketdata

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/markets"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

const (
	// liquidityLookback is how far back the depth reference for
	// collapse detection reaches.
	liquidityLookback = 30 * time.Second
	// liquidityHistoryAge bounds the per-book liquidity ring.
	liquidityHistoryAge = 45 * time.Second
)

// Config holds market data manager configuration.
type Config struct {
	Logger   *zap.Logger
	Registry *markets.Registry
	// Messages carries raw frames from the venue market stream.
	Messages <-chan []byte
}

// Manager consumes venue book events and serves composed market
// snapshots per asset. It owns full depth per outcome token so the
// staleness clock moves when the best level is consumed, not only when
// a new quote arrives.
type Manager struct {
	config   Config
	logger   *zap.Logger
	registry *markets.Registry
	msgChan  <-chan []byte
	mu       sync.RWMutex
	books    map[string]*bookState
	ctx      context.Context
	wg       sync.WaitGroup
}

type bookState struct {
	tokenID     string
	bids        map[string]float64
	asks        map[string]float64
	bestBid     float64
	bestBidSize float64
	bestAsk     float64
	bestAskSize float64
	lastChange  time.Time
	lastUpdate  time.Time
	liquidity   []liquidityPoint
}

type liquidityPoint struct {
	at    time.Time
	value float64
}

// New creates a new market data manager.
func New(cfg Config) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Messages == nil {
		return nil, fmt.Errorf("message channel is required")
	}

	return &Manager{
		config:   cfg,
		logger:   cfg.Logger,
		registry: cfg.Registry,
		msgChan:  cfg.Messages,
		books:    make(map[string]*bookState),
	}, nil
}

// Start starts consuming the venue stream.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx = ctx
	m.logger.Info("marketdata-manager-starting")

	m.wg.Add(1)
	go m.processMessages()

	return nil
}

// Close waits for the message loop to exit.
func (m *Manager) Close() error {
	m.wg.Wait()
	m.logger.Info("marketdata-manager-closed")
	return nil
}

func (m *Manager) processMessages() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("marketdata-manager-stopping")
			return
		case frame, ok := <-m.msgChan:
			if !ok {
				m.logger.Info("marketdata-stream-closed")
				return
			}
			m.handleFrame(frame, time.Now())
		}
	}
}

// handleFrame parses one websocket frame, which carries either a single
// event or an array of events.
func (m *Manager) handleFrame(frame []byte, now time.Time) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return
	}

	var events []types.BookEvent
	if frame[0] == '[' {
		if err := json.Unmarshal(frame, &events); err != nil {
			ParseErrorsTotal.Inc()
			m.logger.Warn("marketdata-parse-failed", zap.Error(err))
			return
		}
	} else {
		var event types.BookEvent
		if err := json.Unmarshal(frame, &event); err != nil {
			ParseErrorsTotal.Inc()
			m.logger.Warn("marketdata-parse-failed", zap.Error(err))
			return
		}
		events = append(events, event)
	}

	for i := range events {
		m.handleEvent(&events[i], now)
	}
}

func (m *Manager) handleEvent(event *types.BookEvent, now time.Time) {
	EventsTotal.WithLabelValues(event.EventType).Inc()

	switch event.EventType {
	case "book":
		m.applyBook(event, now)
	case "price_change":
		m.applyPriceChange(event, now)
	default:
		// last_trade_price, tick_size_change and friends carry nothing
		// the snapshot needs.
	}
}

// applyBook replaces the full depth for a token.
func (m *Manager) applyBook(event *types.BookEvent, now time.Time) {
	if _, known := m.registry.Token(event.AssetID); !known {
		return
	}

	bids := make(map[string]float64, len(event.Bids))
	for _, level := range event.Bids {
		price, size, err := parseLevel(level)
		if err != nil {
			ParseErrorsTotal.Inc()
			continue
		}
		if size > 0 && price > 0 {
			bids[level.Price] = size
		}
	}
	asks := make(map[string]float64, len(event.Asks))
	for _, level := range event.Asks {
		price, size, err := parseLevel(level)
		if err != nil {
			ParseErrorsTotal.Inc()
			continue
		}
		if size > 0 && price > 0 {
			asks[level.Price] = size
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.stateFor(event.AssetID)
	state.bids = bids
	state.asks = asks
	state.refresh(now)
	BooksTracked.Set(float64(len(m.books)))
}

// applyPriceChange folds level updates into the depth. A zero size
// removes the level; consuming the whole best level therefore moves the
// quoted price and resets the staleness clock.
func (m *Manager) applyPriceChange(event *types.BookEvent, now time.Time) {
	if _, known := m.registry.Token(event.AssetID); !known {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, exists := m.books[event.AssetID]
	if !exists {
		// Deltas before the first snapshot cannot be applied safely.
		m.logger.Debug("price-change-before-book", zap.String("token-id", event.AssetID))
		return
	}

	applyLevels(state.bids, event.Bids)
	applyLevels(state.asks, event.Asks)
	state.refresh(now)
}

func applyLevels(depth map[string]float64, levels []types.PriceLevel) {
	for _, level := range levels {
		price, size, err := parseLevel(level)
		if err != nil {
			ParseErrorsTotal.Inc()
			continue
		}
		if price <= 0 {
			continue
		}
		if size <= 0 {
			delete(depth, level.Price)
		} else {
			depth[level.Price] = size
		}
	}
}

func parseLevel(level types.PriceLevel) (float64, float64, error) {
	price, err := strconv.ParseFloat(level.Price, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse price: %w", err)
	}
	size, err := strconv.ParseFloat(level.Size, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse size: %w", err)
	}
	return price, size, nil
}

func (m *Manager) stateFor(tokenID string) *bookState {
	state, ok := m.books[tokenID]
	if !ok {
		state = &bookState{
			tokenID: tokenID,
			bids:    make(map[string]float64),
			asks:    make(map[string]float64),
		}
		m.books[tokenID] = state
	}
	return state
}

// refresh recomputes the best levels, advances the price-change clock
// when a best price moved, and records the liquidity sample.
func (s *bookState) refresh(now time.Time) {
	prevBid, prevAsk := s.bestBid, s.bestAsk

	s.bestBid, s.bestBidSize = bestLevel(s.bids, true)
	s.bestAsk, s.bestAskSize = bestLevel(s.asks, false)

	if s.lastChange.IsZero() || s.bestBid != prevBid || s.bestAsk != prevAsk {
		s.lastChange = now
	}
	s.lastUpdate = now

	s.liquidity = append(s.liquidity, liquidityPoint{
		at:    now,
		value: s.bestAsk * s.bestAskSize,
	})
	cutoff := now.Add(-liquidityHistoryAge)
	drop := 0
	for drop < len(s.liquidity) && s.liquidity[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		s.liquidity = append(s.liquidity[:0], s.liquidity[drop:]...)
	}
}

func bestLevel(depth map[string]float64, highest bool) (float64, float64) {
	var bestPrice, bestSize float64
	first := true
	for priceStr, size := range depth {
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			continue
		}
		if first || (highest && price > bestPrice) || (!highest && price < bestPrice) {
			bestPrice, bestSize = price, size
			first = false
		}
	}
	return bestPrice, bestSize
}

// liquidityAt returns the liquidity sample at or before t, 0 when the
// ring does not reach back that far.
func (s *bookState) liquidityAt(t time.Time) float64 {
	for i := len(s.liquidity) - 1; i >= 0; i-- {
		if !s.liquidity[i].at.After(t) {
			return s.liquidity[i].value
		}
	}
	return 0
}

// Snapshot composes the current market snapshot for an asset from its
// two outcome books. It returns types.ErrBookUnavailable until both
// books have a two-sided quote.
func (m *Manager) Snapshot(asset string) (types.MarketSnapshot, error) {
	return m.snapshotAt(asset, time.Now())
}

func (m *Manager) snapshotAt(asset string, now time.Time) (types.MarketSnapshot, error) {
	handle, ok := m.registry.HandleFor(asset)
	if !ok {
		return types.MarketSnapshot{}, fmt.Errorf("asset %s: %w", asset, types.ErrMarketNotFound)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	yes, yesOK := m.books[handle.YesTokenID]
	no, noOK := m.books[handle.NoTokenID]
	if !yesOK || !noOK || !yes.twoSided() || !no.twoSided() {
		return types.MarketSnapshot{}, fmt.Errorf("asset %s: %w", asset, types.ErrBookUnavailable)
	}

	lastChange := yes.lastChange
	if no.lastChange.After(lastChange) {
		lastChange = no.lastChange
	}

	var imbalance float64
	if total := yes.bestBidSize + yes.bestAskSize; total > 0 {
		imbalance = (yes.bestBidSize - yes.bestAskSize) / total
	}

	snapshot := types.MarketSnapshot{
		MarketID:        handle.MarketID,
		Asset:           asset,
		YesBid:          yes.bestBid,
		YesAsk:          yes.bestAsk,
		NoBid:           no.bestBid,
		NoAsk:           no.bestAsk,
		YesLiquidity:    yes.bestAsk * yes.bestAskSize,
		NoLiquidity:     no.bestAsk * no.bestAskSize,
		Imbalance:       imbalance,
		YesLiquidity30s: yes.liquidityAt(now.Add(-liquidityLookback)),
		NoLiquidity30s:  no.liquidityAt(now.Add(-liquidityLookback)),
		BookAge:         now.Sub(lastChange),
		Timestamp:       now,
	}

	BookAgeSeconds.WithLabelValues(asset).Set(snapshot.BookAge.Seconds())

	return snapshot, nil
}

func (s *bookState) twoSided() bool {
	return s.bestBid > 0 && s.bestAsk > 0
}

// Quote is the current top of book for one outcome token.
type Quote struct {
	Bid     float64
	Ask     float64
	BidSize float64
	AskSize float64
	At      time.Time
}

// TokenQuote returns the top of book for an outcome token.
func (m *Manager) TokenQuote(tokenID string) (Quote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.books[tokenID]
	if !ok || !state.twoSided() {
		return Quote{}, false
	}
	return Quote{
		Bid:     state.bestBid,
		Ask:     state.bestAsk,
		BidSize: state.bestBidSize,
		AskSize: state.bestAskSize,
		At:      state.lastUpdate,
	}, true
}
