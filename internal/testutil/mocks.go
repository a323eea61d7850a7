package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/quorumtrade/oraclelag/internal/markets"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

// MockVenueAPI is a mock HTTP server that simulates the venue's market
// metadata REST endpoints.
type MockVenueAPI struct {
	*httptest.Server
	mu        sync.RWMutex
	markets   map[string]markets.MarketInfo
	tickSizes map[string]float64
	minSizes  map[string]float64
}

// NewMockVenueAPI creates a mock venue API server. Tokens without an
// explicit tick or minimum order size report 0.01 and 5.0.
func NewMockVenueAPI() *MockVenueAPI {
	mock := &MockVenueAPI{
		markets:   make(map[string]markets.MarketInfo),
		tickSizes: make(map[string]float64),
		minSizes:  make(map[string]float64),
	}

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.RLock()
		defer mock.mu.RUnlock()

		switch {
		case strings.HasPrefix(r.URL.Path, "/markets/"):
			id := strings.TrimPrefix(r.URL.Path, "/markets/")
			info, ok := mock.markets[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(info)

		case r.URL.Path == "/tick-size":
			size := 0.01
			if s, ok := mock.tickSizes[r.URL.Query().Get("token_id")]; ok {
				size = s
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"minimum_tick_size":%g}`, size)

		case r.URL.Path == "/book":
			size := 5.0
			if s, ok := mock.minSizes[r.URL.Query().Get("token_id")]; ok {
				size = s
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"min_size":%g}`, size)

		default:
			http.NotFound(w, r)
		}
	})

	mock.Server = httptest.NewServer(handler)
	return mock
}

// AddMarket registers a market description under its condition id.
func (m *MockVenueAPI) AddMarket(conditionID string, info markets.MarketInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markets[conditionID] = info
}

// SetTickSize overrides the tick size reported for a token.
func (m *MockVenueAPI) SetTickSize(tokenID string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickSizes[tokenID] = size
}

// SetMinOrderSize overrides the minimum order size reported for a token.
func (m *MockVenueAPI) SetMinOrderSize(tokenID string, size float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.minSizes[tokenID] = size
}

// MemoryStorage is an in-memory Storage implementation for tests. It
// keeps the same idempotency rules as the real backends: replayed
// signal ids are ignored and a position stored twice replaces the
// earlier row.
type MemoryStorage struct {
	mu        sync.Mutex
	signals   []types.SignalCandidate
	scores    []types.ConfidenceScore
	positions []types.Position
	events    []types.BreakerEvent
	closed    bool
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// StoreSignal records a copy of the candidate and its score.
func (m *MemoryStorage) StoreSignal(_ context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.signals {
		if existing.ID == candidate.ID {
			return nil
		}
	}
	m.signals = append(m.signals, *candidate)
	m.scores = append(m.scores, score)
	return nil
}

// StorePosition records a copy of the position, replacing any earlier
// record with the same id.
func (m *MemoryStorage) StorePosition(_ context.Context, position *types.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.positions {
		if existing.ID == position.ID {
			m.positions[i] = *position
			return nil
		}
	}
	m.positions = append(m.positions, *position)
	return nil
}

// StoreBreakerEvent records the event.
func (m *MemoryStorage) StoreBreakerEvent(_ context.Context, event types.BreakerEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// ClosedPositions returns closed positions with an exit at or after
// since, oldest first.
func (m *MemoryStorage) ClosedPositions(_ context.Context, since time.Time) ([]types.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Position
	for _, pos := range m.positions {
		if pos.Status == types.PositionClosed && !pos.ExitTime.Before(since) {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExitTime.Before(out[j].ExitTime) })
	return out, nil
}

// Close marks the storage closed.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MemoryStorage) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// StoredSignals returns a copy of every recorded signal.
func (m *MemoryStorage) StoredSignals() []types.SignalCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.SignalCandidate(nil), m.signals...)
}

// StoredPositions returns a copy of every recorded position.
func (m *MemoryStorage) StoredPositions() []types.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Position(nil), m.positions...)
}

// StoredEvents returns a copy of every recorded breaker event.
func (m *MemoryStorage) StoredEvents() []types.BreakerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.BreakerEvent(nil), m.events...)
}
