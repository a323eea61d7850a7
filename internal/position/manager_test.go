package position

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/quorumtrade/oraclelag/internal/execution"
	"github.com/quorumtrade/oraclelag/internal/markets"
	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

type stubExecutor struct {
	mu          sync.Mutex
	entryResult *execution.Result
	entryErr    error
	exitResults []*execution.Result
	entries     []execution.Request
	exits       []execution.Request
}

func (s *stubExecutor) ExecuteEntry(_ context.Context, req execution.Request) (*execution.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, req)
	if s.entryErr != nil {
		return nil, s.entryErr
	}
	result := *s.entryResult
	return &result, nil
}

func (s *stubExecutor) ExecuteExit(_ context.Context, req execution.Request) (*execution.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exits = append(s.exits, req)
	if len(s.exitResults) == 0 {
		return &execution.Result{Outcome: execution.OutcomeTimeout}, nil
	}
	result := *s.exitResults[0]
	if len(s.exitResults) > 1 {
		s.exitResults = s.exitResults[1:]
	}
	return &result, nil
}

func (s *stubExecutor) queueExits(results ...*execution.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exitResults = results
}

func (s *stubExecutor) entryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *stubExecutor) exitRequests() []execution.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]execution.Request, len(s.exits))
	copy(out, s.exits)
	return out
}

type stubQuotes struct {
	mu   sync.Mutex
	snap types.MarketSnapshot
	err  error
}

func (s *stubQuotes) Snapshot(string) (types.MarketSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return types.MarketSnapshot{}, s.err
	}
	return s.snap, nil
}

func (s *stubQuotes) set(snap types.MarketSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

func (s *stubQuotes) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type stubOracle struct {
	mu       sync.Mutex
	state    types.OracleState
	ok       bool
	imminent bool
}

func (s *stubOracle) State(string) (types.OracleState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.ok
}

func (s *stubOracle) Imminent(string, float64, time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imminent
}

func (s *stubOracle) setAge(age float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.AgeSeconds = age
}

type stubBreaker struct {
	mu         sync.Mutex
	entryErr   error
	allowCalls int
	pnls       []float64
}

func (s *stubBreaker) AllowEntry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowCalls++
	return s.entryErr
}

func (s *stubBreaker) RecordPnL(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pnls = append(s.pnls, pnl)
}

func (s *stubBreaker) recorded() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float64, len(s.pnls))
	copy(out, s.pnls)
	return out
}

type stubStore struct {
	mu        sync.Mutex
	positions []types.Position
}

func (s *stubStore) StorePosition(_ context.Context, position *types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, *position)
	return nil
}

func (s *stubStore) archived() []types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, len(s.positions))
	copy(out, s.positions)
	return out
}

type stubRegistry struct {
	handle markets.Handle
}

func (s *stubRegistry) HandleFor(asset string) (markets.Handle, bool) {
	if asset != s.handle.Asset {
		return markets.Handle{}, false
	}
	return s.handle, true
}

func (s *stubRegistry) Token(tokenID string) (markets.TokenRef, bool) {
	switch tokenID {
	case s.handle.YesTokenID:
		return markets.TokenRef{Asset: s.handle.Asset, MarketID: s.handle.MarketID, Direction: types.DirectionUp}, true
	case s.handle.NoTokenID:
		return markets.TokenRef{Asset: s.handle.Asset, MarketID: s.handle.MarketID, Direction: types.DirectionDown}, true
	}
	return markets.TokenRef{}, false
}

type stubMetadata struct {
	tick float64
}

func (s *stubMetadata) TokenMetadata(context.Context, string) (markets.TokenMetadata, error) {
	return markets.TokenMetadata{TickSize: s.tick, MinOrderSize: 5, FetchedAt: time.Now()}, nil
}

type fixture struct {
	executor *stubExecutor
	quotes   *stubQuotes
	oracle   *stubOracle
	breaker  *stubBreaker
	store    *stubStore
	manager  *Manager
}

func btcParams() config.AssetParams {
	return config.AssetParams{
		Scale:               100,
		MinDivergence:       0.03,
		MinMove:             0.0015,
		MinLiquidity:        50,
		StalenessMinSeconds: 4,
		StalenessMaxSeconds: 10,
		TakeProfit:          0.08,
		StopLoss:            0.03,
		TimeLimitSeconds:    90,
		EntryPriceMin:       0.10,
		EntryPriceMax:       0.90,
	}
}

func baseSnapshot() types.MarketSnapshot {
	return types.MarketSnapshot{
		MarketID:        "mkt-1",
		Asset:           "BTC",
		YesBid:          0.50,
		YesAsk:          0.53,
		NoBid:           0.47,
		NoAsk:           0.50,
		YesLiquidity:    100,
		NoLiquidity:     90,
		YesLiquidity30s: 120,
		NoLiquidity30s:  100,
		BookAge:         6 * time.Second,
		Timestamp:       time.Now(),
	}
}

func baseCandidate() *types.SignalCandidate {
	return &types.SignalCandidate{
		ID:          "sig-1",
		Asset:       "BTC",
		Direction:   types.DirectionUp,
		Divergence:  0.09,
		ImpliedProb: 0.59,
		Type:        types.SignalStandard,
		Consensus: types.ConsensusSnapshot{
			Asset:          "BTC",
			Price:          65000,
			AgreementScore: 1.0,
			SourceCount:    3,
		},
		Oracle: &types.OracleState{
			Asset:      "BTC",
			Value:      64800,
			RoundID:    7,
			AgeSeconds: 30,
		},
		Market:    baseSnapshot(),
		CreatedAt: time.Now(),
	}
}

func goodScore() types.ConfidenceScore {
	return types.ConfidenceScore{Value: 0.82, Tier: types.TierGood}
}

// newFixture builds a manager whose background monitors never tick, so
// tests drive the state machine deterministically through step and
// close.
func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	f := &fixture{
		executor: &stubExecutor{
			entryResult: &execution.Result{
				Outcome:    execution.OutcomeFilled,
				OrderID:    "entry-1",
				FilledSize: 40,
				FillPrice:  0.51,
			},
		},
		quotes:  &stubQuotes{snap: baseSnapshot()},
		oracle:  &stubOracle{state: types.OracleState{Asset: "BTC", Value: 64800, RoundID: 7, AgeSeconds: 30}, ok: true},
		breaker: &stubBreaker{},
		store:   &stubStore{},
	}

	cfg := Config{
		Executor: f.executor,
		Markets:  f.quotes,
		Oracle:   f.oracle,
		Breaker:  f.breaker,
		Store:    f.store,
		Registry: &stubRegistry{handle: markets.Handle{
			Asset:      "BTC",
			MarketID:   "mkt-1",
			YesTokenID: "btc-yes",
			NoTokenID:  "btc-no",
			WindowEnd:  time.Now().Add(time.Hour),
		}},
		Assets:              map[string]config.AssetParams{"BTC": btcParams()},
		PositionSize:        20,
		MinConfidence:       0.65,
		MonitorInterval:     time.Hour,
		SettleDelay:         0,
		SpreadExitThreshold: 0.015,
		EmergencyTimeLimit:  120 * time.Second,
		OracleImminentAge:   65 * time.Second,
		TPOracleAgeFactor:   0.7,
		TPOracleAgeTrigger:  50 * time.Second,
		TPDivergenceFactor:  1.3,
		TPDivergenceTrigger: 0.05,
		CollapseRelative:    0.5,
		CollapseFloor:       50,
		TickSize:            0.01,
		MinSpreadToImprove:  0.02,
		CloseRetries:        3,
		Logger:              zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	manager, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		if err := manager.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	f.manager = manager
	return f
}

// inject places a position in the live table without spawning a
// monitor, so tests own every transition.
func (f *fixture) inject(position *types.Position) *types.Position {
	f.manager.mu.Lock()
	f.manager.table[position.Asset] = position
	f.manager.mu.Unlock()
	return position
}

func TestNewValidatesConfig(t *testing.T) {
	valid := func(t *testing.T) Config {
		return Config{
			Executor:           &stubExecutor{},
			Markets:            &stubQuotes{},
			Oracle:             &stubOracle{},
			Breaker:            &stubBreaker{},
			Registry:           &stubRegistry{},
			Assets:             map[string]config.AssetParams{"BTC": btcParams()},
			PositionSize:       20,
			MinConfidence:      0.65,
			MonitorInterval:    time.Second,
			TickSize:           0.01,
			CloseRetries:       3,
			Logger:             zaptest.NewLogger(t),
			MinSpreadToImprove: 0.02,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing-logger",
			mutate:  func(c *Config) { c.Logger = nil },
			wantErr: "logger is required",
		},
		{
			name:    "missing-executor",
			mutate:  func(c *Config) { c.Executor = nil },
			wantErr: "executor is required",
		},
		{
			name:    "missing-breaker",
			mutate:  func(c *Config) { c.Breaker = nil },
			wantErr: "circuit breaker is required",
		},
		{
			name:    "no-assets",
			mutate:  func(c *Config) { c.Assets = nil },
			wantErr: "at least one asset",
		},
		{
			name:    "zero-position-size",
			mutate:  func(c *Config) { c.PositionSize = 0 },
			wantErr: "position size must be positive",
		},
		{
			name:    "zero-monitor-interval",
			mutate:  func(c *Config) { c.MonitorInterval = 0 },
			wantErr: "monitor interval must be positive",
		},
		{
			name:    "zero-close-retries",
			mutate:  func(c *Config) { c.CloseRetries = 0 },
			wantErr: "close retries must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid(t)
			tt.mutate(&cfg)
			_, err := New(cfg)
			if err == nil {
				t.Fatalf("New() error = nil, want %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("New() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestOpenFillsAndActivates(t *testing.T) {
	f := newFixture(t, nil)

	position, err := f.manager.Open(context.Background(), baseCandidate(), goodScore())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if position.Status != types.PositionOpen {
		t.Errorf("Status = %s, want %s", position.Status, types.PositionOpen)
	}
	if position.EntryPrice != 0.51 {
		t.Errorf("EntryPrice = %f, want 0.51", position.EntryPrice)
	}
	if position.Size != 40 {
		t.Errorf("Size = %f, want 40", position.Size)
	}
	if position.EntryOrderID != "entry-1" {
		t.Errorf("EntryOrderID = %s, want entry-1", position.EntryOrderID)
	}
	if position.SignalID != "sig-1" {
		t.Errorf("SignalID = %s, want sig-1", position.SignalID)
	}
	if position.Reconciled {
		t.Error("Reconciled = true for an in-window fill")
	}
	if got := f.manager.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	reqs := f.executor.entries
	if len(reqs) != 1 {
		t.Fatalf("entry requests = %d, want 1", len(reqs))
	}
	req := reqs[0]
	if req.TokenID != "btc-yes" {
		t.Errorf("TokenID = %s, want btc-yes", req.TokenID)
	}
	if req.Side != types.OrderBuy {
		t.Errorf("Side = %s, want %s", req.Side, types.OrderBuy)
	}
	// Spread 0.03 leaves room to improve the 0.50 bid by one tick.
	if req.Price != 0.51 {
		t.Errorf("Price = %f, want 0.51", req.Price)
	}
	wantSize := 20.0 / 0.51
	if diff := req.Size - wantSize; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Size = %f, want %f", req.Size, wantSize)
	}
	if req.InitialEdge != 0.09 {
		t.Errorf("InitialEdge = %f, want 0.09", req.InitialEdge)
	}
	if req.EdgeCheck == nil {
		t.Error("EdgeCheck = nil, want live edge closure")
	}
}

func TestOpenJoinsBidOnTightSpread(t *testing.T) {
	f := newFixture(t, nil)
	snap := baseSnapshot()
	snap.YesAsk = 0.51
	f.quotes.set(snap)

	candidate := baseCandidate()
	candidate.Market = snap

	if _, err := f.manager.Open(context.Background(), candidate, goodScore()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if price := f.executor.entries[0].Price; price != 0.50 {
		t.Errorf("Price = %f, want join at 0.50", price)
	}
}

func TestOpenDownBuysNoToken(t *testing.T) {
	f := newFixture(t, nil)

	candidate := baseCandidate()
	candidate.Direction = types.DirectionDown
	candidate.ImpliedProb = 0.41

	if _, err := f.manager.Open(context.Background(), candidate, goodScore()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	req := f.executor.entries[0]
	if req.TokenID != "btc-no" {
		t.Errorf("TokenID = %s, want btc-no", req.TokenID)
	}
	// NO side: bid 0.47, ask 0.50, spread wide enough to improve.
	if req.Price != 0.48 {
		t.Errorf("Price = %f, want 0.48", req.Price)
	}
}

func TestOpenUsesMetadataTick(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Metadata = &stubMetadata{tick: 0.02}
	})

	if _, err := f.manager.Open(context.Background(), baseCandidate(), goodScore()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if price := f.executor.entries[0].Price; price != 0.52 {
		t.Errorf("Price = %f, want 0.52 with 0.02 tick", price)
	}
}

func TestOpenRejectsLowConfidence(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.manager.Open(context.Background(), baseCandidate(), types.ConfidenceScore{Value: 0.60, Tier: types.TierLow})
	if err == nil {
		t.Fatal("Open() error = nil, want low-confidence rejection")
	}
	if !strings.Contains(err.Error(), "below minimum") {
		t.Errorf("Open() error = %q, want confidence rejection", err)
	}
	if got := f.executor.entryCount(); got != 0 {
		t.Errorf("entry requests = %d, want 0", got)
	}
}

func TestOpenRejectsEntryPriceOutOfRange(t *testing.T) {
	f := newFixture(t, nil)
	snap := baseSnapshot()
	snap.YesBid = 0.92
	snap.YesAsk = 0.95
	f.quotes.set(snap)

	candidate := baseCandidate()
	candidate.Market = snap

	_, err := f.manager.Open(context.Background(), candidate, goodScore())
	if err == nil {
		t.Fatal("Open() error = nil, want entry price rejection")
	}
	if !strings.Contains(err.Error(), "outside") {
		t.Errorf("Open() error = %q, want range rejection", err)
	}
	if f.breaker.allowCalls != 0 {
		t.Errorf("breaker consulted %d times before price gate, want 0", f.breaker.allowCalls)
	}
	if got := f.executor.entryCount(); got != 0 {
		t.Errorf("entry requests = %d, want 0", got)
	}
}

func TestOpenBreakerDenied(t *testing.T) {
	f := newFixture(t, nil)
	f.breaker.entryErr = types.ErrBreakerTripped

	_, err := f.manager.Open(context.Background(), baseCandidate(), goodScore())
	if !errors.Is(err, types.ErrBreakerTripped) {
		t.Fatalf("Open() error = %v, want ErrBreakerTripped", err)
	}
	if got := f.executor.entryCount(); got != 0 {
		t.Errorf("entry requests = %d, want 0", got)
	}
	if got := f.manager.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestOpenEnforcesOnePerAsset(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.manager.Open(context.Background(), baseCandidate(), goodScore()); err != nil {
		t.Fatalf("first Open() error = %v", err)
	}

	_, err := f.manager.Open(context.Background(), baseCandidate(), goodScore())
	if !errors.Is(err, types.ErrPositionExists) {
		t.Fatalf("second Open() error = %v, want ErrPositionExists", err)
	}
	if got := f.executor.entryCount(); got != 1 {
		t.Errorf("entry requests = %d, want 1", got)
	}
}

func TestOpenRejectedWhenEntryTimesOut(t *testing.T) {
	f := newFixture(t, nil)
	f.executor.entryResult = &execution.Result{Outcome: execution.OutcomeTimeout, OrderID: "entry-1"}

	_, err := f.manager.Open(context.Background(), baseCandidate(), goodScore())
	if !errors.Is(err, types.ErrNoFill) {
		t.Fatalf("Open() error = %v, want ErrNoFill", err)
	}
	if got := f.manager.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0 after rejection", got)
	}

	archived := f.store.archived()
	if len(archived) != 1 {
		t.Fatalf("archived positions = %d, want 1", len(archived))
	}
	if archived[0].Status != types.PositionRejected {
		t.Errorf("archived Status = %s, want %s", archived[0].Status, types.PositionRejected)
	}

	// The slot is free again; a new candidate can trade.
	f.executor.entryResult = &execution.Result{Outcome: execution.OutcomeFilled, OrderID: "entry-2", FilledSize: 40, FillPrice: 0.51}
	if _, err := f.manager.Open(context.Background(), baseCandidate(), goodScore()); err != nil {
		t.Fatalf("Open() after rejection error = %v", err)
	}
}

func TestOpenEdgeCollapseReported(t *testing.T) {
	f := newFixture(t, nil)
	f.executor.entryResult = &execution.Result{Outcome: execution.OutcomeCollapsed, OrderID: "entry-1"}

	_, err := f.manager.Open(context.Background(), baseCandidate(), goodScore())
	if !errors.Is(err, types.ErrEdgeCollapsed) {
		t.Fatalf("Open() error = %v, want ErrEdgeCollapsed", err)
	}
}

func TestOpenReleasesSlotOnExecutorError(t *testing.T) {
	f := newFixture(t, nil)
	f.executor.entryErr = errors.New("venue unreachable")

	if _, err := f.manager.Open(context.Background(), baseCandidate(), goodScore()); err == nil {
		t.Fatal("Open() error = nil, want transport error")
	}
	if got := f.manager.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	if archived := f.store.archived(); len(archived) != 0 {
		t.Errorf("archived positions = %d, want 0 for a transport error", len(archived))
	}
}

func TestOpenAdoptsLateFillFromResult(t *testing.T) {
	f := newFixture(t, nil)
	f.executor.entryResult = &execution.Result{
		Outcome:    execution.OutcomeTimeout,
		OrderID:    "entry-1",
		FilledSize: 40,
		FillPrice:  0.50,
		LateFill:   true,
	}

	position, err := f.manager.Open(context.Background(), baseCandidate(), goodScore())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if position.Status != types.PositionOpen {
		t.Errorf("Status = %s, want %s", position.Status, types.PositionOpen)
	}
	if !position.Reconciled {
		t.Error("Reconciled = false, want true for an adopted late fill")
	}
	if position.EntryPrice != 0.50 {
		t.Errorf("EntryPrice = %f, want the late fill price 0.50", position.EntryPrice)
	}
	if got := f.manager.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestLifecycleEventsEmitted(t *testing.T) {
	events := make(chan types.PositionEvent, 8)
	f := newFixture(t, func(c *Config) {
		c.Events = events
	})

	if _, err := f.manager.Open(context.Background(), baseCandidate(), goodScore()); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	live := f.live(t, "BTC")
	f.executor.queueExits(&execution.Result{Outcome: execution.OutcomeFilled, OrderID: "exit-1", FilledSize: 40, FillPrice: 0.53})
	if !f.manager.close(live, types.ExitTakeProfit) {
		t.Fatal("close() = false, want terminal close")
	}

	var kinds []types.PositionEventKind
	for i := 0; i < 2; i++ {
		select {
		case event := <-events:
			kinds = append(kinds, event.Kind)
		default:
			t.Fatalf("expected 2 events, got %d", len(kinds))
		}
	}
	if kinds[0] != types.PositionEventOpened || kinds[1] != types.PositionEventClosed {
		t.Errorf("event kinds = %v, want [opened closed]", kinds)
	}
}

func (f *fixture) live(t *testing.T, asset string) *types.Position {
	t.Helper()
	f.manager.mu.Lock()
	defer f.manager.mu.Unlock()
	position, ok := f.manager.table[asset]
	if !ok {
		t.Fatalf("no live position for %s", asset)
	}
	return position
}
