package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/quorumtrade/oraclelag/internal/signal"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

type stubConsensus struct {
	snapshot types.ConsensusSnapshot
	err      error

	mu    sync.Mutex
	calls int
}

func (s *stubConsensus) Snapshot(asset string) (types.ConsensusSnapshot, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.snapshot, s.err
}

type stubOracle struct {
	state types.OracleState
	ok    bool
}

func (s *stubOracle) State(asset string) (types.OracleState, bool) {
	return s.state, s.ok
}

type stubBooks struct {
	snapshot types.MarketSnapshot
	err      error
}

func (s *stubBooks) Snapshot(asset string) (types.MarketSnapshot, error) {
	return s.snapshot, s.err
}

type stubDetector struct {
	outcome signal.Outcome

	mu            sync.Mutex
	lastConsensus *types.ConsensusSnapshot
	lastOracle    *types.OracleState
	lastMarket    *types.MarketSnapshot
	evaluations   int
	cooldowns     int
}

func (s *stubDetector) Evaluate(consensus *types.ConsensusSnapshot, oracle *types.OracleState, market *types.MarketSnapshot) signal.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evaluations++
	s.lastConsensus = consensus
	s.lastOracle = oracle
	s.lastMarket = market
	return s.outcome
}

func (s *stubDetector) BeginCooldown(asset string, direction types.Direction, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns++
}

func (s *stubDetector) cooldownCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldowns
}

type stubScorer struct {
	score types.ConfidenceScore
}

func (s *stubScorer) Score(candidate *types.SignalCandidate) types.ConfidenceScore {
	return s.score
}

type stubOpener struct {
	active  bool
	openErr error

	opened chan *types.SignalCandidate
}

func (s *stubOpener) Open(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) (types.Position, error) {
	if s.opened != nil {
		s.opened <- candidate
	}
	return types.Position{}, s.openErr
}

func (s *stubOpener) Active(asset string) (types.Position, bool) {
	return types.Position{}, s.active
}

type stubWindows struct {
	expired bool
}

func (s *stubWindows) WindowExpired(asset string, now time.Time) bool {
	return s.expired
}

type stubArchive struct {
	err error

	mu     sync.Mutex
	stored int
}

func (s *stubArchive) StoreSignal(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored++
	return s.err
}

func (s *stubArchive) storedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored
}

type pipelineFixture struct {
	pipeline *pipeline

	consensus *stubConsensus
	detector  *stubDetector
	opener    *stubOpener
	windows   *stubWindows
	archive   *stubArchive
}

func newPipelineFixture(t *testing.T, mutate func(*pipelineFixture)) *pipelineFixture {
	t.Helper()

	fix := &pipelineFixture{
		consensus: &stubConsensus{snapshot: types.ConsensusSnapshot{Asset: "BTC", Price: 97500}},
		detector: &stubDetector{outcome: signal.Outcome{
			Candidate: &types.SignalCandidate{
				ID:        "sig-1",
				Asset:     "BTC",
				Direction: types.DirectionUp,
			},
		}},
		opener:  &stubOpener{opened: make(chan *types.SignalCandidate, 1)},
		windows: &stubWindows{},
		archive: &stubArchive{},
	}
	if mutate != nil {
		mutate(fix)
	}

	fix.pipeline = &pipeline{
		assets:        []string{"BTC"},
		interval:      time.Second,
		minConfidence: 0.5,
		consensus:     fix.consensus,
		oracle:        &stubOracle{state: types.OracleState{Asset: "BTC"}, ok: true},
		books:         &stubBooks{snapshot: types.MarketSnapshot{Asset: "BTC"}},
		detector:      fix.detector,
		scorer:        &stubScorer{score: types.ConfidenceScore{Value: 0.8, Tier: types.TierHigh}},
		positions:     fix.opener,
		registry:      fix.windows,
		store:         fix.archive,
		logger:        zaptest.NewLogger(t),
	}
	return fix
}

func waitForOpen(t *testing.T, fix *pipelineFixture) *types.SignalCandidate {
	t.Helper()
	select {
	case candidate := <-fix.opener.opened:
		return candidate
	case <-time.After(time.Second):
		t.Fatal("Open() was not called")
		return nil
	}
}

func TestCycleOpensPosition(t *testing.T) {
	fix := newPipelineFixture(t, nil)

	fix.pipeline.cycle(context.Background(), "BTC", time.Now())

	candidate := waitForOpen(t, fix)
	if candidate.ID != "sig-1" {
		t.Errorf("opened candidate ID = %q, want sig-1", candidate.ID)
	}
	if got := fix.archive.storedCount(); got != 1 {
		t.Errorf("stored signals = %d, want 1", got)
	}
	if got := fix.detector.cooldownCount(); got != 1 {
		t.Errorf("cooldowns armed = %d, want 1", got)
	}
}

func TestCycleSkipsExpiredWindow(t *testing.T) {
	fix := newPipelineFixture(t, func(f *pipelineFixture) {
		f.windows.expired = true
	})

	fix.pipeline.cycle(context.Background(), "BTC", time.Now())

	fix.detector.mu.Lock()
	evaluations := fix.detector.evaluations
	fix.detector.mu.Unlock()
	if evaluations != 0 {
		t.Errorf("detector evaluated %d times on an expired window, want 0", evaluations)
	}
	if fix.consensus.calls != 0 {
		t.Errorf("consensus queried %d times on an expired window, want 0", fix.consensus.calls)
	}
}

func TestCycleNoCandidate(t *testing.T) {
	fix := newPipelineFixture(t, func(f *pipelineFixture) {
		f.detector.outcome = signal.Outcome{Rejection: types.RejectDivergenceTooLow}
	})

	fix.pipeline.cycle(context.Background(), "BTC", time.Now())

	if got := fix.archive.storedCount(); got != 0 {
		t.Errorf("stored signals = %d, want 0", got)
	}
	select {
	case <-fix.opener.opened:
		t.Error("Open() called without a candidate")
	default:
	}
}

func TestCycleLowConfidenceLeavesCooldownUnarmed(t *testing.T) {
	fix := newPipelineFixture(t, nil)
	fix.pipeline.minConfidence = 0.95

	fix.pipeline.cycle(context.Background(), "BTC", time.Now())

	// Low-confidence candidates are archived for analysis but never
	// consume the cooldown, so the next cycle can re-signal.
	if got := fix.archive.storedCount(); got != 1 {
		t.Errorf("stored signals = %d, want 1", got)
	}
	if got := fix.detector.cooldownCount(); got != 0 {
		t.Errorf("cooldowns armed = %d, want 0", got)
	}
	select {
	case <-fix.opener.opened:
		t.Error("Open() called for a low-confidence candidate")
	default:
	}
}

func TestCycleSkipsWhenPositionActive(t *testing.T) {
	fix := newPipelineFixture(t, func(f *pipelineFixture) {
		f.opener.active = true
	})

	fix.pipeline.cycle(context.Background(), "BTC", time.Now())

	if got := fix.detector.cooldownCount(); got != 0 {
		t.Errorf("cooldowns armed = %d, want 0", got)
	}
	select {
	case <-fix.opener.opened:
		t.Error("Open() called while a position is active")
	default:
	}
}

func TestCycleConsensusUnavailablePassesNil(t *testing.T) {
	fix := newPipelineFixture(t, func(f *pipelineFixture) {
		f.consensus.err = types.ErrConsensusUnavailable
		f.detector.outcome = signal.Outcome{Rejection: types.RejectConsensusFailure}
	})

	fix.pipeline.cycle(context.Background(), "BTC", time.Now())

	fix.detector.mu.Lock()
	defer fix.detector.mu.Unlock()
	if fix.detector.evaluations != 1 {
		t.Fatalf("detector evaluated %d times, want 1", fix.detector.evaluations)
	}
	if fix.detector.lastConsensus != nil {
		t.Error("detector received a consensus snapshot despite ErrConsensusUnavailable")
	}
	if fix.detector.lastOracle == nil {
		t.Error("detector missing the oracle state")
	}
	if fix.detector.lastMarket == nil {
		t.Error("detector missing the market snapshot")
	}
}

func TestCycleArchiveFailureStillOpens(t *testing.T) {
	fix := newPipelineFixture(t, func(f *pipelineFixture) {
		f.archive.err = context.DeadlineExceeded
	})

	fix.pipeline.cycle(context.Background(), "BTC", time.Now())

	waitForOpen(t, fix)
}

func TestOpenToleratesExpectedErrors(t *testing.T) {
	for _, err := range []error{
		types.ErrNoFill,
		types.ErrEdgeCollapsed,
		types.ErrBreakerTripped,
		types.ErrPositionExists,
	} {
		fix := newPipelineFixture(t, func(f *pipelineFixture) {
			f.opener.openErr = err
		})

		fix.pipeline.open(context.Background(), fix.detector.outcome.Candidate,
			types.ConfidenceScore{Value: 0.8, Tier: types.TierHigh})
		<-fix.opener.opened
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	fix := newPipelineFixture(t, nil)
	fix.pipeline.interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fix.pipeline.run(ctx, "BTC")
		close(done)
	}()

	waitForOpen(t, fix)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run() did not stop after cancel")
	}
}
