package oracle

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

const (
	// heartbeatHistoryCap bounds the per-asset round interval history.
	heartbeatHistoryCap = 20
	// minIntervalSamples is the number of observed round intervals
	// required before the learned heartbeat replaces the default.
	minIntervalSamples = 3
	// intervalAgreementBand is the relative band around the median
	// within which an interval counts as agreeing.
	intervalAgreementBand = 0.20
)

// Reader reads the latest round from an on-chain price feed.
type Reader interface {
	LatestRound(ctx context.Context, feed string) (RoundData, error)
}

// RoundData is one oracle round as read from the chain.
type RoundData struct {
	RoundID   uint64
	Answer    float64
	UpdatedAt time.Time
}

// Config holds oracle tracker configuration.
type Config struct {
	// PollInterval is how often each feed is read.
	PollInterval time.Duration
	// ImminenceWindow is how close a predicted round must be for the
	// tracker to flag an imminent update.
	ImminenceWindow time.Duration
	// MinConfidence is the interval-agreement fraction required before
	// the learned heartbeat is trusted over the default.
	MinConfidence float64
	// DefaultHeartbeat is the assumed round cadence until enough
	// intervals have been observed.
	DefaultHeartbeat time.Duration
	// DeviationThreshold is the relative spot-to-oracle deviation at
	// which the feed's own deviation trigger will force a round.
	DeviationThreshold float64
	// Feeds maps asset symbols to aggregator contract addresses.
	Feeds  map[string]string
	Logger *zap.Logger
}

// Tracker polls oracle feeds and predicts when the next round will
// land. A nil reader disables polling; the tracker then never reports
// state and never flags imminent updates.
type Tracker struct {
	config Config
	logger *zap.Logger
	reader Reader
	mu     sync.RWMutex
	states map[string]*assetOracle
	wg     sync.WaitGroup
	ctx    context.Context
}

type assetOracle struct {
	state     types.OracleState
	intervals []time.Duration
}

// New creates a new oracle tracker.
func New(cfg Config, reader Reader) (*Tracker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if cfg.DefaultHeartbeat <= 0 {
		return nil, fmt.Errorf("default heartbeat must be positive")
	}
	if reader != nil && len(cfg.Feeds) == 0 {
		return nil, fmt.Errorf("no oracle feeds configured")
	}

	return &Tracker{
		config: cfg,
		logger: cfg.Logger,
		reader: reader,
		states: make(map[string]*assetOracle),
	}, nil
}

// Start begins polling the configured feeds.
func (t *Tracker) Start(ctx context.Context) error {
	t.ctx = ctx

	if t.reader == nil {
		t.logger.Warn("oracle-polling-disabled")
		return nil
	}

	t.logger.Info("oracle-tracker-starting",
		zap.Duration("poll-interval", t.config.PollInterval),
		zap.Int("feeds", len(t.config.Feeds)))

	t.wg.Add(1)
	go t.pollLoop()

	return nil
}

// Close waits for the poll loop to exit.
func (t *Tracker) Close() error {
	t.wg.Wait()
	return nil
}

func (t *Tracker) pollLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.config.PollInterval)
	defer ticker.Stop()

	t.pollAll()

	for {
		select {
		case <-t.ctx.Done():
			t.logger.Info("oracle-tracker-stopping")
			return
		case <-ticker.C:
			t.pollAll()
		}
	}
}

func (t *Tracker) pollAll() {
	for asset, feed := range t.config.Feeds {
		ctx, cancel := context.WithTimeout(t.ctx, t.config.PollInterval)
		round, err := t.reader.LatestRound(ctx, feed)
		cancel()
		if err != nil {
			PollErrorsTotal.WithLabelValues(asset).Inc()
			t.logger.Warn("oracle-poll-failed",
				zap.String("asset", asset),
				zap.Error(err))
			continue
		}
		t.recordRound(asset, round, time.Now())
	}
}

// recordRound folds a polled round into the per-asset state and, when
// the round id advanced, into the heartbeat interval history.
func (t *Tracker) recordRound(asset string, round RoundData, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.states[asset]
	if !ok {
		st = &assetOracle{}
		t.states[asset] = st
	}

	if ok && round.RoundID > st.state.RoundID {
		interval := round.UpdatedAt.Sub(st.state.UpdatedAt)
		if interval > 0 {
			st.intervals = append(st.intervals, interval)
			if len(st.intervals) > heartbeatHistoryCap {
				st.intervals = st.intervals[1:]
			}
		}
		RoundsTotal.WithLabelValues(asset).Inc()
	}

	st.state = types.OracleState{
		Asset:      asset,
		Value:      round.Answer,
		RoundID:    round.RoundID,
		AgeSeconds: now.Sub(round.UpdatedAt).Seconds(),
		UpdatedAt:  round.UpdatedAt,
	}

	OracleValue.WithLabelValues(asset).Set(round.Answer)
	OracleAgeSeconds.WithLabelValues(asset).Set(st.state.AgeSeconds)
}

// State returns a copy of the latest oracle state for an asset with the
// age recomputed against the current clock.
func (t *Tracker) State(asset string) (types.OracleState, bool) {
	return t.stateAt(asset, time.Now())
}

func (t *Tracker) stateAt(asset string, now time.Time) (types.OracleState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[asset]
	if !ok || st.state.RoundID == 0 {
		return types.OracleState{}, false
	}
	state := st.state
	state.AgeSeconds = now.Sub(state.UpdatedAt).Seconds()
	return state, true
}

// Imminent reports whether the next oracle round is expected within the
// imminence window, either because the learned heartbeat is nearly
// elapsed or because the spot price has crossed the feed's deviation
// trigger.
func (t *Tracker) Imminent(asset string, consensusPrice float64, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.states[asset]
	if !ok || st.state.RoundID == 0 {
		return false
	}

	if st.state.Value > 0 && consensusPrice > 0 && t.config.DeviationThreshold > 0 {
		deviation := math.Abs(consensusPrice-st.state.Value) / st.state.Value
		if deviation >= t.config.DeviationThreshold {
			return true
		}
	}

	heartbeat, confidence := expectedHeartbeat(st.intervals, t.config.DefaultHeartbeat)
	if confidence < t.config.MinConfidence {
		heartbeat = t.config.DefaultHeartbeat
	}
	age := now.Sub(st.state.UpdatedAt)
	return heartbeat-age <= t.config.ImminenceWindow
}

// expectedHeartbeat returns the median observed round interval and the
// fraction of intervals agreeing with it. With too few samples it
// returns the fallback and zero confidence.
func expectedHeartbeat(intervals []time.Duration, fallback time.Duration) (time.Duration, float64) {
	if len(intervals) < minIntervalSamples {
		return fallback, 0
	}

	sorted := make([]time.Duration, len(intervals))
	copy(sorted, intervals)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var med time.Duration
	n := len(sorted)
	if n%2 == 1 {
		med = sorted[n/2]
	} else {
		med = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	agreeing := 0
	for _, iv := range intervals {
		diff := math.Abs(float64(iv - med))
		if diff <= intervalAgreementBand*float64(med) {
			agreeing++
		}
	}
	return med, float64(agreeing) / float64(len(intervals))
}
