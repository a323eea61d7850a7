package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/signal"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

// The pipeline's collaborators, narrowed to what one detection cycle
// consumes. The concrete components satisfy these; tests substitute
// them.
type consensusSource interface {
	Snapshot(asset string) (types.ConsensusSnapshot, error)
}

type oracleSource interface {
	State(asset string) (types.OracleState, bool)
}

type bookSource interface {
	Snapshot(asset string) (types.MarketSnapshot, error)
}

type signalEvaluator interface {
	Evaluate(consensus *types.ConsensusSnapshot, oracle *types.OracleState, market *types.MarketSnapshot) signal.Outcome
	BeginCooldown(asset string, direction types.Direction, at time.Time)
}

type candidateScorer interface {
	Score(candidate *types.SignalCandidate) types.ConfidenceScore
}

type positionOpener interface {
	Open(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) (types.Position, error)
	Active(asset string) (types.Position, bool)
}

type handleWindows interface {
	WindowExpired(asset string, now time.Time) bool
}

type signalArchive interface {
	StoreSignal(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) error
}

// pipeline runs the consensus → signal → score → open chain for every
// asset on a fixed cadence. Each asset gets its own ticker goroutine,
// so one slow venue call never stalls another asset's cycle; entry
// execution runs detached because the maker wait can take seconds.
type pipeline struct {
	assets        []string
	interval      time.Duration
	minConfidence float64

	consensus consensusSource
	oracle    oracleSource
	books     bookSource
	detector  signalEvaluator
	scorer    candidateScorer
	positions positionOpener
	registry  handleWindows
	store     signalArchive

	logger *zap.Logger
}

func (p *pipeline) run(ctx context.Context, asset string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	logger := p.logger.With(zap.String("asset", asset))
	logger.Info("pipeline-started", zap.Duration("interval", p.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("pipeline-stopped")
			return
		case now := <-ticker.C:
			p.cycle(ctx, asset, now)
		}
	}
}

// cycle evaluates one (consensus, oracle, market) triple. The snapshots
// are taken back to back at the top so the detector always judges one
// coherent pair, never a mix across cycles.
func (p *pipeline) cycle(ctx context.Context, asset string, now time.Time) {
	CyclesTotal.WithLabelValues(asset).Inc()

	if p.registry.WindowExpired(asset, now) {
		WindowExpiredCycles.WithLabelValues(asset).Inc()
		return
	}

	var consensusPtr *types.ConsensusSnapshot
	if snapshot, err := p.consensus.Snapshot(asset); err == nil {
		consensusPtr = &snapshot
	} else if !errors.Is(err, types.ErrConsensusUnavailable) {
		p.logger.Warn("consensus-snapshot-failed",
			zap.String("asset", asset),
			zap.Error(err))
	}

	var marketPtr *types.MarketSnapshot
	if snapshot, err := p.books.Snapshot(asset); err == nil {
		marketPtr = &snapshot
	}

	var oraclePtr *types.OracleState
	if state, ok := p.oracle.State(asset); ok {
		oraclePtr = &state
	}

	outcome := p.detector.Evaluate(consensusPtr, oraclePtr, marketPtr)
	if outcome.Candidate == nil {
		return
	}

	candidate := outcome.Candidate
	score := p.scorer.Score(candidate)

	if err := p.store.StoreSignal(ctx, candidate, score); err != nil {
		p.logger.Warn("signal-archive-failed",
			zap.String("signal-id", candidate.ID),
			zap.Error(err))
	}

	if score.Value < p.minConfidence {
		LowConfidenceSignals.WithLabelValues(asset).Inc()
		p.logger.Info("candidate-below-confidence",
			zap.String("asset", asset),
			zap.String("signal-id", candidate.ID),
			zap.Float64("confidence", score.Value),
			zap.String("tier", string(score.Tier)))
		return
	}

	if _, live := p.positions.Active(asset); live {
		p.logger.Debug("candidate-dropped-position-open",
			zap.String("asset", asset),
			zap.String("signal-id", candidate.ID))
		return
	}

	// The cooldown arms when a candidate is consumed, not when it is
	// merely detected, so a low-confidence cycle can re-signal.
	p.detector.BeginCooldown(asset, candidate.Direction, now)

	go p.open(ctx, candidate, score)
}

// open drives the entry attempt off the cycle goroutine; the maker wait
// is bounded by the execution deadline, not the pipeline interval.
func (p *pipeline) open(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) {
	_, err := p.positions.Open(ctx, candidate, score)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, types.ErrNoFill), errors.Is(err, types.ErrEdgeCollapsed):
		// Expected outcomes of the maker-only contract; the manager has
		// already archived the rejection.
	case errors.Is(err, types.ErrBreakerTripped):
		p.logger.Warn("entry-refused-breaker-tripped",
			zap.String("asset", candidate.Asset),
			zap.String("signal-id", candidate.ID))
	case errors.Is(err, types.ErrPositionExists):
		p.logger.Debug("entry-refused-position-open",
			zap.String("asset", candidate.Asset))
	default:
		p.logger.Error("entry-failed",
			zap.String("asset", candidate.Asset),
			zap.String("signal-id", candidate.ID),
			zap.Error(err))
	}
}
