package signal

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

// regime scale factors widen the staleness window when the market is
// calm and tighten it when volatility is high.
const (
	regimeScaleLow    = 1.25
	regimeScaleNormal = 1.0
	regimeScaleHigh   = 0.7
)

// Config holds signal detector configuration.
type Config struct {
	// Cooldown is the per-asset, per-direction re-signal cooldown.
	Cooldown time.Duration
	// BookAgeCeiling is the absolute market data age beyond which the
	// whole evaluation is skipped, not rejected.
	BookAgeCeiling time.Duration
	// OverrideDivergence bypasses the supporting gates when crossed.
	OverrideDivergence float64

	// Escape clause thresholds: sub-floor moves are still accepted when
	// all of these secondary conditions hold.
	EscapeMinMove     float64
	EscapeOracleAge   time.Duration
	EscapeImbalance   float64
	EscapeLiquidity   float64
	EscapeVolumeSurge float64

	// Supporting filters; a disabled filter always passes.
	VolumeFilterEnabled    bool
	VolumeSurgeMin         float64
	SpikeFilterEnabled     bool
	SpikeMin               float64
	AgreementFilterEnabled bool
	AgreementFloor         float64

	// Liquidity-collapse detection: both the relative drop and the
	// absolute floor must be breached.
	CollapseRelative float64
	CollapseFloor    float64

	// Assets carries the per-asset parameter records.
	Assets map[string]config.AssetParams

	Logger *zap.Logger
}

// Outcome is the single result of one detection cycle: exactly one of
// candidate, rejection reason, or skip.
type Outcome struct {
	Candidate *types.SignalCandidate
	Rejection types.RejectionReason
	Skipped   bool
}

// Detector decides once per cycle whether the (consensus, market,
// oracle) triple is a tradeable divergence, and if not, exactly why.
// Evaluation is deterministic given the inputs and the cooldown state;
// the market snapshot's timestamp is the cycle clock.
type Detector struct {
	config Config
	logger *zap.Logger

	mu        sync.Mutex
	cooldowns map[string]time.Time
}

// New creates a new signal detector.
func New(cfg Config) (*Detector, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.BookAgeCeiling <= 0 {
		return nil, fmt.Errorf("book age ceiling must be positive")
	}
	if cfg.OverrideDivergence <= 0 {
		return nil, fmt.Errorf("override divergence must be positive")
	}
	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("no assets configured")
	}

	return &Detector{
		config:    cfg,
		logger:    cfg.Logger,
		cooldowns: make(map[string]time.Time),
	}, nil
}

// Evaluate runs the gate sequence for one asset cycle.
func (d *Detector) Evaluate(consensus *types.ConsensusSnapshot, oracle *types.OracleState, market *types.MarketSnapshot) Outcome {
	// Acting on very stale state is categorically disallowed,
	// independent of divergence size.
	if market == nil || market.BookAge > d.config.BookAgeCeiling {
		SkipsTotal.Inc()
		if market != nil {
			d.logger.Debug("cycle-skipped-stale-book",
				zap.String("asset", market.Asset),
				zap.Duration("book-age", market.BookAge))
		}
		return Outcome{Skipped: true}
	}

	if consensus == nil {
		return d.reject(market.Asset, types.RejectConsensusFailure)
	}

	asset := market.Asset
	params, ok := d.config.Assets[asset]
	if !ok {
		return d.reject(asset, types.RejectConsensusFailure)
	}

	implied := logistic(consensus.Move30s * params.Scale)
	divergence := math.Abs(implied - market.YesBid)
	direction := types.DirectionUp
	if implied <= market.YesBid {
		direction = types.DirectionDown
	}

	now := market.Timestamp

	if d.onCooldown(asset, direction, now) {
		return d.reject(asset, types.RejectCooldownActive)
	}

	override := divergence >= d.config.OverrideDivergence

	if divergence < params.MinDivergence {
		return d.reject(asset, types.RejectDivergenceTooLow)
	}

	if !override {
		if rejection, ok := d.checkStaleness(params, consensus.Regime, market.BookAge); !ok {
			return d.reject(asset, rejection)
		}
	}

	signalType := types.SignalStandard
	if !override {
		var ok bool
		signalType, ok = d.checkMove(params, consensus, oracle, market, direction)
		if !ok {
			return d.reject(asset, types.RejectInsufficientMove)
		}

		if rejection, ok := d.checkFilters(consensus); !ok {
			return d.reject(asset, rejection)
		}

		if market.SideLiquidity(direction) < params.MinLiquidity {
			return d.reject(asset, types.RejectLiquidityLow)
		}
	}

	// The collapse safety check survives even the override: a book
	// that just lost its depth is not a book to lean on.
	if d.liquidityCollapsed(market, direction) {
		return d.reject(asset, types.RejectLiquidityCollapse)
	}

	candidate := &types.SignalCandidate{
		ID:          uuid.NewString(),
		Asset:       asset,
		Direction:   direction,
		Divergence:  divergence,
		ImpliedProb: implied,
		Type:        signalType,
		Override:    override,
		Consensus:   *consensus,
		Market:      *market,
		CreatedAt:   now,
	}
	if oracle != nil {
		oracleCopy := *oracle
		candidate.Oracle = &oracleCopy
	}

	SignalsTotal.WithLabelValues(asset, string(signalType)).Inc()
	if override {
		OverridesTotal.Inc()
	}
	DivergenceDetected.Observe(divergence)

	d.logger.Info("signal-detected",
		zap.String("asset", asset),
		zap.String("direction", string(direction)),
		zap.String("type", string(signalType)),
		zap.Bool("override", override),
		zap.Float64("divergence", divergence),
		zap.Float64("implied", implied),
		zap.Float64("yes-bid", market.YesBid),
		zap.Float64("move-30s", consensus.Move30s),
		zap.Duration("book-age", market.BookAge))

	return Outcome{Candidate: candidate}
}

// BeginCooldown arms the re-signal cooldown for an asset direction.
// Called by the pipeline when a candidate is actually consumed.
func (d *Detector) BeginCooldown(asset string, direction types.Direction, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cooldowns[cooldownKey(asset, direction)] = at.Add(d.config.Cooldown)
}

func (d *Detector) onCooldown(asset string, direction types.Direction, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	expiry, ok := d.cooldowns[cooldownKey(asset, direction)]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(d.cooldowns, cooldownKey(asset, direction))
		return false
	}
	return true
}

func cooldownKey(asset string, direction types.Direction) string {
	return asset + "|" + string(direction)
}

// checkStaleness gates the book age against the asset's staleness
// window, with the max bound scaled by the volatility regime.
func (d *Detector) checkStaleness(params config.AssetParams, regime types.VolatilityRegime, bookAge time.Duration) (types.RejectionReason, bool) {
	scale := regimeScaleNormal
	switch regime {
	case types.RegimeLow:
		scale = regimeScaleLow
	case types.RegimeHigh:
		scale = regimeScaleHigh
	}

	min := params.StalenessMin()
	max := time.Duration(float64(params.StalenessMax()) * scale)

	if bookAge < min {
		return types.RejectBookTooFresh, false
	}
	if bookAge > max {
		return types.RejectBookTooStale, false
	}
	return "", true
}

// checkMove gates the short-window move, allowing the escape clause for
// sub-floor moves backed by strong secondary evidence.
func (d *Detector) checkMove(params config.AssetParams, consensus *types.ConsensusSnapshot, oracle *types.OracleState, market *types.MarketSnapshot, direction types.Direction) (types.SignalType, bool) {
	absMove := math.Abs(consensus.Move30s)
	if absMove >= params.MinMove {
		return types.SignalStandard, true
	}

	if absMove < d.config.EscapeMinMove {
		return "", false
	}
	if oracle == nil || oracle.AgeSeconds < d.config.EscapeOracleAge.Seconds() {
		return "", false
	}
	if !imbalanceAligned(market.Imbalance, direction, d.config.EscapeImbalance) {
		return "", false
	}
	if market.SideLiquidity(direction) < d.config.EscapeLiquidity {
		return "", false
	}
	if consensus.VolumeSurge < d.config.EscapeVolumeSurge {
		return "", false
	}

	EscapeClauseTotal.Inc()
	return types.SignalEscapeClause, true
}

func imbalanceAligned(imbalance float64, direction types.Direction, threshold float64) bool {
	if direction == types.DirectionDown {
		return imbalance <= -threshold
	}
	return imbalance >= threshold
}

// checkFilters runs the togglable supporting filters; a disabled filter
// always passes.
func (d *Detector) checkFilters(consensus *types.ConsensusSnapshot) (types.RejectionReason, bool) {
	if d.config.VolumeFilterEnabled && consensus.VolumeSurge < d.config.VolumeSurgeMin {
		return types.RejectVolumeLow, false
	}
	if d.config.SpikeFilterEnabled && consensus.SpikeConcentration < d.config.SpikeMin {
		return types.RejectSmoothDrift, false
	}
	if d.config.AgreementFilterEnabled && consensus.AgreementScore < d.config.AgreementFloor {
		return types.RejectAgreementLow, false
	}
	return "", true
}

// liquidityCollapsed reports whether the side's depth both dropped more
// than the relative threshold against its 30s-ago reference and sits
// below the absolute floor. Both conditions are required so naturally
// thin books do not false-positive.
func (d *Detector) liquidityCollapsed(market *types.MarketSnapshot, direction types.Direction) bool {
	liquidity := market.SideLiquidity(direction)
	reference := market.SideLiquidity30s(direction)
	if reference <= 0 {
		return false
	}
	return liquidity < d.config.CollapseRelative*reference && liquidity < d.config.CollapseFloor
}

func (d *Detector) reject(asset string, reason types.RejectionReason) Outcome {
	RejectionsTotal.WithLabelValues(string(reason)).Inc()
	d.logger.Debug("signal-rejected",
		zap.String("asset", asset),
		zap.String("reason", string(reason)))
	return Outcome{Rejection: reason}
}

func logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
