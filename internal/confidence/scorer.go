// Package confidence scores accepted signal candidates on a weighted
// blend of normalized quality factors. Scoring is pure: the same
// candidate always produces the same score, so sizing decisions can be
// replayed and audited.
package confidence

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/config"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

const (
	// divergenceSaturation is the divergence at which the sub-score
	// maxes out. Anything past 10% is equally compelling.
	divergenceSaturation = 0.10
	// liquiditySaturation is the side depth (in collateral units)
	// scoring a full 1.0.
	liquiditySaturation = 100.0
	// volumeSurgeSaturation is the surge ratio scoring a full 1.0.
	volumeSurgeSaturation = 2.5
	// volumeBaseline scores snapshots that carry no usable surge
	// reading. A warm tracker at its neutral 1.0 lands here too.
	volumeBaseline = 0.4
	// escapePenalty is subtracted from escape-clause candidates.
	escapePenalty = 0.10
)

// Tier cut points, checked highest first.
const (
	tierHighMin     = 0.85
	tierGoodMin     = 0.75
	tierModerateMin = 0.65
	tierLowMin      = 0.55
)

// Weights are the per-factor multipliers. They must sum to 1.0.
type Weights struct {
	Divergence  float64
	Staleness   float64
	Agreement   float64
	Liquidity   float64
	VolumeSurge float64
	Spike       float64
}

func (w Weights) validate() error {
	factors := map[string]float64{
		"divergence":   w.Divergence,
		"staleness":    w.Staleness,
		"agreement":    w.Agreement,
		"liquidity":    w.Liquidity,
		"volume_surge": w.VolumeSurge,
		"spike":        w.Spike,
	}
	sum := 0.0
	for name, v := range factors {
		if v < 0 || v > 1 {
			return fmt.Errorf("weight %s must be between 0 and 1, got %f", name, v)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("weights must sum to 1.0, got %f", sum)
	}
	return nil
}

// Config holds the scorer configuration.
type Config struct {
	Weights Weights
	Assets  map[string]config.AssetParams
	Logger  *zap.Logger
}

// Scorer converts candidates into confidence scores.
type Scorer struct {
	config Config
	logger *zap.Logger
}

// New creates a scorer from the given configuration.
func New(cfg Config) (*Scorer, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("at least one asset must be configured")
	}
	if err := cfg.Weights.validate(); err != nil {
		return nil, err
	}

	return &Scorer{
		config: cfg,
		logger: cfg.Logger.Named("confidence"),
	}, nil
}

// Score computes the weighted confidence of a candidate. Pure and
// deterministic; no state is read beyond the candidate itself.
func (s *Scorer) Score(candidate *types.SignalCandidate) types.ConfidenceScore {
	params := s.config.Assets[candidate.Asset]
	w := s.config.Weights

	factors := types.ScoreBreakdown{
		Divergence:  factor(divergenceScore(candidate.Divergence), w.Divergence),
		Staleness:   factor(stalenessScore(candidate.Market.BookAge.Seconds(), params), w.Staleness),
		Agreement:   factor(clamp01(candidate.Consensus.AgreementScore), w.Agreement),
		Liquidity:   factor(liquidityScore(candidate.Market.SideLiquidity(candidate.Direction)), w.Liquidity),
		VolumeSurge: factor(volumeScore(candidate.Consensus.VolumeSurge), w.VolumeSurge),
		Spike:       factor(clamp01(candidate.Consensus.SpikeConcentration), w.Spike),
	}

	value := factors.Divergence.Weighted +
		factors.Staleness.Weighted +
		factors.Agreement.Weighted +
		factors.Liquidity.Weighted +
		factors.VolumeSurge.Weighted +
		factors.Spike.Weighted

	if candidate.Type == types.SignalEscapeClause {
		factors.Penalty = escapePenalty
		value -= escapePenalty
		EscapePenaltiesTotal.Inc()
	}
	value = clamp01(value)

	score := types.ConfidenceScore{
		Value:   value,
		Tier:    tierFor(value),
		Factors: factors,
	}

	ScoresTotal.WithLabelValues(string(score.Tier)).Inc()
	ScoreValue.Observe(value)

	s.logger.Debug("candidate-scored",
		zap.String("asset", candidate.Asset),
		zap.String("signal", candidate.ID),
		zap.Float64("value", value),
		zap.String("tier", string(score.Tier)),
		zap.Float64("divergence-factor", factors.Divergence.Raw),
		zap.Float64("staleness-factor", factors.Staleness.Raw))

	return score
}

func factor(raw, weight float64) types.FactorScore {
	return types.FactorScore{Raw: raw, Weighted: raw * weight}
}

func divergenceScore(divergence float64) float64 {
	if divergence <= 0 {
		return 0
	}
	return math.Min(1.0, divergence/divergenceSaturation)
}

// stalenessScore is triangular over the asset's staleness window: zero
// at both edges, 1.0 at the midpoint. Ages outside the window score
// zero. The window midpoint is where lag is most exploitable.
func stalenessScore(ageSeconds float64, params config.AssetParams) float64 {
	min := params.StalenessMinSeconds
	max := params.StalenessMaxSeconds
	if max <= min {
		return 0
	}
	if ageSeconds <= min || ageSeconds >= max {
		return 0
	}
	mid := (min + max) / 2
	if ageSeconds <= mid {
		return (ageSeconds - min) / (mid - min)
	}
	return (max - ageSeconds) / (max - mid)
}

func liquidityScore(liquidity float64) float64 {
	if liquidity <= 0 {
		return 0
	}
	return math.Min(1.0, liquidity/liquiditySaturation)
}

func volumeScore(surge float64) float64 {
	if surge <= 0 {
		// Snapshots without a usable surge reading score the neutral
		// baseline rather than zero.
		return volumeBaseline
	}
	return clamp01(surge / volumeSurgeSaturation)
}

func tierFor(value float64) types.ConfidenceTier {
	switch {
	case value >= tierHighMin:
		return types.TierHigh
	case value >= tierGoodMin:
		return types.TierGood
	case value >= tierModerateMin:
		return types.TierModerate
	case value >= tierLowMin:
		return types.TierLow
	default:
		return types.TierPoor
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
