package consensus

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// failureBandFactor widens the tolerance band to the bound beyond which
// disagreeing sources cannot be reconciled at all.
const failureBandFactor = 2.0

// Config holds consensus engine configuration.
type Config struct {
	// FreshnessBound is the maximum tick age considered usable.
	FreshnessBound time.Duration
	// ToleranceBand is the maximum pairwise relative deviation at which
	// sources are considered to agree.
	ToleranceBand float64
	Logger        *zap.Logger
}

// Engine fuses per-source price ticks into a single consensus snapshot
// per asset. It owns the rolling tick and price history used to derive
// the volatility regime, short-window moves, and volume annotations.
type Engine struct {
	config  Config
	logger  *zap.Logger
	mu      sync.Mutex
	latest  map[string]map[string]types.PriceTick
	history map[string]*assetHistory
}

// New creates a new consensus engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.FreshnessBound <= 0 {
		return nil, fmt.Errorf("freshness bound must be positive")
	}
	if cfg.ToleranceBand <= 0 {
		return nil, fmt.Errorf("tolerance band must be positive")
	}

	return &Engine{
		config:  cfg,
		logger:  cfg.Logger,
		latest:  make(map[string]map[string]types.PriceTick),
		history: make(map[string]*assetHistory),
	}, nil
}

// Observe records the latest tick for a source. Ticks with a missing
// source, missing asset, or non-positive price are dropped.
func (e *Engine) Observe(tick types.PriceTick) {
	if tick.Source == "" || tick.Asset == "" {
		TicksDroppedTotal.WithLabelValues("missing_identity").Inc()
		return
	}
	if tick.Price <= 0 || math.IsNaN(tick.Price) || math.IsInf(tick.Price, 0) {
		TicksDroppedTotal.WithLabelValues("invalid_price").Inc()
		e.logger.Warn("tick-dropped-invalid-price",
			zap.String("source", tick.Source),
			zap.String("asset", tick.Asset),
			zap.Float64("price", tick.Price))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sources, ok := e.latest[tick.Asset]
	if !ok {
		sources = make(map[string]types.PriceTick)
		e.latest[tick.Asset] = sources
	}
	sources[tick.Source] = tick
	e.historyFor(tick.Asset).volume.add(tick.Volume)
	TicksObservedTotal.WithLabelValues(tick.Source).Inc()
}

// Snapshot computes the consensus snapshot for an asset from the latest
// fresh tick of each source. It returns types.ErrConsensusUnavailable
// when fewer than two sources are fresh or the fresh sources disagree
// beyond the failure band.
func (e *Engine) Snapshot(asset string) (types.ConsensusSnapshot, error) {
	return e.snapshotAt(asset, time.Now())
}

func (e *Engine) snapshotAt(asset string, now time.Time) (types.ConsensusSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fresh := e.freshTicks(asset, now)
	FreshSources.WithLabelValues(asset).Set(float64(len(fresh)))

	if len(fresh) < 2 {
		FailuresTotal.WithLabelValues("insufficient_sources").Inc()
		return types.ConsensusSnapshot{}, fmt.Errorf(
			"asset %s: %d fresh sources: %w", asset, len(fresh), types.ErrConsensusUnavailable)
	}

	maxDev := maxPairwiseDeviation(fresh)
	tolerance := e.config.ToleranceBand

	price, reason := resolvePrice(fresh, maxDev, tolerance)
	if reason != "" {
		FailuresTotal.WithLabelValues(reason).Inc()
		e.logger.Debug("consensus-failure",
			zap.String("asset", asset),
			zap.String("reason", reason),
			zap.Float64("max-deviation", maxDev),
			zap.Int("fresh-sources", len(fresh)))
		return types.ConsensusSnapshot{}, fmt.Errorf(
			"asset %s: sources disagree beyond %.4f: %w",
			asset, failureBandFactor*tolerance, types.ErrConsensusUnavailable)
	}

	agreement := agreementScore(maxDev, tolerance)
	hist := e.historyFor(asset)
	hist.record(now, price)

	snapshot := types.ConsensusSnapshot{
		Asset:              asset,
		Price:              price,
		AgreementScore:     agreement,
		SourceCount:        len(fresh),
		Regime:             hist.regime.classify(),
		Move10s:            hist.move(now, 10*time.Second),
		Move30s:            hist.move(now, 30*time.Second),
		VolumeSurge:        hist.volume.surge(),
		SpikeConcentration: hist.spikeConcentration(now),
		Timestamp:          now,
	}

	SnapshotsTotal.Inc()
	AgreementScore.Observe(agreement)
	ConsensusPrice.WithLabelValues(asset).Set(price)

	return snapshot, nil
}

// freshTicks returns the latest tick per source, excluding ticks older
// than the freshness bound. Caller must hold e.mu.
func (e *Engine) freshTicks(asset string, now time.Time) []types.PriceTick {
	sources := e.latest[asset]
	fresh := make([]types.PriceTick, 0, len(sources))
	for _, tick := range sources {
		if tick.Age(now) <= e.config.FreshnessBound {
			fresh = append(fresh, tick)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Source < fresh[j].Source })
	return fresh
}

func (e *Engine) historyFor(asset string) *assetHistory {
	hist, ok := e.history[asset]
	if !ok {
		hist = newAssetHistory()
		e.history[asset] = hist
	}
	return hist
}

// resolvePrice picks the consensus price for a fresh tick set, or
// returns a non-empty failure reason when no price can be trusted.
//
// Within tolerance every source contributes to a volume-weighted
// average. Between the tolerance and failure bands a single outlier is
// rejected and the median of the remaining sources wins. Beyond the
// failure band, or when the disagreement cannot be pinned on one
// source, no price is fabricated.
func resolvePrice(fresh []types.PriceTick, maxDev, tolerance float64) (float64, string) {
	if maxDev <= tolerance {
		return vwap(fresh), ""
	}
	if maxDev > failureBandFactor*tolerance {
		return 0, "dispersion"
	}
	if len(fresh) == 2 {
		return 0, "unresolvable_pair"
	}

	prices := make([]float64, len(fresh))
	for i, tick := range fresh {
		prices[i] = tick.Price
	}
	center := median(prices)

	var outlier = -1
	for i, p := range prices {
		if relativeDeviation(p, center) > tolerance {
			if outlier >= 0 {
				return 0, "dispersion"
			}
			outlier = i
		}
	}
	if outlier < 0 {
		// Sources straddle the band without a single culprit.
		return vwap(fresh), ""
	}

	remaining := make([]types.PriceTick, 0, len(fresh)-1)
	for i, tick := range fresh {
		if i != outlier {
			remaining = append(remaining, tick)
		}
	}
	if maxPairwiseDeviation(remaining) > tolerance {
		return 0, "dispersion"
	}

	rest := make([]float64, len(remaining))
	for i, tick := range remaining {
		rest[i] = tick.Price
	}
	OutliersRejectedTotal.Inc()
	return median(rest), ""
}

// agreementScore maps the maximum pairwise deviation to [0,1]. Exactly
// 1.0 while all sources sit inside the tolerance band, then decays
// linearly to 0 at the failure band.
func agreementScore(maxDev, tolerance float64) float64 {
	excess := maxDev - tolerance
	if excess <= 0 {
		return 1.0
	}
	return clamp01(1.0 - excess/tolerance)
}

func maxPairwiseDeviation(ticks []types.PriceTick) float64 {
	maxDev := 0.0
	for i := 0; i < len(ticks); i++ {
		for j := i + 1; j < len(ticks); j++ {
			dev := relativePairDeviation(ticks[i].Price, ticks[j].Price)
			if dev > maxDev {
				maxDev = dev
			}
		}
	}
	return maxDev
}

func relativePairDeviation(a, b float64) float64 {
	mid := (a + b) / 2
	if mid <= 0 {
		return 0
	}
	return math.Abs(a-b) / mid
}

func relativeDeviation(p, reference float64) float64 {
	if reference <= 0 {
		return 0
	}
	return math.Abs(p-reference) / reference
}

func vwap(ticks []types.PriceTick) float64 {
	var weighted, volume float64
	for _, tick := range ticks {
		if tick.Volume > 0 {
			weighted += tick.Price * tick.Volume
			volume += tick.Volume
		}
	}
	if volume <= 0 {
		var sum float64
		for _, tick := range ticks {
			sum += tick.Price
		}
		return sum / float64(len(ticks))
	}
	return weighted / volume
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
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
