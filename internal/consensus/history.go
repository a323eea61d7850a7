package consensus

import (
	"math"
	"time"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

const (
	// priceHistoryAge bounds the rolling consensus price buffer.
	priceHistoryAge = 60 * time.Second

	// atrWindow is the number of consecutive moves averaged into one
	// true-range sample.
	atrWindow        = 14
	atrHistoryCap    = 1000
	regimeMinSamples = 50
	regimeLowPct     = 0.25
	regimeHighPct    = 0.75

	volumeWindowCap  = 300
	volumeMinSamples = 30
	volumeZScale     = 0.75

	spikeWindow    = 30 * time.Second
	spikeSubWindow = 10 * time.Second
)

type pricePoint struct {
	at    time.Time
	price float64
}

// assetHistory holds the rolling derived state for one asset: recent
// consensus prices, the volatility regime tracker, and tick volumes.
type assetHistory struct {
	points []pricePoint
	regime *regimeTracker
	volume *volumeTracker
}

func newAssetHistory() *assetHistory {
	return &assetHistory{
		regime: &regimeTracker{},
		volume: &volumeTracker{},
	}
}

func (h *assetHistory) record(now time.Time, price float64) {
	if n := len(h.points); n > 0 {
		prev := h.points[n-1].price
		if prev > 0 {
			h.regime.add(math.Abs(price-prev) / prev)
		}
	}
	h.points = append(h.points, pricePoint{at: now, price: price})

	cutoff := now.Add(-priceHistoryAge)
	drop := 0
	for drop < len(h.points) && h.points[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		h.points = append(h.points[:0], h.points[drop:]...)
	}
}

// move returns the relative price change over the lookback window, or
// 0 when the history does not reach back that far.
func (h *assetHistory) move(now time.Time, lookback time.Duration) float64 {
	if len(h.points) == 0 {
		return 0
	}
	ref, ok := h.priceAt(now.Add(-lookback))
	if !ok || ref <= 0 {
		return 0
	}
	current := h.points[len(h.points)-1].price
	return (current - ref) / ref
}

// priceAt returns the latest recorded price at or before t.
func (h *assetHistory) priceAt(t time.Time) (float64, bool) {
	for i := len(h.points) - 1; i >= 0; i-- {
		if !h.points[i].at.After(t) {
			return h.points[i].price, true
		}
	}
	return 0, false
}

// spikeConcentration measures how much of the 30s net move happened in
// a single 10s burst. A value near 1 means the move was one concentrated
// jump; near 0 means smooth drift or a reversal-heavy window.
func (h *assetHistory) spikeConcentration(now time.Time) float64 {
	net := h.move(now, spikeWindow)
	if math.Abs(net) < 1e-9 {
		return 0
	}

	cutoff := now.Add(-spikeWindow)
	maxBurst := 0.0
	for _, pt := range h.points {
		if pt.at.Before(cutoff) {
			continue
		}
		ref, ok := h.priceAt(pt.at.Add(-spikeSubWindow))
		if !ok || ref <= 0 {
			continue
		}
		burst := math.Abs(pt.price-ref) / ref
		if burst > maxBurst {
			maxBurst = burst
		}
	}
	return maxBurst / math.Abs(net)
}

// regimeTracker classifies volatility by ranking the current rolling
// average true range against its own history. It reports NORMAL until
// enough samples exist to rank against.
type regimeTracker struct {
	moves []float64
	atrs  []float64
}

func (r *regimeTracker) add(move float64) {
	r.moves = append(r.moves, move)
	if len(r.moves) > atrWindow {
		r.moves = r.moves[1:]
	}
	if len(r.moves) == atrWindow {
		r.atrs = append(r.atrs, mean(r.moves))
		if len(r.atrs) > atrHistoryCap {
			r.atrs = r.atrs[1:]
		}
	}
}

func (r *regimeTracker) classify() types.VolatilityRegime {
	n := len(r.atrs)
	if n < regimeMinSamples {
		return types.RegimeNormal
	}
	current := r.atrs[n-1]
	below, equal := 0, 0
	for _, v := range r.atrs {
		switch {
		case v < current:
			below++
		case v == current:
			equal++
		}
	}
	// Midrank keeps a flat volatility history in the NORMAL band.
	percentile := (float64(below) + 0.5*float64(equal)) / float64(n)
	switch {
	case percentile < regimeLowPct:
		return types.RegimeLow
	case percentile > regimeHighPct:
		return types.RegimeHigh
	default:
		return types.RegimeNormal
	}
}

// volumeTracker derives a volume-surge multiplier from the z-score of
// the latest tick volume against the rolling window. It reports a
// neutral 1.0 until the window has enough samples.
type volumeTracker struct {
	samples []float64
}

func (v *volumeTracker) add(volume float64) {
	if volume <= 0 {
		return
	}
	v.samples = append(v.samples, volume)
	if len(v.samples) > volumeWindowCap {
		v.samples = v.samples[1:]
	}
}

func (v *volumeTracker) surge() float64 {
	n := len(v.samples)
	if n < volumeMinSamples {
		return 1.0
	}
	m := mean(v.samples)
	sd := stddev(v.samples, m)
	if sd <= 0 {
		return 1.0
	}
	z := (v.samples[n-1] - m) / sd
	return math.Max(0, 1.0+volumeZScale*z)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}
