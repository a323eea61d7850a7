package types

import "time"

// VolatilityRegime classifies recent consensus-price volatility relative to
// the asset's own rolling history.
type VolatilityRegime string

const (
	RegimeLow    VolatilityRegime = "LOW"
	RegimeNormal VolatilityRegime = "NORMAL"
	RegimeHigh   VolatilityRegime = "HIGH"
)

// ConsensusSnapshot is the fused price estimate for one asset at one instant.
// A fresh value is produced per pipeline cycle and never mutated afterwards;
// downstream components embed it by value.
type ConsensusSnapshot struct {
	Asset          string
	Price          float64
	AgreementScore float64 // 1.0 = every fresh source within the tolerance band
	SourceCount    int     // fresh sources that contributed
	Regime         VolatilityRegime

	// Short-window fractional returns of the consensus price itself.
	Move10s float64
	Move30s float64

	// VolumeSurge is the traded-volume ratio against the rolling baseline
	// (1.0 = normal). SpikeConcentration is the largest 10s move inside the
	// last 30s divided by |Move30s|; values near 1.0 mean the move happened
	// in one burst.
	VolumeSurge        float64
	SpikeConcentration float64

	Timestamp time.Time
}
