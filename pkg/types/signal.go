package types

import "time"

// Direction is the side of a divergence signal: UP buys the YES token, DOWN
// buys the NO token.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// SignalType distinguishes how a candidate cleared the gates.
type SignalType string

const (
	// SignalStandard passed every standard gate.
	SignalStandard SignalType = "standard"
	// SignalEscapeClause passed via the relaxed-move escape clause and
	// carries a fixed confidence penalty.
	SignalEscapeClause SignalType = "escape_clause"
)

// RejectionReason is the closed set of ways an evaluation cycle declines to
// produce a candidate. Every rejection carries exactly one of these.
type RejectionReason string

const (
	RejectConsensusFailure  RejectionReason = "consensus_failure"
	RejectCooldownActive    RejectionReason = "cooldown_active"
	RejectDivergenceTooLow  RejectionReason = "divergence_too_low"
	RejectBookTooFresh      RejectionReason = "book_too_fresh"
	RejectBookTooStale      RejectionReason = "book_too_stale"
	RejectInsufficientMove  RejectionReason = "insufficient_move"
	RejectVolumeLow         RejectionReason = "volume_low"
	RejectSmoothDrift       RejectionReason = "smooth_drift"
	RejectAgreementLow      RejectionReason = "agreement_low"
	RejectLiquidityLow      RejectionReason = "liquidity_low"
	RejectLiquidityCollapse RejectionReason = "liquidity_collapse"
	RejectEntryPriceRange   RejectionReason = "entry_price_range"
	RejectLowConfidence     RejectionReason = "low_confidence"
)

// SignalCandidate is an accepted divergence detection. The consensus and
// market snapshots it was computed from are embedded by value so the
// candidate can never observe later mutations or mix data across cycles.
// Candidates are immutable once emitted.
type SignalCandidate struct {
	ID          string
	Asset       string
	Direction   Direction
	Divergence  float64 // |implied probability - market YES price|
	ImpliedProb float64
	Type        SignalType
	Override    bool // true when the high-divergence override bypassed gates

	Consensus ConsensusSnapshot
	Market    MarketSnapshot
	Oracle    *OracleState // copy, nil when no oracle data was available

	CreatedAt time.Time
}

// ConfidenceTier buckets a confidence value for sizing and reporting.
type ConfidenceTier string

const (
	TierHigh     ConfidenceTier = "high"
	TierGood     ConfidenceTier = "good"
	TierModerate ConfidenceTier = "moderate"
	TierLow      ConfidenceTier = "low"
	TierPoor     ConfidenceTier = "poor"
)

// FactorScore is one factor's contribution to a confidence score.
type FactorScore struct {
	Raw      float64 // normalized sub-score in [0, 1]
	Weighted float64 // Raw multiplied by the factor weight
}

// ScoreBreakdown carries every factor of a confidence score so rejected and
// accepted candidates alike can be audited after the fact.
type ScoreBreakdown struct {
	Divergence  FactorScore
	Staleness   FactorScore
	Agreement   FactorScore
	Liquidity   FactorScore
	VolumeSurge FactorScore
	Spike       FactorScore
	Penalty     float64 // escape-clause penalty subtracted from the sum
}

// ConfidenceScore is the scored quality of a candidate. Never mutated after
// creation.
type ConfidenceScore struct {
	Value   float64 // [0, 1]
	Tier    ConfidenceTier
	Factors ScoreBreakdown
}
