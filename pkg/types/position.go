package types

import "time"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	PositionPending  PositionStatus = "pending"  // entry order resting
	PositionOpen     PositionStatus = "open"     // entry filled, monitored
	PositionClosing  PositionStatus = "closing"  // exit order(s) in flight
	PositionClosed   PositionStatus = "closed"   // exit filled, terminal
	PositionRejected PositionStatus = "rejected" // entry never filled, terminal
)

// ExitReason is the closed set of exit triggers, listed in evaluation
// priority order.
type ExitReason string

const (
	ExitOracleImminent    ExitReason = "oracle_update_imminent"
	ExitSpreadConverged   ExitReason = "spread_converged"
	ExitTakeProfit        ExitReason = "take_profit"
	ExitStopLoss          ExitReason = "stop_loss"
	ExitTimeLimit         ExitReason = "time_limit"
	ExitEmergency         ExitReason = "emergency_time_limit"
	ExitLiquidityCollapse ExitReason = "liquidity_collapse"
)

// Position is one trade through its whole lifecycle. A single monitor
// goroutine owns each open position; writes happen under the manager's
// lock and the manager hands out copies.
type Position struct {
	ID           string
	SignalID     string
	Asset        string
	MarketID     string
	TokenID      string // outcome token actually held
	EntryOrderID string

	Direction  Direction
	EntryPrice float64
	Size       float64 // contracts held
	EntryTime  time.Time
	Status     PositionStatus

	// Entry context, kept for adaptive exits and post-trade analysis.
	Confidence        float64
	InitialDivergence float64
	InitialOracleAge  float64

	// Running extremes updated by the monitor loop.
	MaxProfitPct   float64
	MaxDrawdownPct float64

	ExitPrice   float64
	ExitTime    time.Time
	ExitReason  ExitReason
	RealizedPnL float64 // quote currency, net of nothing but fills

	// Reconciled marks a position opened from a late fill after the entry
	// wait had already given up.
	Reconciled bool
}

// PositionEventKind labels position lifecycle events.
type PositionEventKind string

const (
	PositionEventOpened   PositionEventKind = "opened"
	PositionEventClosed   PositionEventKind = "closed"
	PositionEventRejected PositionEventKind = "rejected"
)

// PositionEvent is emitted on lifecycle transitions. Position is a copy
// taken at emit time.
type PositionEvent struct {
	Kind     PositionEventKind
	Position Position
	At       time.Time
}

// HoldDuration returns how long the position has been (or was) open.
func (p *Position) HoldDuration(now time.Time) time.Duration {
	if p.Status == PositionClosed && !p.ExitTime.IsZero() {
		return p.ExitTime.Sub(p.EntryTime)
	}
	return now.Sub(p.EntryTime)
}

// UnrealizedPnLPct returns the fractional gain of the position at the given
// exit-side bid.
func (p *Position) UnrealizedPnLPct(sideBid float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (sideBid - p.EntryPrice) / p.EntryPrice
}
