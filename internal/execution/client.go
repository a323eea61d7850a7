// Package execution places maker orders and resolves their outcome
// against a hard deadline. Every placement is post-only; a missed fill
// is always preferred over paying taker fees.
package execution

import (
	"context"
	"time"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// OrderRequest describes one order to place at the venue.
type OrderRequest struct {
	MarketID string
	TokenID  string
	Side     types.OrderSide
	Price    float64
	Size     float64 // contracts
	PostOnly bool
}

// CancelResult reports what the venue did with a cancellation. A cancel
// that loses the race to a fill carries the fill context instead.
type CancelResult struct {
	AlreadyFilled bool    // order was fully filled before the cancel landed
	FilledSize    float64 // contracts filled at cancel time, partial or full
	FillPrice     float64
}

// OrderClient is the venue-facing order surface. Implementations must
// be safe for concurrent use.
type OrderClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*types.Order, error)
	GetOrder(ctx context.Context, orderID string) (*types.Order, error)
	CancelOrder(ctx context.Context, orderID string) (*CancelResult, error)
}

// Outcome is how a placement wait resolved.
type Outcome string

const (
	OutcomeFilled    Outcome = "filled"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCollapsed Outcome = "edge_collapsed"
)

// Request describes one maker placement attempt.
type Request struct {
	MarketID string
	TokenID  string
	Side     types.OrderSide
	Price    float64 // tick-aligned maker price
	Size     float64 // contracts

	// InitialEdge is the divergence that justified this order.
	// EdgeCheck, when set, is polled during the wait; the wait is
	// abandoned once the live edge decays below the collapse fraction
	// of InitialEdge.
	InitialEdge float64
	EdgeCheck   func() float64
}

// Result is the resolved outcome of a placement wait.
type Result struct {
	Outcome       Outcome
	OrderID       string
	FilledSize    float64
	FillPrice     float64
	ExecutionCost float64 // slippage plus fixed per-order cost
	LateFill      bool    // a fill surfaced during cancellation
	Elapsed       time.Duration
}

// LateFill is a fill discovered during cancellation, after the wait had
// already resolved against the order. It must be reconciled into a
// position; the tokens are held either way.
type LateFill struct {
	OrderID    string
	MarketID   string
	TokenID    string
	Side       types.OrderSide
	Price      float64 // price the order was placed at
	FilledSize float64
	FillPrice  float64
	DetectedAt time.Time
}
