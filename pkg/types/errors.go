package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across components.
var (
	// ErrConsensusUnavailable means fewer than two fresh sources agreed, or
	// deviations exceeded the failure band. Callers skip the cycle; no
	// snapshot is ever fabricated.
	ErrConsensusUnavailable = errors.New("consensus unavailable")

	// ErrBreakerTripped is returned before any venue call when the circuit
	// breaker refuses new entries.
	ErrBreakerTripped = errors.New("circuit breaker tripped")

	// ErrPositionExists enforces the one-open-position-per-asset invariant.
	ErrPositionExists = errors.New("position already open for asset")

	// ErrMarketNotFound means no resolved market handle exists for the
	// asset, or its trading window has ended.
	ErrMarketNotFound = errors.New("market not found")

	// ErrBookUnavailable means the venue books for an asset have not yet
	// produced a two-sided quote. Callers skip the cycle.
	ErrBookUnavailable = errors.New("orderbook unavailable")

	// ErrNoFill means the maker order did not fill before its deadline.
	ErrNoFill = errors.New("order not filled before deadline")

	// ErrEdgeCollapsed means the divergence decayed below the collapse
	// threshold while the order was resting.
	ErrEdgeCollapsed = errors.New("edge collapsed before fill")
)

// OrderError wraps a venue rejection with its machine-readable code.
type OrderError struct {
	Code    string // venue error code or internal code
	Message string
	OrderID string
}

func (e *OrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("order %s rejected: %s (%s)", e.OrderID, e.Message, e.Code)
	}

	return fmt.Sprintf("order rejected: %s (%s)", e.Message, e.Code)
}

// Known venue error codes.
const (
	ErrCodePostOnlyCross  = "POST_ONLY_WOULD_CROSS"
	ErrCodeInvalidTick    = "INVALID_ORDER_MIN_TICK_SIZE"
	ErrCodeLowBalance     = "INVALID_ORDER_NOT_ENOUGH_BALANCE"
	ErrCodeMarketNotReady = "MARKET_NOT_READY"
	ErrCodeUnmatched      = "UNMATCHED"
)
