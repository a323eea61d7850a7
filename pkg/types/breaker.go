package types

import "time"

// BreakerEventKind distinguishes breaker state changes.
type BreakerEventKind string

const (
	BreakerTripped BreakerEventKind = "tripped"
	BreakerReset   BreakerEventKind = "reset"
)

// BreakerEvent records one circuit breaker state change with the counter
// values at the moment of the change.
type BreakerEvent struct {
	Kind          BreakerEventKind
	Reason        string // which ceiling tripped, empty on reset
	DailyPnL      float64
	FailedFills   int
	ExecutionCost float64
	At            time.Time
}
