// Package circuitbreaker halts new order placement when cumulative daily
// damage crosses a configured ceiling. Tripping is terminal for the day
// unless the cooldown elapses first; open positions may always be exited.
package circuitbreaker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// Trip reasons, also used as metric labels.
const (
	ReasonDailyLoss   = "daily_loss_limit"
	ReasonFailedFills = "consecutive_failed_fills"
	ReasonDailyCost   = "daily_cost_limit"
)

// Config holds circuit breaker configuration.
type Config struct {
	// DailyLossLimit is the cumulative realized loss (positive number)
	// that trips the breaker.
	DailyLossLimit float64
	// MaxFailedFills is the consecutive failed-fill count that trips.
	MaxFailedFills int
	// DailyCostLimit is the cumulative execution cost that trips.
	DailyCostLimit float64
	// Cooldown restores entry permission after a trip without waiting
	// for the daily reset.
	Cooldown time.Duration
	// Events receives trip/reset notifications. Sends never block; a
	// full channel drops the event with a warning.
	Events chan<- types.BreakerEvent
	Logger *zap.Logger
}

// Status is a point-in-time snapshot for logging and HTTP endpoints.
type Status struct {
	Tripped       bool
	Reason        string
	TrippedAt     time.Time
	RestoresAt    time.Time // zero when not tripped
	DailyPnL      float64
	FailedFills   int
	ExecutionCost float64
	Day           time.Time // UTC midnight the counters belong to
}

// Breaker tracks daily loss, consecutive failed fills, and execution
// cost against their ceilings.
type Breaker struct {
	config Config
	logger *zap.Logger

	tripped atomic.Bool // lock-free fast path for AllowEntry

	mu            sync.Mutex
	dailyPnL      float64 // signed, losses negative
	failedFills   int
	executionCost float64
	trippedAt     time.Time
	tripReason    string
	day           time.Time
}

// New creates a breaker from the given configuration.
func New(cfg Config) (*Breaker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.DailyLossLimit <= 0 {
		return nil, fmt.Errorf("daily loss limit must be positive, got %f", cfg.DailyLossLimit)
	}
	if cfg.MaxFailedFills <= 0 {
		return nil, fmt.Errorf("max failed fills must be positive, got %d", cfg.MaxFailedFills)
	}
	if cfg.DailyCostLimit <= 0 {
		return nil, fmt.Errorf("daily cost limit must be positive, got %f", cfg.DailyCostLimit)
	}
	if cfg.Cooldown <= 0 {
		return nil, fmt.Errorf("cooldown must be positive")
	}

	b := &Breaker{
		config: cfg,
		logger: cfg.Logger.Named("breaker"),
		day:    utcDay(time.Now()),
	}

	TrippedState.Set(0)
	return b, nil
}

// AllowEntry reports whether new positions may be opened. A tripped
// breaker returns ErrBreakerTripped without any venue interaction.
func (b *Breaker) AllowEntry() error {
	return b.allowEntry(time.Now())
}

func (b *Breaker) allowEntry(now time.Time) error {
	// Untripped is the hot path and needs no lock: the ceilings can
	// only be crossed inside the recording calls, which roll the day
	// over themselves before checking.
	if !b.tripped.Load() {
		return nil
	}

	b.mu.Lock()
	b.rollover(now)
	b.maybeRestore(now)
	tripped := b.tripped.Load()
	reason := b.tripReason
	b.mu.Unlock()

	if tripped {
		EntriesRefusedTotal.Inc()
		return fmt.Errorf("%w: %s", types.ErrBreakerTripped, reason)
	}
	return nil
}

// AllowExit reports whether positions may be closed. Exits are always
// permitted; a breaker must never trap an open position.
func (b *Breaker) AllowExit() error {
	return nil
}

// RecordPnL adds a realized trade result to the daily total.
func (b *Breaker) RecordPnL(pnl float64) {
	b.recordPnL(pnl, time.Now())
}

func (b *Breaker) recordPnL(pnl float64, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(now)
	b.dailyPnL += pnl
	DailyPnL.Set(b.dailyPnL)

	if -b.dailyPnL >= b.config.DailyLossLimit {
		b.trip(ReasonDailyLoss, now)
	}
}

// RecordFillSuccess resets the consecutive failed-fill streak.
func (b *Breaker) RecordFillSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(time.Now())
	b.failedFills = 0
	FailedFillStreak.Set(0)
}

// RecordFailedFill extends the failed-fill streak.
func (b *Breaker) RecordFailedFill() {
	b.recordFailedFill(time.Now())
}

func (b *Breaker) recordFailedFill(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(now)
	b.failedFills++
	FailedFillStreak.Set(float64(b.failedFills))

	if b.failedFills >= b.config.MaxFailedFills {
		b.trip(ReasonFailedFills, now)
	}
}

// RecordExecutionCost adds slippage and fees from one order.
func (b *Breaker) RecordExecutionCost(cost float64) {
	b.recordExecutionCost(cost, time.Now())
}

func (b *Breaker) recordExecutionCost(cost float64, now time.Time) {
	if cost <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(now)
	b.executionCost += cost
	DailyExecutionCost.Set(b.executionCost)

	if b.executionCost >= b.config.DailyCostLimit {
		b.trip(ReasonDailyCost, now)
	}
}

// State returns a snapshot of the breaker.
func (b *Breaker) State() Status {
	return b.stateAt(time.Now())
}

func (b *Breaker) stateAt(now time.Time) Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover(now)
	b.maybeRestore(now)

	status := Status{
		Tripped:       b.tripped.Load(),
		Reason:        b.tripReason,
		TrippedAt:     b.trippedAt,
		DailyPnL:      b.dailyPnL,
		FailedFills:   b.failedFills,
		ExecutionCost: b.executionCost,
		Day:           b.day,
	}
	if status.Tripped {
		status.RestoresAt = b.trippedAt.Add(b.config.Cooldown)
	}
	return status
}

// trip is idempotent; a breaker already tripped stays tripped with its
// original reason. Caller holds b.mu.
func (b *Breaker) trip(reason string, now time.Time) {
	if b.tripped.Load() {
		return
	}
	b.tripped.Store(true)
	b.trippedAt = now
	b.tripReason = reason

	TrippedState.Set(1)
	TripsTotal.WithLabelValues(reason).Inc()

	b.logger.Warn("circuit-breaker-tripped",
		zap.String("reason", reason),
		zap.Float64("daily-pnl", b.dailyPnL),
		zap.Int("failed-fills", b.failedFills),
		zap.Float64("execution-cost", b.executionCost),
		zap.Time("restores-at", now.Add(b.config.Cooldown)))

	b.emit(types.BreakerEvent{
		Kind:          types.BreakerTripped,
		Reason:        reason,
		DailyPnL:      b.dailyPnL,
		FailedFills:   b.failedFills,
		ExecutionCost: b.executionCost,
		At:            now,
	})
}

// maybeRestore lifts the trip once the cooldown has elapsed. The
// failed-fill streak is cleared with it; the daily loss and cost
// counters survive until the daily reset. Caller holds b.mu.
func (b *Breaker) maybeRestore(now time.Time) {
	if !b.tripped.Load() {
		return
	}
	if now.Before(b.trippedAt.Add(b.config.Cooldown)) {
		return
	}

	b.tripped.Store(false)
	b.tripReason = ""
	b.failedFills = 0

	TrippedState.Set(0)
	FailedFillStreak.Set(0)

	b.logger.Info("circuit-breaker-restored",
		zap.Duration("cooldown", b.config.Cooldown))

	b.emit(types.BreakerEvent{
		Kind:          types.BreakerReset,
		DailyPnL:      b.dailyPnL,
		ExecutionCost: b.executionCost,
		At:            now,
	})
}

// rollover zeroes the counters when the UTC day advances. Caller holds
// b.mu.
func (b *Breaker) rollover(now time.Time) {
	day := utcDay(now)
	if !day.After(b.day) {
		return
	}

	wasTripped := b.tripped.Load()
	b.day = day
	b.dailyPnL = 0
	b.failedFills = 0
	b.executionCost = 0
	b.tripped.Store(false)
	b.tripReason = ""

	TrippedState.Set(0)
	DailyPnL.Set(0)
	FailedFillStreak.Set(0)
	DailyExecutionCost.Set(0)

	b.logger.Info("daily-counters-reset", zap.Time("day", day))

	if wasTripped {
		b.emit(types.BreakerEvent{Kind: types.BreakerReset, At: now})
	}
}

func (b *Breaker) emit(event types.BreakerEvent) {
	if b.config.Events == nil {
		return
	}
	select {
	case b.config.Events <- event:
	default:
		b.logger.Warn("breaker-event-dropped",
			zap.String("kind", string(event.Kind)))
	}
}

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
