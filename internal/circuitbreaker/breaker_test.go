package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

func newTestBreaker(t *testing.T, events chan types.BreakerEvent) *Breaker {
	t.Helper()

	cfg := Config{
		DailyLossLimit: 40,
		MaxFailedFills: 3,
		DailyCostLimit: 10,
		Cooldown:       time.Hour,
		Logger:         zaptest.NewLogger(t),
	}
	if events != nil {
		cfg.Events = events
	}

	breaker, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return breaker
}

// testClock returns a deterministic future instant so daily rollover
// only happens when a test crosses midnight on purpose.
func testClock() time.Time {
	return utcDay(time.Now()).Add(26 * time.Hour)
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "missing-logger",
			mutate: func(c *Config) { c.Logger = nil },
			errMsg: "logger is required",
		},
		{
			name:   "zero-loss-limit",
			mutate: func(c *Config) { c.DailyLossLimit = 0 },
			errMsg: "daily loss limit must be positive, got 0.000000",
		},
		{
			name:   "zero-failed-fills",
			mutate: func(c *Config) { c.MaxFailedFills = 0 },
			errMsg: "max failed fills must be positive, got 0",
		},
		{
			name:   "negative-cost-limit",
			mutate: func(c *Config) { c.DailyCostLimit = -1 },
			errMsg: "daily cost limit must be positive, got -1.000000",
		},
		{
			name:   "zero-cooldown",
			mutate: func(c *Config) { c.Cooldown = 0 },
			errMsg: "cooldown must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{
				DailyLossLimit: 40,
				MaxFailedFills: 3,
				DailyCostLimit: 10,
				Cooldown:       time.Hour,
				Logger:         zaptest.NewLogger(t),
			}
			tt.mutate(&cfg)

			if _, err := New(cfg); err == nil || err.Error() != tt.errMsg {
				t.Errorf("New() error = %v, want %q", err, tt.errMsg)
			}
		})
	}
}

func TestConsecutiveFailedFillsTrip(t *testing.T) {
	breaker := newTestBreaker(t, nil)
	now := testClock()

	for i := 0; i < 2; i++ {
		breaker.recordFailedFill(now)
	}
	if err := breaker.allowEntry(now); err != nil {
		t.Fatalf("allowEntry() after 2 failures = %v, want nil", err)
	}

	breaker.recordFailedFill(now)

	err := breaker.allowEntry(now)
	if !errors.Is(err, types.ErrBreakerTripped) {
		t.Fatalf("allowEntry() = %v, want ErrBreakerTripped", err)
	}

	state := breaker.stateAt(now)
	if !state.Tripped || state.Reason != ReasonFailedFills {
		t.Errorf("State = %+v, want tripped with reason %s", state, ReasonFailedFills)
	}
}

func TestFillSuccessResetsStreak(t *testing.T) {
	breaker := newTestBreaker(t, nil)
	now := testClock()

	breaker.recordFailedFill(now)
	breaker.recordFailedFill(now)
	breaker.RecordFillSuccess()
	breaker.recordFailedFill(now)

	if err := breaker.allowEntry(now); err != nil {
		t.Errorf("allowEntry() = %v, want nil after streak reset", err)
	}
	if state := breaker.stateAt(now); state.FailedFills != 1 {
		t.Errorf("FailedFills = %d, want 1", state.FailedFills)
	}
}

func TestDailyLossTrips(t *testing.T) {
	breaker := newTestBreaker(t, nil)
	now := testClock()

	breaker.recordPnL(-25, now)
	if err := breaker.allowEntry(now); err != nil {
		t.Fatalf("allowEntry() at -25 = %v, want nil", err)
	}

	breaker.recordPnL(-15, now)
	if err := breaker.allowEntry(now); !errors.Is(err, types.ErrBreakerTripped) {
		t.Fatalf("allowEntry() at -40 = %v, want ErrBreakerTripped", err)
	}
	if state := breaker.stateAt(now); state.Reason != ReasonDailyLoss {
		t.Errorf("Reason = %s, want %s", state.Reason, ReasonDailyLoss)
	}
}

func TestGainsOffsetLosses(t *testing.T) {
	breaker := newTestBreaker(t, nil)
	now := testClock()

	breaker.recordPnL(10, now)
	breaker.recordPnL(-45, now)
	if err := breaker.allowEntry(now); err != nil {
		t.Fatalf("allowEntry() at net -35 = %v, want nil", err)
	}

	breaker.recordPnL(-5, now)
	if err := breaker.allowEntry(now); !errors.Is(err, types.ErrBreakerTripped) {
		t.Errorf("allowEntry() at net -40 = %v, want ErrBreakerTripped", err)
	}
}

func TestExecutionCostTrips(t *testing.T) {
	breaker := newTestBreaker(t, nil)
	now := testClock()

	breaker.recordExecutionCost(6, now)
	breaker.recordExecutionCost(-1, now) // ignored
	if err := breaker.allowEntry(now); err != nil {
		t.Fatalf("allowEntry() at cost 6 = %v, want nil", err)
	}

	breaker.recordExecutionCost(4, now)
	if err := breaker.allowEntry(now); !errors.Is(err, types.ErrBreakerTripped) {
		t.Fatalf("allowEntry() at cost 10 = %v, want ErrBreakerTripped", err)
	}
	if state := breaker.stateAt(now); state.Reason != ReasonDailyCost {
		t.Errorf("Reason = %s, want %s", state.Reason, ReasonDailyCost)
	}
}

func TestCooldownRestoresEntries(t *testing.T) {
	breaker := newTestBreaker(t, nil)
	now := testClock()

	breaker.recordPnL(-40, now)

	if err := breaker.allowEntry(now.Add(30 * time.Minute)); !errors.Is(err, types.ErrBreakerTripped) {
		t.Fatalf("allowEntry() mid-cooldown = %v, want ErrBreakerTripped", err)
	}

	after := now.Add(61 * time.Minute)
	if err := breaker.allowEntry(after); err != nil {
		t.Fatalf("allowEntry() after cooldown = %v, want nil", err)
	}

	// Loss is cumulative until the daily reset, so the next loss
	// crosses the ceiling again.
	state := breaker.stateAt(after)
	if state.Tripped || state.DailyPnL != -40 {
		t.Errorf("State = %+v, want restored with DailyPnL -40", state)
	}
	breaker.recordPnL(-0.5, after)
	if err := breaker.allowEntry(after); !errors.Is(err, types.ErrBreakerTripped) {
		t.Errorf("allowEntry() after further loss = %v, want ErrBreakerTripped", err)
	}
}

func TestAllowEntryUntrippedSkipsLock(t *testing.T) {
	breaker := newTestBreaker(t, nil)
	now := testClock()

	// The untripped check rides the atomic flag alone, so an entry
	// decision goes through even while a recording call holds the lock.
	breaker.mu.Lock()
	done := make(chan error, 1)
	go func() { done <- breaker.allowEntry(now) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("allowEntry() = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("allowEntry() blocked on the mutex while untripped")
	}
	breaker.mu.Unlock()
}

func TestDailyRolloverResetsCounters(t *testing.T) {
	breaker := newTestBreaker(t, nil)
	base := utcDay(time.Now()).Add(72 * time.Hour)
	evening := base.Add(23*time.Hour + 50*time.Minute)

	breaker.recordPnL(-40, evening)
	breaker.recordExecutionCost(3, evening)
	if err := breaker.allowEntry(evening); !errors.Is(err, types.ErrBreakerTripped) {
		t.Fatalf("allowEntry() = %v, want ErrBreakerTripped", err)
	}

	morning := base.Add(24*time.Hour + 5*time.Minute)
	if err := breaker.allowEntry(morning); err != nil {
		t.Fatalf("allowEntry() after rollover = %v, want nil", err)
	}

	state := breaker.stateAt(morning)
	if state.Tripped || state.DailyPnL != 0 || state.ExecutionCost != 0 || state.FailedFills != 0 {
		t.Errorf("State = %+v, want zeroed counters", state)
	}
	if !state.Day.Equal(base.Add(24 * time.Hour)) {
		t.Errorf("Day = %v, want %v", state.Day, base.Add(24*time.Hour))
	}
}

func TestAllowExitAlwaysPermitted(t *testing.T) {
	breaker := newTestBreaker(t, nil)
	now := testClock()

	for i := 0; i < 3; i++ {
		breaker.recordFailedFill(now)
	}

	if err := breaker.AllowExit(); err != nil {
		t.Errorf("AllowExit() = %v, want nil while tripped", err)
	}
}

func TestTripEmitsEvents(t *testing.T) {
	events := make(chan types.BreakerEvent, 8)
	breaker := newTestBreaker(t, events)
	now := testClock()

	breaker.recordPnL(-40, now)

	select {
	case event := <-events:
		if event.Kind != types.BreakerTripped || event.Reason != ReasonDailyLoss {
			t.Errorf("event = %+v, want tripped/%s", event, ReasonDailyLoss)
		}
		if event.DailyPnL != -40 {
			t.Errorf("event DailyPnL = %v, want -40", event.DailyPnL)
		}
	default:
		t.Fatal("no trip event emitted")
	}

	breaker.stateAt(now.Add(61 * time.Minute))

	select {
	case event := <-events:
		if event.Kind != types.BreakerReset {
			t.Errorf("event Kind = %v, want reset", event.Kind)
		}
	default:
		t.Fatal("no reset event emitted")
	}
}

func TestEventSendNeverBlocks(t *testing.T) {
	events := make(chan types.BreakerEvent, 1)
	events <- types.BreakerEvent{} // fill the buffer
	breaker := newTestBreaker(t, events)

	done := make(chan struct{})
	go func() {
		breaker.recordPnL(-40, testClock())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recordPnL blocked on a full event channel")
	}
}

func TestTripIsIdempotent(t *testing.T) {
	events := make(chan types.BreakerEvent, 8)
	breaker := newTestBreaker(t, events)
	now := testClock()

	for i := 0; i < 3; i++ {
		breaker.recordFailedFill(now)
	}
	breaker.recordPnL(-50, now)

	if state := breaker.stateAt(now); state.Reason != ReasonFailedFills {
		t.Errorf("Reason = %s, want original %s", state.Reason, ReasonFailedFills)
	}
	if got := len(events); got != 1 {
		t.Errorf("events emitted = %d, want 1", got)
	}
}
