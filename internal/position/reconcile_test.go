package position

import (
	"context"
	"testing"
	"time"

	"github.com/quorumtrade/oraclelag/internal/execution"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

func lateEntryFill() execution.LateFill {
	return execution.LateFill{
		OrderID:    "late-1",
		MarketID:   "mkt-1",
		TokenID:    "btc-yes",
		Side:       types.OrderBuy,
		Price:      0.51,
		FilledSize: 40,
		FillPrice:  0.50,
		DetectedAt: time.Now(),
	}
}

func TestReconcileOpensLateEntryFill(t *testing.T) {
	f := newFixture(t, nil)

	f.manager.reconcile(lateEntryFill(), time.Now())

	position, ok := f.manager.Active("BTC")
	if !ok {
		t.Fatal("Active() = false, want a reconciled position")
	}
	if position.Status != types.PositionOpen {
		t.Errorf("Status = %s, want %s", position.Status, types.PositionOpen)
	}
	if !position.Reconciled {
		t.Error("Reconciled = false, want true")
	}
	if position.EntryPrice != 0.50 {
		t.Errorf("EntryPrice = %f, want 0.50", position.EntryPrice)
	}
	if position.Size != 40 {
		t.Errorf("Size = %f, want 40", position.Size)
	}
	if position.Direction != types.DirectionUp {
		t.Errorf("Direction = %s, want %s", position.Direction, types.DirectionUp)
	}
	if position.EntryOrderID != "late-1" {
		t.Errorf("EntryOrderID = %s, want late-1", position.EntryOrderID)
	}
}

func TestReconcileResolvesDownDirectionFromToken(t *testing.T) {
	f := newFixture(t, nil)

	late := lateEntryFill()
	late.TokenID = "btc-no"
	f.manager.reconcile(late, time.Now())

	position, ok := f.manager.Active("BTC")
	if !ok {
		t.Fatal("Active() = false, want a reconciled position")
	}
	if position.Direction != types.DirectionDown {
		t.Errorf("Direction = %s, want %s", position.Direction, types.DirectionDown)
	}
	if position.TokenID != "btc-no" {
		t.Errorf("TokenID = %s, want btc-no", position.TokenID)
	}
}

func TestReconcileSkipsExitSideFills(t *testing.T) {
	f := newFixture(t, nil)

	late := lateEntryFill()
	late.Side = types.OrderSell
	f.manager.reconcile(late, time.Now())

	if got := f.manager.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0 for an exit-side late fill", got)
	}
}

func TestReconcileSkipsUnknownToken(t *testing.T) {
	f := newFixture(t, nil)

	late := lateEntryFill()
	late.TokenID = "eth-yes"
	f.manager.reconcile(late, time.Now())

	if got := f.manager.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0 for an unknown token", got)
	}
}

func TestReconcileIgnoresAdoptedFill(t *testing.T) {
	f := newFixture(t, nil)

	opened, err := f.manager.Open(context.Background(), baseCandidate(), goodScore())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	// The controller reported the same order on the reconciliation
	// channel; the slot already carries it.
	late := lateEntryFill()
	late.OrderID = opened.EntryOrderID
	f.manager.reconcile(late, time.Now())

	position, ok := f.manager.Active("BTC")
	if !ok {
		t.Fatal("Active() = false, want the original position")
	}
	if position.ID != opened.ID {
		t.Errorf("position ID = %s, want the adopted %s", position.ID, opened.ID)
	}
	if got := f.manager.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestReconcileNeverDisplacesLivePosition(t *testing.T) {
	f := newFixture(t, nil)

	opened, err := f.manager.Open(context.Background(), baseCandidate(), goodScore())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	late := lateEntryFill()
	late.OrderID = "some-other-order"
	f.manager.reconcile(late, time.Now())

	position, ok := f.manager.Active("BTC")
	if !ok {
		t.Fatal("Active() = false, want the original position")
	}
	if position.ID != opened.ID {
		t.Errorf("position ID = %s, want untouched %s", position.ID, opened.ID)
	}
}

func TestReconcileLoopConsumesChannel(t *testing.T) {
	lateFills := make(chan execution.LateFill, 4)
	f := newFixture(t, func(c *Config) {
		c.LateFills = lateFills
	})

	lateFills <- lateEntryFill()

	deadline := time.After(2 * time.Second)
	for f.manager.Count() != 1 {
		select {
		case <-deadline:
			t.Fatal("late fill was not reconciled within 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}
	position, ok := f.manager.Active("BTC")
	if !ok || !position.Reconciled {
		t.Errorf("Active() = (%+v, %t), want a reconciled position", position, ok)
	}
}
