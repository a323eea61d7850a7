package storage

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

func TestConsoleStorageLogsAndRetainsNothing(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := NewConsoleStorage(zap.New(core))
	ctx := context.Background()

	score := types.ConfidenceScore{Value: 0.82, Tier: types.TierGood}
	if err := c.StoreSignal(ctx, storedCandidate(), score); err != nil {
		t.Fatalf("StoreSignal: %v", err)
	}
	position := closedPosition()
	if err := c.StorePosition(ctx, &position); err != nil {
		t.Fatalf("StorePosition: %v", err)
	}
	if err := c.StoreBreakerEvent(ctx, types.BreakerEvent{Kind: types.BreakerReset, At: time.Now()}); err != nil {
		t.Fatalf("StoreBreakerEvent: %v", err)
	}

	for _, msg := range []string{"signal-recorded", "position-recorded", "breaker-event-recorded"} {
		if n := logs.FilterMessage(msg).Len(); n != 1 {
			t.Errorf("message %q logged %d times, want 1", msg, n)
		}
	}

	got, err := c.ClosedPositions(ctx, time.Time{})
	if err != nil {
		t.Fatalf("ClosedPositions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("console backend returned %d positions, want none", len(got))
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
