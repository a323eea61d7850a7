package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// fakeStorage records everything written through it. When started and gate
// are set, each write announces itself on started and then blocks until
// gate closes, which lets tests hold the drain goroutine mid-write.
type fakeStorage struct {
	started chan struct{}
	gate    chan struct{}

	mu        sync.Mutex
	signals   []types.SignalCandidate
	positions []types.Position
	events    []types.BreakerEvent
	canned    []types.Position
	closed    bool
}

func (f *fakeStorage) hold() {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
}

func (f *fakeStorage) StoreSignal(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) error {
	f.hold()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, *candidate)
	return nil
}

func (f *fakeStorage) StorePosition(ctx context.Context, position *types.Position) error {
	f.hold()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, *position)
	return nil
}

func (f *fakeStorage) StoreBreakerEvent(ctx context.Context, event types.BreakerEvent) error {
	f.hold()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStorage) ClosedPositions(ctx context.Context, since time.Time) ([]types.Position, error) {
	return f.canned, nil
}

func (f *fakeStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestNewWriterValidatesConfig(t *testing.T) {
	cases := []struct {
		name   string
		store  Storage
		size   int
		logger *zap.Logger
	}{
		{name: "missing-store", store: nil, size: 4, logger: zaptest.NewLogger(t)},
		{name: "zero-queue-size", store: &fakeStorage{}, size: 0, logger: zaptest.NewLogger(t)},
		{name: "missing-logger", store: &fakeStorage{}, size: 4, logger: nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewWriter(tc.store, tc.size, tc.logger); err == nil {
				t.Fatal("expected constructor error")
			}
		})
	}
}

func TestWriterFlushesQueuedWritesOnClose(t *testing.T) {
	fake := &fakeStorage{}
	w, err := NewWriter(fake, 16, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ctx := context.Background()
	score := types.ConfidenceScore{Value: 0.82, Tier: types.TierGood}
	if err := w.StoreSignal(ctx, storedCandidate(), score); err != nil {
		t.Fatalf("StoreSignal: %v", err)
	}
	position := closedPosition()
	if err := w.StorePosition(ctx, &position); err != nil {
		t.Fatalf("StorePosition: %v", err)
	}
	event := types.BreakerEvent{Kind: types.BreakerTripped, Reason: "daily_loss", At: time.Now()}
	if err := w.StoreBreakerEvent(ctx, event); err != nil {
		t.Fatalf("StoreBreakerEvent: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.signals) != 1 || len(fake.positions) != 1 || len(fake.events) != 1 {
		t.Errorf("flushed %d/%d/%d records, want 1/1/1",
			len(fake.signals), len(fake.positions), len(fake.events))
	}
	if !fake.closed {
		t.Error("wrapped store was not closed")
	}
}

func TestWriterDropsWhenQueueFull(t *testing.T) {
	fake := &fakeStorage{
		started: make(chan struct{}, 8),
		gate:    make(chan struct{}),
	}
	w, err := NewWriter(fake, 1, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	ctx := context.Background()
	first := closedPosition()
	if err := w.StorePosition(ctx, &first); err != nil {
		t.Fatalf("StorePosition: %v", err)
	}
	// The drain goroutine is now inside the fake and the queue is empty.
	<-fake.started

	second := closedPosition()
	second.ID = "pos-queued"
	if err := w.StorePosition(ctx, &second); err != nil {
		t.Fatalf("StorePosition: %v", err)
	}

	third := closedPosition()
	third.ID = "pos-dropped"
	if err := w.StorePosition(ctx, &third); err != nil {
		t.Fatalf("StorePosition: %v", err)
	}

	close(fake.gate)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.positions) != 2 {
		t.Fatalf("stored %d positions, want 2", len(fake.positions))
	}
	for _, p := range fake.positions {
		if p.ID == "pos-dropped" {
			t.Error("overflow write reached the store")
		}
	}
}

func TestWriterCopiesRecordAtEnqueue(t *testing.T) {
	fake := &fakeStorage{}
	w, err := NewWriter(fake, 4, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	position := closedPosition()
	want := position.RealizedPnL
	if err := w.StorePosition(context.Background(), &position); err != nil {
		t.Fatalf("StorePosition: %v", err)
	}
	position.RealizedPnL = -99

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.positions) != 1 {
		t.Fatalf("stored %d positions, want 1", len(fake.positions))
	}
	if fake.positions[0].RealizedPnL != want {
		t.Errorf("stored RealizedPnL = %f, want the enqueue-time value %f",
			fake.positions[0].RealizedPnL, want)
	}
}

func TestWriterReadsPassThrough(t *testing.T) {
	fake := &fakeStorage{canned: []types.Position{closedPosition()}}
	w, err := NewWriter(fake, 4, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	got, err := w.ClosedPositions(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("ClosedPositions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "pos-1" {
		t.Errorf("read did not pass through to the wrapped store")
	}
}

func TestWriterDropsWritesAfterClose(t *testing.T) {
	fake := &fakeStorage{}
	w, err := NewWriter(fake, 4, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	position := closedPosition()
	if err := w.StorePosition(context.Background(), &position); err != nil {
		t.Fatalf("StorePosition after Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.positions) != 0 {
		t.Errorf("write after Close reached the store")
	}
}
