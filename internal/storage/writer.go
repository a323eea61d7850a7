package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// writeTimeout bounds each drained write so a stalled database cannot
// wedge the queue behind one operation.
const writeTimeout = 5 * time.Second

type writeOp struct {
	kind  string
	apply func(ctx context.Context) error
}

// Writer wraps a Storage with a buffered queue drained by a single
// goroutine, so archive calls on the trading path return immediately.
// A full queue drops the write and counts it rather than blocking; reads
// pass straight through to the wrapped backend.
type Writer struct {
	store  Storage
	logger *zap.Logger
	queue  chan writeOp
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWriter wraps store and starts the drain goroutine.
func NewWriter(store Storage, queueSize int, logger *zap.Logger) (*Writer, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if queueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive, got %d", queueSize)
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	w := &Writer{
		store:  store,
		logger: logger,
		queue:  make(chan writeOp, queueSize),
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func (w *Writer) run() {
	defer w.wg.Done()
	for op := range w.queue {
		WriteQueueDepth.Set(float64(len(w.queue)))
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := op.apply(ctx); err != nil {
			WriteErrorsTotal.WithLabelValues(op.kind).Inc()
			w.logger.Error("storage-write-failed",
				zap.String("kind", op.kind),
				zap.Error(err))
		} else {
			WritesTotal.WithLabelValues(op.kind).Inc()
		}
		cancel()
	}
}

// StoreSignal queues the write. The candidate is copied at enqueue time so
// later mutation by the caller cannot reach the queue.
func (w *Writer) StoreSignal(ctx context.Context, candidate *types.SignalCandidate, score types.ConfidenceScore) error {
	c := *candidate
	w.enqueue("signal", func(ctx context.Context) error {
		return w.store.StoreSignal(ctx, &c, score)
	})
	return nil
}

// StorePosition queues the write with a copy of the position.
func (w *Writer) StorePosition(ctx context.Context, position *types.Position) error {
	p := *position
	w.enqueue("position", func(ctx context.Context) error {
		return w.store.StorePosition(ctx, &p)
	})
	return nil
}

// StoreBreakerEvent queues the write.
func (w *Writer) StoreBreakerEvent(ctx context.Context, event types.BreakerEvent) error {
	w.enqueue("breaker_event", func(ctx context.Context) error {
		return w.store.StoreBreakerEvent(ctx, event)
	})
	return nil
}

// ClosedPositions reads through to the wrapped store synchronously.
func (w *Writer) ClosedPositions(ctx context.Context, since time.Time) ([]types.Position, error) {
	return w.store.ClosedPositions(ctx, since)
}

func (w *Writer) enqueue(kind string, apply func(ctx context.Context) error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		DroppedWritesTotal.WithLabelValues(kind).Inc()
		return
	}
	select {
	case w.queue <- writeOp{kind: kind, apply: apply}:
		WriteQueueDepth.Set(float64(len(w.queue)))
	default:
		DroppedWritesTotal.WithLabelValues(kind).Inc()
		w.logger.Warn("storage-write-dropped", zap.String("kind", kind))
	}
}

// Close drains every queued write, then closes the wrapped store. Writes
// arriving after Close are dropped.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	w.wg.Wait()
	return w.store.Close()
}
