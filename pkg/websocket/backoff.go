package websocket

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackoffConfig shapes the exponential retry schedule.
type BackoffConfig struct {
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64 // 0.2 adds up to 20% to each delay
}

// Backoff retries a connect function with exponential backoff and jitter
// so a fleet of clients does not hammer a recovering endpoint in sync.
type Backoff struct {
	config BackoffConfig
	logger *zap.Logger

	mu      sync.Mutex
	current time.Duration
}

// NewBackoff creates a retry helper starting at the initial delay.
func NewBackoff(cfg BackoffConfig, logger *zap.Logger) *Backoff {
	return &Backoff{
		config:  cfg,
		logger:  logger,
		current: cfg.InitialDelay,
	}
}

// Retry runs connect until it succeeds or ctx is done. Each failure
// stretches the next delay by the multiplier up to the cap; success
// resets the schedule.
func (b *Backoff) Retry(ctx context.Context, connect func(context.Context) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		delay := b.next()
		b.logger.Info("attempting-reconnection", zap.Duration("backoff", delay))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if err := connect(ctx); err != nil {
			b.logger.Warn("reconnection-failed", zap.Error(err))
			b.stretch()
			continue
		}

		b.Reset()
		b.logger.Info("reconnection-successful")
		return nil
	}
}

// Reset returns the schedule to the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.config.InitialDelay
}

func (b *Backoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	jitter := rand.Float64() * b.config.JitterFraction
	return time.Duration(float64(b.current) * (1.0 + jitter))
}

func (b *Backoff) stretch() {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := time.Duration(float64(b.current) * b.config.Multiplier)
	if next > b.config.MaxDelay {
		next = b.config.MaxDelay
	}
	b.current = next
}
