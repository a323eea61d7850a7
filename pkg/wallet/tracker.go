package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

const pollTimeout = 15 * time.Second

// Tracker periodically reads on-chain balances and publishes them as
// gauges, warning when collateral runs low.
type Tracker struct {
	client        *Client
	address       common.Address
	pollInterval  time.Duration
	lowCollateral float64
	logger        *zap.Logger
}

// Config holds tracker configuration.
type Config struct {
	RPCURL          string
	Address         common.Address
	CollateralToken string
	ExchangeSpender string
	PollInterval    time.Duration
	// LowCollateral is the balance, in whole collateral units, below
	// which each poll logs a warning. Zero disables the warning.
	LowCollateral float64
	Logger        *zap.Logger
}

// New creates a balance tracker.
func New(cfg *Config) (*Tracker, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("poll interval must be positive")
	}

	client, err := NewClient(ClientConfig{
		RPCURL:          cfg.RPCURL,
		CollateralToken: cfg.CollateralToken,
		ExchangeSpender: cfg.ExchangeSpender,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	return &Tracker{
		client:        client,
		address:       cfg.Address,
		pollInterval:  cfg.PollInterval,
		lowCollateral: cfg.LowCollateral,
		logger:        cfg.Logger,
	}, nil
}

// Run polls balances until the context is cancelled (blocking).
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info("wallet-tracker-starting",
		zap.Duration("poll-interval", t.pollInterval),
		zap.String("address", t.address.Hex()))

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	if err := t.poll(ctx); err != nil {
		t.logger.Error("initial-poll-failed", zap.Error(err))
		UpdateErrorsTotal.Inc()
	}

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("wallet-tracker-stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := t.poll(ctx); err != nil {
				t.logger.Error("poll-failed", zap.Error(err))
				UpdateErrorsTotal.Inc()
			}
		}
	}
}

// poll performs one balance refresh.
func (t *Tracker) poll(ctx context.Context) error {
	start := time.Now()
	defer func() {
		UpdateDuration.Observe(time.Since(start).Seconds())
	}()

	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	balances, err := t.client.GetBalances(pollCtx, t.address)
	if err != nil {
		return fmt.Errorf("get balances: %w", err)
	}

	t.publish(balances)
	LastUpdateTimestamp.Set(float64(time.Now().Unix()))

	t.logger.Debug("balances-refreshed",
		zap.Float64("collateral", balances.CollateralFloat()),
		zap.Float64("allowance", balances.AllowanceFloat()),
		zap.Duration("duration", time.Since(start)))

	return nil
}

func (t *Tracker) publish(balances *Balances) {
	collateral := balances.CollateralFloat()

	GasBalance.Set(balances.GasFloat())
	CollateralBalance.Set(collateral)
	CollateralAllowance.Set(balances.AllowanceFloat())

	if t.collateralLow(collateral) {
		t.logger.Warn("collateral-low",
			zap.Float64("balance", collateral),
			zap.Float64("threshold", t.lowCollateral))
	}
}

func (t *Tracker) collateralLow(balance float64) bool {
	return t.lowCollateral > 0 && balance < t.lowCollateral
}
