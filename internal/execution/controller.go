package execution

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

// fillTolerance absorbs float noise when comparing filled size against
// order size.
const fillTolerance = 0.001

const cancelTimeout = 5 * time.Second

// Breaker is the subset of the circuit breaker the controller consults.
type Breaker interface {
	AllowEntry() error
	AllowExit() error
	RecordFillSuccess()
	RecordFailedFill()
	RecordExecutionCost(cost float64)
}

// Config holds controller configuration.
type Config struct {
	Client  OrderClient
	Breaker Breaker
	// Deadline bounds the wait for a maker fill. Hard: a fill that
	// lands after it is a late fill, never a winner.
	Deadline     time.Duration
	PollInterval time.Duration
	// CollapseFraction of the initial edge below which a resting
	// order's wait is abandoned.
	CollapseFraction float64
	// PerOrderCost is the fixed cost charged to the breaker per order,
	// on top of measured slippage.
	PerOrderCost float64
	// LateFills receives fills discovered during cancellation.
	LateFills chan<- LateFill
	Logger    *zap.Logger
}

// Controller runs the maker placement protocol: place post-only, wait
// for at most one of fill, deadline, or edge collapse, then settle the
// breaker counters accordingly.
type Controller struct {
	config Config
	logger *zap.Logger
}

// New creates a controller from the given configuration.
func New(cfg Config) (*Controller, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("order client is required")
	}
	if cfg.Breaker == nil {
		return nil, fmt.Errorf("breaker is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Deadline <= 0 {
		return nil, fmt.Errorf("deadline must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if cfg.CollapseFraction <= 0 || cfg.CollapseFraction >= 1 {
		return nil, fmt.Errorf("collapse fraction must be in (0, 1), got %f", cfg.CollapseFraction)
	}

	return &Controller{
		config: cfg,
		logger: cfg.Logger.Named("execution"),
	}, nil
}

// ExecuteEntry places an opening order. The breaker is consulted before
// any venue contact; a tripped breaker refuses without placing.
func (c *Controller) ExecuteEntry(ctx context.Context, req Request) (*Result, error) {
	if err := c.config.Breaker.AllowEntry(); err != nil {
		return nil, err
	}
	return c.execute(ctx, req)
}

// ExecuteExit places a closing order. Exits are permitted even while
// the breaker is tripped.
func (c *Controller) ExecuteExit(ctx context.Context, req Request) (*Result, error) {
	if err := c.config.Breaker.AllowExit(); err != nil {
		return nil, err
	}
	return c.execute(ctx, req)
}

func (c *Controller) execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	order, err := c.config.Client.PlaceOrder(ctx, OrderRequest{
		MarketID: req.MarketID,
		TokenID:  req.TokenID,
		Side:     req.Side,
		Price:    req.Price,
		Size:     req.Size,
		PostOnly: true,
	})
	if err != nil {
		PlacementErrorsTotal.Inc()
		c.config.Breaker.RecordFailedFill()
		return nil, fmt.Errorf("place order: %w", err)
	}
	OrdersPlacedTotal.WithLabelValues(string(req.Side)).Inc()

	c.logger.Info("maker-order-placed",
		zap.String("order-id", order.ID),
		zap.String("token", req.TokenID),
		zap.String("side", string(req.Side)),
		zap.Float64("price", req.Price),
		zap.Float64("size", req.Size),
		zap.Duration("deadline", c.config.Deadline))

	res := c.await(ctx, order.ID, req)
	elapsed := time.Since(start)
	WaitOutcomesTotal.WithLabelValues(string(res.outcome)).Inc()

	result := &Result{Outcome: res.outcome, OrderID: order.ID, Elapsed: elapsed}

	switch res.outcome {
	case OutcomeFilled:
		result.FilledSize = res.filledSize
		result.FillPrice = res.fillPrice
		result.ExecutionCost = c.executionCost(req.Price, res.fillPrice, res.filledSize)

		c.config.Breaker.RecordFillSuccess()
		c.config.Breaker.RecordExecutionCost(result.ExecutionCost)
		FillLatency.Observe(elapsed.Seconds())

		c.logger.Info("maker-order-filled",
			zap.String("order-id", order.ID),
			zap.Float64("fill-price", res.fillPrice),
			zap.Float64("filled-size", res.filledSize),
			zap.Duration("elapsed", elapsed))

	default:
		late := c.takeDown(ctx, order.ID, req)
		if late != nil {
			result.LateFill = true
			result.FilledSize = late.FilledSize
			result.FillPrice = late.FillPrice

			cost := c.executionCost(req.Price, late.FillPrice, late.FilledSize)
			c.config.Breaker.RecordFillSuccess()
			c.config.Breaker.RecordExecutionCost(cost)
		} else {
			c.config.Breaker.RecordFailedFill()
		}

		c.logger.Info("maker-order-unfilled",
			zap.String("order-id", order.ID),
			zap.String("outcome", string(res.outcome)),
			zap.Bool("late-fill", late != nil),
			zap.Duration("elapsed", elapsed))
	}

	return result, nil
}

type waitResolution struct {
	outcome    Outcome
	filledSize float64
	fillPrice  float64
}

// resultSlot is a single-assignment slot. The first resolve wins;
// every later resolve is a no-op, so at most one trigger can produce a
// side effect.
type resultSlot struct {
	once sync.Once
	ch   chan waitResolution
}

func newResultSlot() *resultSlot {
	return &resultSlot{ch: make(chan waitResolution, 1)}
}

func (s *resultSlot) resolve(r waitResolution) {
	s.once.Do(func() { s.ch <- r })
}

func (s *resultSlot) wait() waitResolution {
	return <-s.ch
}

// await races fill confirmation, the hard deadline, and the edge
// collapse check into a single-assignment slot. Losing watchers are
// cancelled once a winner resolves.
func (c *Controller) await(ctx context.Context, orderID string, req Request) waitResolution {
	slot := newResultSlot()
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.watchFills(waitCtx, orderID, req.Size, slot)
	}()
	go func() {
		defer wg.Done()
		c.watchDeadline(waitCtx, slot)
	}()
	if req.EdgeCheck != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.watchEdge(waitCtx, req, slot)
		}()
	}

	res := slot.wait()
	cancel()
	wg.Wait()
	return res
}

func (c *Controller) watchFills(ctx context.Context, orderID string, size float64, slot *resultSlot) {
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			order, err := c.config.Client.GetOrder(ctx, orderID)
			if err != nil {
				// Transient; the deadline bounds how long we retry.
				c.logger.Warn("order-poll-failed",
					zap.String("order-id", orderID),
					zap.Error(err))
				continue
			}
			if order.Status != types.OrderFilled && order.FilledSize < size-fillTolerance {
				continue
			}

			filled := order.FilledSize
			if filled == 0 {
				filled = size
			}
			price := order.FillPrice
			if price == 0 {
				price = order.Price
			}
			slot.resolve(waitResolution{outcome: OutcomeFilled, filledSize: filled, fillPrice: price})
			return
		}
	}
}

func (c *Controller) watchDeadline(ctx context.Context, slot *resultSlot) {
	timer := time.NewTimer(c.config.Deadline)
	defer timer.Stop()

	select {
	case <-timer.C:
		slot.resolve(waitResolution{outcome: OutcomeTimeout})
	case <-ctx.Done():
		// Shutdown resolves as a timeout so the order is taken down.
		slot.resolve(waitResolution{outcome: OutcomeTimeout})
	}
}

func (c *Controller) watchEdge(ctx context.Context, req Request, slot *resultSlot) {
	if req.InitialEdge <= 0 {
		return
	}
	floor := req.InitialEdge * c.config.CollapseFraction

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			edge := req.EdgeCheck()
			if edge >= floor {
				continue
			}
			c.logger.Info("edge-collapsed-during-wait",
				zap.Float64("initial-edge", req.InitialEdge),
				zap.Float64("current-edge", edge),
				zap.Float64("floor", floor))
			slot.resolve(waitResolution{outcome: OutcomeCollapsed})
			return
		}
	}
}

// takeDown cancels a resting order after the wait resolved against it.
// A fill surfaced by the cancel is a late fill: reported on the
// reconciliation channel, never returned as the wait's winner.
func (c *Controller) takeDown(ctx context.Context, orderID string, req Request) *LateFill {
	// Cancellation must go out even when the caller is shutting down.
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()

	cr, err := c.config.Client.CancelOrder(cancelCtx, orderID)
	if err != nil {
		CancelFailuresTotal.Inc()
		c.logger.Error("order-cancel-failed",
			zap.String("order-id", orderID),
			zap.Error(err))
		return nil
	}
	if cr.FilledSize <= 0 {
		return nil
	}

	late := LateFill{
		OrderID:    orderID,
		MarketID:   req.MarketID,
		TokenID:    req.TokenID,
		Side:       req.Side,
		Price:      req.Price,
		FilledSize: cr.FilledSize,
		FillPrice:  cr.FillPrice,
		DetectedAt: time.Now(),
	}
	LateFillsTotal.Inc()

	c.logger.Warn("late-fill-detected",
		zap.String("order-id", orderID),
		zap.Float64("filled-size", cr.FilledSize),
		zap.Float64("fill-price", cr.FillPrice),
		zap.Bool("fully-filled", cr.AlreadyFilled))

	if c.config.LateFills != nil {
		select {
		case c.config.LateFills <- late:
		default:
			// Tokens are held with nothing tracking them. This must
			// never be silent.
			c.logger.Error("late-fill-dropped",
				zap.String("order-id", orderID),
				zap.Float64("filled-size", cr.FilledSize))
		}
	}
	return &late
}

func (c *Controller) executionCost(target, fill, size float64) float64 {
	return math.Abs(fill-target)*size + c.config.PerOrderCost
}
