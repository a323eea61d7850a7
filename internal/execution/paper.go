package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/internal/marketdata"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

// QuoteSource supplies live top-of-book quotes for paper fills.
type QuoteSource interface {
	TokenQuote(tokenID string) (marketdata.Quote, bool)
}

// PaperClient simulates the venue against live book data. Orders rest
// at their price and fill when the opposite side crosses them, the same
// way a real maker order would.
type PaperClient struct {
	quotes QuoteSource
	logger *zap.Logger

	mu     sync.Mutex
	orders map[string]*types.Order
}

// NewPaperClient creates a paper client backed by live quotes.
func NewPaperClient(quotes QuoteSource, logger *zap.Logger) (*PaperClient, error) {
	if quotes == nil {
		return nil, fmt.Errorf("quote source is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &PaperClient{
		quotes: quotes,
		logger: logger.Named("paper"),
		orders: make(map[string]*types.Order),
	}, nil
}

// PlaceOrder rests a simulated order. Post-only orders that would cross
// the live book on arrival are rejected the way the venue rejects them.
func (p *PaperClient) PlaceOrder(_ context.Context, req OrderRequest) (*types.Order, error) {
	if req.Price <= 0 || req.Size <= 0 {
		return nil, &types.OrderError{Code: types.ErrCodeInvalidTick, Message: "price and size must be positive"}
	}

	if req.PostOnly {
		if quote, ok := p.quotes.TokenQuote(req.TokenID); ok && wouldCross(req, quote) {
			return nil, &types.OrderError{
				Code:    types.ErrCodePostOnlyCross,
				Message: fmt.Sprintf("%s at %.3f crosses the book", req.Side, req.Price),
			}
		}
	}

	order := &types.Order{
		ID:       uuid.NewString(),
		MarketID: req.MarketID,
		TokenID:  req.TokenID,
		Side:     req.Side,
		Price:    req.Price,
		Size:     req.Size,
		PostOnly: req.PostOnly,
		Status:   types.OrderPending,
		PlacedAt: time.Now(),
	}

	p.mu.Lock()
	p.orders[order.ID] = order
	p.mu.Unlock()

	p.logger.Debug("paper-order-resting",
		zap.String("order-id", order.ID),
		zap.String("token", req.TokenID),
		zap.String("side", string(req.Side)),
		zap.Float64("price", req.Price),
		zap.Float64("size", req.Size))

	return copyOrder(order), nil
}

// GetOrder re-evaluates the resting order against the current book and
// returns its state. A maker fill executes at the order's own price.
func (p *PaperClient) GetOrder(_ context.Context, orderID string) (*types.Order, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, &types.OrderError{Code: types.ErrCodeUnmatched, Message: "unknown order", OrderID: orderID}
	}

	if order.Status == types.OrderPending {
		if quote, ok := p.quotes.TokenQuote(order.TokenID); ok && crossed(order, quote) {
			order.Status = types.OrderFilled
			order.FilledSize = order.Size
			order.FillPrice = order.Price

			p.logger.Debug("paper-order-filled",
				zap.String("order-id", order.ID),
				zap.Float64("price", order.Price))
		}
	}

	return copyOrder(order), nil
}

// CancelOrder removes a resting order. Orders that filled before the
// cancel report the fill instead.
func (p *PaperClient) CancelOrder(_ context.Context, orderID string) (*CancelResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	order, ok := p.orders[orderID]
	if !ok {
		return nil, &types.OrderError{Code: types.ErrCodeUnmatched, Message: "unknown order", OrderID: orderID}
	}

	// One last look at the book; a fill beats the cancel, matching
	// live venue race behavior.
	if order.Status == types.OrderPending {
		if quote, ok := p.quotes.TokenQuote(order.TokenID); ok && crossed(order, quote) {
			order.Status = types.OrderFilled
			order.FilledSize = order.Size
			order.FillPrice = order.Price
		}
	}

	if order.Status == types.OrderFilled {
		return &CancelResult{
			AlreadyFilled: true,
			FilledSize:    order.FilledSize,
			FillPrice:     order.FillPrice,
		}, nil
	}

	order.Status = types.OrderCancelled
	return &CancelResult{}, nil
}

// wouldCross reports whether a new order would take liquidity.
func wouldCross(req OrderRequest, quote marketdata.Quote) bool {
	if req.Side == types.OrderBuy {
		return quote.Ask > 0 && req.Price >= quote.Ask
	}
	return quote.Bid > 0 && req.Price <= quote.Bid
}

// crossed reports whether the market has moved through a resting order.
func crossed(order *types.Order, quote marketdata.Quote) bool {
	if order.Side == types.OrderBuy {
		return quote.Ask > 0 && quote.Ask <= order.Price
	}
	return quote.Bid > 0 && quote.Bid >= order.Price
}

func copyOrder(order *types.Order) *types.Order {
	copied := *order
	return &copied
}
