package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quorumtrade/oraclelag/internal/execution"
	"github.com/quorumtrade/oraclelag/pkg/types"
)

// MockOrderClient simulates the venue order surface. Orders rest as
// pending until a test scripts a fill, switches on immediate fills, or
// lets the cancel path win.
type MockOrderClient struct {
	mu      sync.Mutex
	orders  map[string]*types.Order
	placed  []execution.OrderRequest
	counter int

	placeErr        error
	fillImmediately bool
	fillOnCancel    bool
}

// NewMockOrderClient creates a mock order client with no scripted
// behavior: orders rest unfilled until cancelled.
func NewMockOrderClient() *MockOrderClient {
	return &MockOrderClient{
		orders: make(map[string]*types.Order),
	}
}

// FailPlacements makes every PlaceOrder call return err.
func (m *MockOrderClient) FailPlacements(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeErr = err
}

// FillImmediately marks every order fully filled at its limit price, so
// the first status poll resolves the wait.
func (m *MockOrderClient) FillImmediately() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillImmediately = true
}

// FillOnCancel makes cancels lose the race: the order reports fully
// filled instead of cancelled, which surfaces as a late fill.
func (m *MockOrderClient) FillOnCancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillOnCancel = true
}

// PlaceOrder records the request and creates a resting order.
func (m *MockOrderClient) PlaceOrder(_ context.Context, req execution.OrderRequest) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.placeErr != nil {
		return nil, m.placeErr
	}

	m.counter++
	order := &types.Order{
		ID:       fmt.Sprintf("mock-order-%d", m.counter),
		MarketID: req.MarketID,
		TokenID:  req.TokenID,
		Side:     req.Side,
		Price:    req.Price,
		Size:     req.Size,
		PostOnly: req.PostOnly,
		Status:   types.OrderPending,
		PlacedAt: time.Now(),
	}
	if m.fillImmediately {
		order.Status = types.OrderFilled
		order.FilledSize = req.Size
		order.FillPrice = req.Price
	}

	m.orders[order.ID] = order
	m.placed = append(m.placed, req)

	placed := *order
	return &placed, nil
}

// GetOrder returns the current state of an order.
func (m *MockOrderClient) GetOrder(_ context.Context, orderID string) (*types.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	current := *order
	return &current, nil
}

// CancelOrder cancels a resting order, or reports the fill that beat it.
func (m *MockOrderClient) CancelOrder(_ context.Context, orderID string) (*execution.CancelResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}

	if m.fillOnCancel && order.Status == types.OrderPending {
		order.Status = types.OrderFilled
		order.FilledSize = order.Size
		order.FillPrice = order.Price
	}

	if order.Status == types.OrderFilled {
		return &execution.CancelResult{
			AlreadyFilled: order.FilledSize >= order.Size,
			FilledSize:    order.FilledSize,
			FillPrice:     order.FillPrice,
		}, nil
	}

	order.Status = types.OrderCancelled
	return &execution.CancelResult{
		FilledSize: order.FilledSize,
		FillPrice:  order.FillPrice,
	}, nil
}

// FillOrder scripts a partial or full fill on a resting order.
func (m *MockOrderClient) FillOrder(orderID string, size, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return
	}
	order.FilledSize = size
	order.FillPrice = price
	if order.FilledSize >= order.Size {
		order.Status = types.OrderFilled
	}
}

// PlacedOrders returns every placement request seen, oldest first.
func (m *MockOrderClient) PlacedOrders() []execution.OrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]execution.OrderRequest(nil), m.placed...)
}
