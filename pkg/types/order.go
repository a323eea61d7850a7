package types

import "time"

// OrderSide is the venue-facing side of an order.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// OrderStatus is the venue-facing state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderExpired   OrderStatus = "expired"
)

// Order is a single venue order. All orders this system places are
// post-only; PostOnly exists so paper fills and audits can assert it.
type Order struct {
	ID       string
	MarketID string
	TokenID  string
	Side     OrderSide
	Price    float64
	Size     float64 // contracts
	PostOnly bool
	Status   OrderStatus
	PlacedAt time.Time

	FilledSize float64
	FillPrice  float64
}

// Remaining returns the unfilled contract count.
func (o *Order) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}
