package types

import (
	"encoding/json"
	"strconv"
	"time"
)

// MarketSnapshot is the observed state of a prediction-market book for one
// asset window. Snapshots are copies: the book manager hands out a fresh
// value per call and the caller may hold it as long as it likes.
type MarketSnapshot struct {
	MarketID string
	Asset    string

	YesBid float64
	YesAsk float64
	NoBid  float64
	NoAsk  float64

	// Liquidity in quote currency resting at the best ask of each outcome
	// token (what an entry order can lean against).
	YesLiquidity float64
	NoLiquidity  float64

	// Imbalance of the YES book in [-1, 1]; positive means bid-heavy.
	Imbalance float64

	// Liquidity observed roughly 30s before Timestamp per outcome token,
	// 0 when the history window has not filled yet.
	YesLiquidity30s float64
	NoLiquidity30s  float64

	// BookAge is the time since the quoted price last CHANGED, not since the
	// last message arrived. A book that keeps re-quoting the same price is
	// aging.
	BookAge time.Duration

	Timestamp time.Time
}

// Spread returns the YES-side bid/ask spread.
func (m *MarketSnapshot) Spread() float64 {
	return m.YesAsk - m.YesBid
}

// SideBid returns the best bid of the outcome token a position of the given
// direction holds (YES for UP, NO for DOWN).
func (m *MarketSnapshot) SideBid(d Direction) float64 {
	if d == DirectionDown {
		return m.NoBid
	}
	return m.YesBid
}

// SideAsk returns the best ask of the outcome token for the given direction.
func (m *MarketSnapshot) SideAsk(d Direction) float64 {
	if d == DirectionDown {
		return m.NoAsk
	}
	return m.YesAsk
}

// SideLiquidity returns the quote-currency depth at the best ask of the
// outcome token for the given direction.
func (m *MarketSnapshot) SideLiquidity(d Direction) float64 {
	if d == DirectionDown {
		return m.NoLiquidity
	}
	return m.YesLiquidity
}

// SideLiquidity30s returns the 30s-ago depth reference for the given
// direction, 0 when unknown.
func (m *MarketSnapshot) SideLiquidity30s(d Direction) float64 {
	if d == DirectionDown {
		return m.NoLiquidity30s
	}
	return m.YesLiquidity30s
}

// BookEvent is a message from the venue's market data stream.
type BookEvent struct {
	EventType string       `json:"event_type"` // "book", "price_change", "last_trade_price"
	MarketID  string       `json:"market"`
	AssetID   string       `json:"asset_id"` // outcome token id
	Timestamp int64        `json:"-"`        // parsed from string via UnmarshalJSON
	Bids      []PriceLevel `json:"bids,omitempty"`
	Asks      []PriceLevel `json:"asks,omitempty"`
}

// UnmarshalJSON handles the venue's string-encoded timestamp.
func (b *BookEvent) UnmarshalJSON(data []byte) error {
	type Alias BookEvent
	aux := &struct {
		TimestampStr string `json:"timestamp"`
		*Alias
	}{
		Alias: (*Alias)(b),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TimestampStr != "" {
		ts, err := strconv.ParseInt(aux.TimestampStr, 10, 64)
		if err != nil {
			return err
		}
		b.Timestamp = ts
	}

	return nil
}

// PriceLevel is a single price level in a venue book message. The venue
// sends both fields as strings.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
