package types

import "time"

// PriceTick is a single normalized price observation from one exchange feed.
// Ticks are immutable: feed decoders construct them once and every consumer
// reads them by value.
type PriceTick struct {
	Source    string  // feed identifier: "binance", "coinbase", "kraken"
	Asset     string  // normalized asset symbol: "BTC", "ETH", "SOL"
	Price     float64 // last trade price in quote currency
	Volume    float64 // trade size in base units, 0 when the feed omits it
	Timestamp time.Time
}

// Age returns how long ago the tick was observed.
func (t PriceTick) Age(now time.Time) time.Duration {
	return now.Sub(t.Timestamp)
}
