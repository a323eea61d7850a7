package feeds

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
	"github.com/quorumtrade/oraclelag/pkg/websocket"
)

// binanceTrade is the spot trade stream event.
type binanceTrade struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"` // milliseconds
}

func binanceSubscribePayload(assets []string) ([]byte, error) {
	streams := make([]string, 0, len(assets))
	for _, asset := range assets {
		streams = append(streams, strings.ToLower(asset)+"usdt@trade")
	}
	return json.Marshal(map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
		"id":     1,
	})
}

func newBinanceSource(cfg Config) (*Source, error) {
	symbols := make(map[string]string, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		symbols[strings.ToUpper(asset)+"USDT"] = asset
	}

	payload, err := binanceSubscribePayload(cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe payload: %w", err)
	}

	client, err := websocket.New(clientConfig(cfg, "binance", cfg.BinanceURL, [][]byte{payload}))
	if err != nil {
		return nil, err
	}

	return &Source{
		name:   "binance",
		client: client,
		decode: decodeBinance(symbols),
		logger: cfg.Logger.With(zap.String("feed", "binance")),
	}, nil
}

func decodeBinance(symbols map[string]string) decodeFunc {
	return func(frame []byte) ([]types.PriceTick, error) {
		var trade binanceTrade
		if err := json.Unmarshal(frame, &trade); err != nil {
			return nil, fmt.Errorf("binance frame: %w", err)
		}
		// Subscription acks carry no event type.
		if trade.EventType != "trade" {
			return nil, nil
		}
		asset, ok := symbols[trade.Symbol]
		if !ok {
			return nil, nil
		}

		price, err := strconv.ParseFloat(trade.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("binance price %q: %w", trade.Price, err)
		}
		volume, err := strconv.ParseFloat(trade.Quantity, 64)
		if err != nil {
			return nil, fmt.Errorf("binance quantity %q: %w", trade.Quantity, err)
		}

		return []types.PriceTick{{
			Source:    "binance",
			Asset:     asset,
			Price:     price,
			Volume:    volume,
			Timestamp: time.UnixMilli(trade.TradeTime),
		}}, nil
	}
}
