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

// coinbaseMatch is a fill on the matches channel. The same shape arrives
// as "last_match" right after subscribing.
type coinbaseMatch struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Time      string `json:"time"`
}

func coinbaseSubscribePayload(assets []string) ([]byte, error) {
	products := make([]string, 0, len(assets))
	for _, asset := range assets {
		products = append(products, strings.ToUpper(asset)+"-USD")
	}
	return json.Marshal(map[string]interface{}{
		"type":        "subscribe",
		"product_ids": products,
		"channels":    []string{"matches"},
	})
}

func newCoinbaseSource(cfg Config) (*Source, error) {
	products := make(map[string]string, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		products[strings.ToUpper(asset)+"-USD"] = asset
	}

	payload, err := coinbaseSubscribePayload(cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe payload: %w", err)
	}

	client, err := websocket.New(clientConfig(cfg, "coinbase", cfg.CoinbaseURL, [][]byte{payload}))
	if err != nil {
		return nil, err
	}

	return &Source{
		name:   "coinbase",
		client: client,
		decode: decodeCoinbase(products),
		logger: cfg.Logger.With(zap.String("feed", "coinbase")),
	}, nil
}

func decodeCoinbase(products map[string]string) decodeFunc {
	return func(frame []byte) ([]types.PriceTick, error) {
		var match coinbaseMatch
		if err := json.Unmarshal(frame, &match); err != nil {
			return nil, fmt.Errorf("coinbase frame: %w", err)
		}
		// Everything except fills is control traffic: subscription
		// confirmations, heartbeats, errors.
		if match.Type != "match" && match.Type != "last_match" {
			return nil, nil
		}
		asset, ok := products[match.ProductID]
		if !ok {
			return nil, nil
		}

		price, err := strconv.ParseFloat(match.Price, 64)
		if err != nil {
			return nil, fmt.Errorf("coinbase price %q: %w", match.Price, err)
		}
		size, err := strconv.ParseFloat(match.Size, 64)
		if err != nil {
			return nil, fmt.Errorf("coinbase size %q: %w", match.Size, err)
		}

		// A missing or malformed trade time falls back to receipt time.
		ts, err := time.Parse(time.RFC3339Nano, match.Time)
		if err != nil {
			ts = time.Now()
		}

		return []types.PriceTick{{
			Source:    "coinbase",
			Asset:     asset,
			Price:     price,
			Volume:    size,
			Timestamp: ts,
		}}, nil
	}
}
