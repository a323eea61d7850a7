package feeds

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/quorumtrade/oraclelag/pkg/types"
	"github.com/quorumtrade/oraclelag/pkg/websocket"
)

// krakenEvent covers the dict-shaped control messages: systemStatus,
// subscriptionStatus, heartbeat, pong.
type krakenEvent struct {
	Event        string `json:"event"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

// krakenPair maps a normalized asset to the Kraken pair name. Kraken
// lists bitcoin as XBT.
func krakenPair(asset string) string {
	if strings.EqualFold(asset, "BTC") {
		return "XBT/USD"
	}
	return strings.ToUpper(asset) + "/USD"
}

func krakenSubscribePayload(assets []string) ([]byte, error) {
	pairs := make([]string, 0, len(assets))
	for _, asset := range assets {
		pairs = append(pairs, krakenPair(asset))
	}
	return json.Marshal(map[string]interface{}{
		"event": "subscribe",
		"pair":  pairs,
		"subscription": map[string]string{
			"name": "trade",
		},
	})
}

func newKrakenSource(cfg Config) (*Source, error) {
	pairs := make(map[string]string, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		pairs[krakenPair(asset)] = asset
	}

	payload, err := krakenSubscribePayload(cfg.Assets)
	if err != nil {
		return nil, fmt.Errorf("marshal subscribe payload: %w", err)
	}

	client, err := websocket.New(clientConfig(cfg, "kraken", cfg.KrakenURL, [][]byte{payload}))
	if err != nil {
		return nil, err
	}

	return &Source{
		name:   "kraken",
		client: client,
		decode: decodeKraken(pairs),
		logger: cfg.Logger.With(zap.String("feed", "kraken")),
	}, nil
}

// decodeKraken handles both frame shapes: dict control messages and the
// trade array [channelID, [[price, volume, time, side, orderType, misc],
// ...], channelName, pair].
func decodeKraken(pairs map[string]string) decodeFunc {
	return func(frame []byte) ([]types.PriceTick, error) {
		trimmed := bytes.TrimSpace(frame)
		if len(trimmed) == 0 {
			return nil, nil
		}

		if trimmed[0] == '{' {
			var event krakenEvent
			if err := json.Unmarshal(trimmed, &event); err != nil {
				return nil, fmt.Errorf("kraken control frame: %w", err)
			}
			if event.Status == "error" {
				return nil, fmt.Errorf("kraken subscription rejected: %s", event.ErrorMessage)
			}
			return nil, nil
		}

		var parts []json.RawMessage
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return nil, fmt.Errorf("kraken frame: %w", err)
		}
		if len(parts) < 4 {
			return nil, nil
		}

		var channel string
		if err := json.Unmarshal(parts[len(parts)-2], &channel); err != nil || channel != "trade" {
			return nil, nil
		}
		var pair string
		if err := json.Unmarshal(parts[len(parts)-1], &pair); err != nil {
			return nil, fmt.Errorf("kraken pair: %w", err)
		}
		asset, ok := pairs[pair]
		if !ok {
			return nil, nil
		}

		var trades [][]string
		if err := json.Unmarshal(parts[1], &trades); err != nil {
			return nil, fmt.Errorf("kraken trades: %w", err)
		}

		ticks := make([]types.PriceTick, 0, len(trades))
		for _, trade := range trades {
			if len(trade) < 3 {
				continue
			}
			price, err := strconv.ParseFloat(trade[0], 64)
			if err != nil {
				return nil, fmt.Errorf("kraken price %q: %w", trade[0], err)
			}
			volume, err := strconv.ParseFloat(trade[1], 64)
			if err != nil {
				return nil, fmt.Errorf("kraken volume %q: %w", trade[1], err)
			}
			seconds, err := strconv.ParseFloat(trade[2], 64)
			if err != nil {
				return nil, fmt.Errorf("kraken trade time %q: %w", trade[2], err)
			}

			ticks = append(ticks, types.PriceTick{
				Source:    "kraken",
				Asset:     asset,
				Price:     price,
				Volume:    volume,
				Timestamp: time.Unix(0, int64(seconds*float64(time.Second))),
			})
		}
		return ticks, nil
	}
}
