package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"github.com/quorumtrade/oraclelag/pkg/types"
)

type sinkRecorder struct {
	mu    sync.Mutex
	ticks []types.PriceTick
}

func (r *sinkRecorder) Observe(tick types.PriceTick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, tick)
}

func (r *sinkRecorder) snapshot() []types.PriceTick {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.PriceTick(nil), r.ticks...)
}

// feedServer accepts one connection, waits for the subscribe payload,
// writes its canned frames, then idles until the client hangs up.
func feedServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for _, frame := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func serverWSURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func supervisorConfig(t *testing.T, sink Sink) Config {
	t.Helper()
	return Config{
		Sources:               []string{"binance", "coinbase"},
		Assets:                []string{"BTC"},
		BinanceURL:            "ws://127.0.0.1:1",
		CoinbaseURL:           "ws://127.0.0.1:1",
		KrakenURL:             "ws://127.0.0.1:1",
		DialTimeout:           2 * time.Second,
		PingInterval:          5 * time.Second,
		PongTimeout:           20 * time.Second,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     50 * time.Millisecond,
		ReconnectBackoffMult:  2,
		BufferSize:            64,
		StaleAfter:            30 * time.Second,
		Sink:                  sink,
		Logger:                zaptest.NewLogger(t),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing-logger", mutate: func(c *Config) { c.Logger = nil }},
		{name: "missing-sink", mutate: func(c *Config) { c.Sink = nil }},
		{name: "no-assets", mutate: func(c *Config) { c.Assets = nil }},
		{name: "single-source", mutate: func(c *Config) { c.Sources = []string{"binance"} }},
		{name: "zero-buffer", mutate: func(c *Config) { c.BufferSize = 0 }},
		{name: "zero-stale-after", mutate: func(c *Config) { c.StaleAfter = 0 }},
		{name: "unknown-source", mutate: func(c *Config) { c.Sources = []string{"binance", "bitfinex"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := supervisorConfig(t, &sinkRecorder{})
			tc.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("expected config error")
			}
		})
	}
}

func TestSupervisorFansSourcesIntoSink(t *testing.T) {
	binanceSrv := feedServer(t, `{"e":"trade","s":"BTCUSDT","p":"64851.23","q":"0.0042","T":1718200000120}`)
	defer binanceSrv.Close()
	coinbaseSrv := feedServer(t, `{"type":"match","product_id":"BTC-USD","price":"64850.55","size":"0.2","time":"2025-06-12T14:30:00Z"}`)
	defer coinbaseSrv.Close()

	sink := &sinkRecorder{}
	cfg := supervisorConfig(t, sink)
	cfg.BinanceURL = serverWSURL(binanceSrv)
	cfg.CoinbaseURL = serverWSURL(coinbaseSrv)

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Close()

	deadline := time.After(3 * time.Second)
	prices := map[string]float64{}
	for len(prices) < 2 {
		select {
		case <-deadline:
			t.Fatalf("sink saw sources %v, want binance and coinbase", prices)
		case <-time.After(10 * time.Millisecond):
		}
		prices = map[string]float64{}
		for _, tick := range sink.snapshot() {
			if tick.Asset != "BTC" {
				t.Fatalf("unexpected asset %q", tick.Asset)
			}
			prices[tick.Source] = tick.Price
		}
	}

	if prices["binance"] != 64851.23 {
		t.Errorf("binance price = %f, want 64851.23", prices["binance"])
	}
	if prices["coinbase"] != 64850.55 {
		t.Errorf("coinbase price = %f, want 64850.55", prices["coinbase"])
	}

	now := time.Now()
	health := sup.Health(now)
	if !health["binance"] || !health["coinbase"] {
		t.Errorf("health = %v, want both live", health)
	}
	if !sup.Healthy(now) {
		t.Error("supervisor with two live sources should be healthy")
	}

	// Both sources look dead once the staleness window lapses without
	// fresh trades.
	stale := now.Add(cfg.StaleAfter + time.Minute)
	if sup.Healthy(stale) {
		t.Error("supervisor should be unhealthy past the staleness bound")
	}
}

func TestSupervisorStartFailsFast(t *testing.T) {
	binanceSrv := feedServer(t)
	defer binanceSrv.Close()
	deadSrv := httptest.NewServer(http.NotFoundHandler())
	deadSrv.Close()

	cfg := supervisorConfig(t, &sinkRecorder{})
	cfg.BinanceURL = serverWSURL(binanceSrv)
	cfg.CoinbaseURL = serverWSURL(deadSrv)

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = sup.Start(context.Background())
	if err == nil {
		t.Fatal("expected start to fail when a source cannot dial")
	}
	if !strings.Contains(err.Error(), "start coinbase feed") {
		t.Errorf("error = %v, want it to name the coinbase feed", err)
	}
	// The already started binance client must be torn down again.
	if sup.sources[0].client.Connected() {
		t.Error("binance client left connected after failed start")
	}
}

func TestSupervisorHealthNeedsDecodedTrades(t *testing.T) {
	// Servers that confirm the subscription but never print a trade.
	binanceSrv := feedServer(t, `{"result":null,"id":1}`)
	defer binanceSrv.Close()
	coinbaseSrv := feedServer(t, `{"type":"subscriptions","channels":[]}`)
	defer coinbaseSrv.Close()

	cfg := supervisorConfig(t, &sinkRecorder{})
	cfg.BinanceURL = serverWSURL(binanceSrv)
	cfg.CoinbaseURL = serverWSURL(coinbaseSrv)

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Close()

	if sup.Healthy(time.Now()) {
		t.Error("connected sources without any decoded trade should not count as healthy")
	}
}
