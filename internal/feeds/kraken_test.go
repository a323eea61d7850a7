package feeds

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestDecodeKrakenTrades(t *testing.T) {
	decode := decodeKraken(map[string]string{"XBT/USD": "BTC"})

	frame := []byte(`[337,[["64850.10000","0.00500000","1718200000.123456","s","l",""],["64851.00000","0.01000000","1718200000.654321","b","m",""]],"trade","XBT/USD"]`)
	ticks, err := decode(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ticks) != 2 {
		t.Fatalf("got %d ticks, want 2", len(ticks))
	}

	first := ticks[0]
	if first.Source != "kraken" || first.Asset != "BTC" {
		t.Errorf("identity = %s/%s, want kraken/BTC", first.Source, first.Asset)
	}
	if first.Price != 64850.10 {
		t.Errorf("price = %f, want 64850.10", first.Price)
	}
	if first.Volume != 0.005 {
		t.Errorf("volume = %f, want 0.005", first.Volume)
	}
	want := time.Unix(0, int64(1718200000.123456*float64(time.Second)))
	if !first.Timestamp.Equal(want) {
		t.Errorf("timestamp = %s, want %s", first.Timestamp, want)
	}
	if ticks[1].Price != 64851.00 {
		t.Errorf("second price = %f, want 64851.00", ticks[1].Price)
	}
}

func TestDecodeKrakenSkipsControlFrames(t *testing.T) {
	decode := decodeKraken(map[string]string{"XBT/USD": "BTC"})

	cases := []struct {
		name  string
		frame string
	}{
		{name: "system-status", frame: `{"connectionID":8628615390848610000,"event":"systemStatus","status":"online","version":"1.0.0"}`},
		{name: "subscription-ack", frame: `{"channelID":337,"channelName":"trade","event":"subscriptionStatus","pair":"XBT/USD","status":"subscribed","subscription":{"name":"trade"}}`},
		{name: "heartbeat", frame: `{"event":"heartbeat"}`},
		{name: "ticker-channel", frame: `[340,{"a":["64850.10000",0,"0.005"]},"ticker","XBT/USD"]`},
		{name: "unknown-pair", frame: `[337,[["100.0","1.0","1718200000.0","s","l",""]],"trade","ETH/USD"]`},
		{name: "short-array", frame: `[337,"trade"]`},
		{name: "empty-frame", frame: `   `},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ticks, err := decode([]byte(tc.frame))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(ticks) != 0 {
				t.Errorf("control frame produced %d ticks", len(ticks))
			}
		})
	}
}

func TestDecodeKrakenRejectsBadFrames(t *testing.T) {
	decode := decodeKraken(map[string]string{"XBT/USD": "BTC"})

	cases := []struct {
		name  string
		frame string
	}{
		{name: "subscription-error", frame: `{"errorMessage":"Subscription depth not supported","event":"subscriptionStatus","status":"error"}`},
		{name: "bad-price", frame: `[337,[["??","1.0","1718200000.0","s","l",""]],"trade","XBT/USD"]`},
		{name: "bad-volume", frame: `[337,[["100.0","??","1718200000.0","s","l",""]],"trade","XBT/USD"]`},
		{name: "bad-time", frame: `[337,[["100.0","1.0","??","s","l",""]],"trade","XBT/USD"]`},
		{name: "not-json", frame: `[337,`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decode([]byte(tc.frame)); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}

func TestKrakenPairNames(t *testing.T) {
	cases := []struct {
		name  string
		asset string
		want  string
	}{
		{name: "btc-maps-to-xbt", asset: "BTC", want: "XBT/USD"},
		{name: "lowercase-btc", asset: "btc", want: "XBT/USD"},
		{name: "eth-stays-eth", asset: "ETH", want: "ETH/USD"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := krakenPair(tc.asset); got != tc.want {
				t.Errorf("krakenPair(%q) = %q, want %q", tc.asset, got, tc.want)
			}
		})
	}
}

func TestKrakenSubscribePayload(t *testing.T) {
	payload, err := krakenSubscribePayload([]string{"BTC", "ETH"})
	if err != nil {
		t.Fatalf("krakenSubscribePayload: %v", err)
	}

	var msg struct {
		Event        string   `json:"event"`
		Pair         []string `json:"pair"`
		Subscription struct {
			Name string `json:"name"`
		} `json:"subscription"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if msg.Event != "subscribe" {
		t.Errorf("event = %q, want subscribe", msg.Event)
	}
	if len(msg.Pair) != 2 || msg.Pair[0] != "XBT/USD" || msg.Pair[1] != "ETH/USD" {
		t.Errorf("pair = %v", msg.Pair)
	}
	if msg.Subscription.Name != "trade" {
		t.Errorf("subscription name = %q, want trade", msg.Subscription.Name)
	}
}
