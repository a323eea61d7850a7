package websocket

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

func testConfig(t *testing.T, url string) Config {
	return Config{
		Name:                  "testfeed",
		URL:                   url,
		DialTimeout:           2 * time.Second,
		PongTimeout:           10 * time.Second,
		PingInterval:          5 * time.Second,
		ReconnectInitialDelay: 10 * time.Millisecond,
		ReconnectMaxDelay:     50 * time.Millisecond,
		ReconnectBackoffMult:  2,
		FrameBufferSize:       16,
		SubscribePayloads:     [][]byte{[]byte(`{"op":"subscribe"}`)},
		Logger:                zaptest.NewLogger(t),
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNewValidatesConfig(t *testing.T) {
	base := testConfig(t, "ws://localhost:1")

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing-name", mutate: func(c *Config) { c.Name = "" }},
		{name: "missing-url", mutate: func(c *Config) { c.URL = "" }},
		{name: "missing-logger", mutate: func(c *Config) { c.Logger = nil }},
		{name: "zero-dial-timeout", mutate: func(c *Config) { c.DialTimeout = 0 }},
		{name: "zero-ping-interval", mutate: func(c *Config) { c.PingInterval = 0 }},
		{name: "pong-not-after-ping", mutate: func(c *Config) { c.PongTimeout = c.PingInterval }},
		{name: "max-delay-below-initial", mutate: func(c *Config) { c.ReconnectMaxDelay = c.ReconnectInitialDelay / 2 }},
		{name: "multiplier-below-one", mutate: func(c *Config) { c.ReconnectBackoffMult = 0.5 }},
		{name: "zero-frame-buffer", mutate: func(c *Config) { c.FrameBufferSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Fatal("expected constructor error")
			}
		})
	}
}

func TestClientDeliversFramesAfterSubscribe(t *testing.T) {
	payloads := make(chan []byte, 4)
	frames := []string{`{"seq":1}`, `{"seq":2}`}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The first inbound message is the subscribe payload.
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		payloads <- payload

		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client, err := New(testConfig(t, wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Close()

	select {
	case payload := <-payloads:
		if string(payload) != `{"op":"subscribe"}` {
			t.Errorf("server saw payload %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the subscribe payload")
	}

	for i, want := range frames {
		select {
		case frame := <-client.Frames():
			if string(frame) != want {
				t.Errorf("frame %d = %s, want %s", i, frame, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}

	if !client.Connected() {
		t.Error("client should report connected")
	}
}

func TestClientReconnectsAndResubscribes(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		mu.Lock()
		dials++
		n := dials
		mu.Unlock()

		// Require the subscribe payload on every connection.
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"conn":%d}`, n))); err != nil {
			conn.Close()
			return
		}

		if n == 1 {
			conn.Close()
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	client, err := New(testConfig(t, wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer client.Close()

	for i, want := range []string{`{"conn":1}`, `{"conn":2}`} {
		select {
		case frame := <-client.Frames():
			if string(frame) != want {
				t.Errorf("frame %d = %s, want %s", i, frame, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("frame %d never arrived; reconnect did not happen", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if dials != 2 {
		t.Errorf("server saw %d dials, want 2", dials)
	}
}

func TestCloseStopsLoopsAndClosesFrameChannel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := testConfig(t, wsURL(srv))
	cfg.SubscribePayloads = nil
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := client.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, open := <-client.Frames():
		if open {
			t.Error("frame channel delivered data after Close")
		}
	case <-time.After(time.Second):
		t.Error("frame channel not closed")
	}
	if client.Connected() {
		t.Error("client still reports connected after Close")
	}
}
