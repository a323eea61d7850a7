package markets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newVenueStub(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/markets/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"condition_id": "0xbtc-condition",
			"question": "Bitcoin up or down - June 1, 3PM ET?",
			"end_date_iso": "2025-06-01T19:00:00Z",
			"closed": false,
			"accepting_orders": true
		}`))
	})
	mux.HandleFunc("/tick-size", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"minimum_tick_size": 0.001}`))
	})
	mux.HandleFunc("/book", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"min_size": 15}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetchMarket(t *testing.T) {
	server := newVenueStub(t)
	client := NewMetadataClient(server.URL)

	info, err := client.FetchMarket(context.Background(), "0xbtc-condition")
	if err != nil {
		t.Fatalf("FetchMarket() error = %v", err)
	}
	if info.Question != "Bitcoin up or down - June 1, 3PM ET?" {
		t.Errorf("Question = %q", info.Question)
	}
	if !info.AcceptingOrders {
		t.Error("AcceptingOrders = false, want true")
	}
}

func TestFetchMarketAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	client := NewMetadataClient(server.URL)
	_, err := client.FetchMarket(context.Background(), "0xmissing")
	if err == nil {
		t.Fatal("FetchMarket() expected error on 404")
	}
}

func TestFetchTickSize(t *testing.T) {
	server := newVenueStub(t)
	client := NewMetadataClient(server.URL)

	tick, err := client.FetchTickSize(context.Background(), "btc-yes")
	if err != nil {
		t.Fatalf("FetchTickSize() error = %v", err)
	}
	if tick != 0.001 {
		t.Errorf("tick = %v, want 0.001", tick)
	}
}

func TestFetchMinOrderSize(t *testing.T) {
	server := newVenueStub(t)
	client := NewMetadataClient(server.URL)

	minSize, err := client.FetchMinOrderSize(context.Background(), "btc-yes")
	if err != nil {
		t.Fatalf("FetchMinOrderSize() error = %v", err)
	}
	if minSize != 15 {
		t.Errorf("minSize = %v, want 15", minSize)
	}
}

func TestFetchMinOrderSizeDefaults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	client := NewMetadataClient(server.URL)
	minSize, err := client.FetchMinOrderSize(context.Background(), "btc-yes")
	if err != nil {
		t.Fatalf("FetchMinOrderSize() error = %v", err)
	}
	if minSize != 5.0 {
		t.Errorf("minSize = %v, want default 5.0", minSize)
	}
}
