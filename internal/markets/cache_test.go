package markets

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mapCache is a deterministic Cache for tests; TTLs are ignored.
type mapCache struct {
	values map[string]interface{}
}

func newMapCache() *mapCache {
	return &mapCache{values: make(map[string]interface{})}
}

func (m *mapCache) Get(key string) (interface{}, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *mapCache) Set(key string, value interface{}, _ time.Duration) bool {
	m.values[key] = value
	return true
}

func (m *mapCache) Delete(key string) { delete(m.values, key) }
func (m *mapCache) Clear()            { m.values = make(map[string]interface{}) }
func (m *mapCache) Close()            {}

func TestCachedTokenMetadata(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/tick-size" {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"minimum_tick_size": 0.01, "min_size": 5}`))
	}))
	t.Cleanup(server.Close)

	cached := NewCachedMetadata(NewMetadataClient(server.URL), newMapCache())

	first, err := cached.TokenMetadata(context.Background(), "btc-yes")
	if err != nil {
		t.Fatalf("TokenMetadata() error = %v", err)
	}
	second, err := cached.TokenMetadata(context.Background(), "btc-yes")
	if err != nil {
		t.Fatalf("TokenMetadata() error = %v", err)
	}

	if first.TickSize != second.TickSize {
		t.Errorf("tick sizes differ: %v vs %v", first.TickSize, second.TickSize)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("tick-size fetches = %d, want 1 (second call cached)", got)
	}
}

func TestUpdateTickSize(t *testing.T) {
	server := newVenueStub(t)
	cached := NewCachedMetadata(NewMetadataClient(server.URL), newMapCache())

	meta, err := cached.TokenMetadata(context.Background(), "btc-yes")
	if err != nil {
		t.Fatalf("TokenMetadata() error = %v", err)
	}
	if meta.TickSize != 0.001 {
		t.Fatalf("TickSize = %v, want 0.001", meta.TickSize)
	}

	cached.UpdateTickSize("btc-yes", 0.01)

	meta, err = cached.TokenMetadata(context.Background(), "btc-yes")
	if err != nil {
		t.Fatalf("TokenMetadata() error = %v", err)
	}
	if meta.TickSize != 0.01 {
		t.Errorf("TickSize = %v, want 0.01 after update", meta.TickSize)
	}
	if meta.MinOrderSize != 15 {
		t.Errorf("MinOrderSize = %v, want preserved 15", meta.MinOrderSize)
	}

	// Unknown token is a no-op.
	cached.UpdateTickSize("unknown-token", 0.1)
}

func TestCachedMarket(t *testing.T) {
	server := newVenueStub(t)
	cached := NewCachedMetadata(NewMetadataClient(server.URL), newMapCache())

	info, err := cached.Market(context.Background(), "0xbtc-condition")
	if err != nil {
		t.Fatalf("Market() error = %v", err)
	}
	if info.ConditionID != "0xbtc-condition" {
		t.Errorf("ConditionID = %q", info.ConditionID)
	}

	again, err := cached.Market(context.Background(), "0xbtc-condition")
	if err != nil {
		t.Fatalf("Market() error = %v", err)
	}
	if again.Question != info.Question {
		t.Errorf("cached question differs: %q vs %q", again.Question, info.Question)
	}
}
