package storage

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/quorumtrade/oraclelag/pkg/config"
)

func TestOpenSelectsBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)

	store, err := Open(&config.Config{StorageBackend: "console"}, logger)
	if err != nil {
		t.Fatalf("console backend: %v", err)
	}
	if _, ok := store.(*ConsoleStorage); !ok {
		t.Errorf("console backend produced %T", store)
	}

	store, err = Open(&config.Config{StorageBackend: "sqlite", SQLitePath: ":memory:"}, logger)
	if err != nil {
		t.Fatalf("sqlite backend: %v", err)
	}
	if _, ok := store.(*SQLiteStorage); !ok {
		t.Errorf("sqlite backend produced %T", store)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if _, err := Open(&config.Config{StorageBackend: "redis"}, logger); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
