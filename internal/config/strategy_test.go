package config

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/SaganGromov/polybot/pkg/types"
)

func writeStrategyFile(t *testing.T, path string, maxBudget float64) {
	t.Helper()
	cfg := StrategyConfig{MaxBudget: maxBudget, StopLossPct: 0.2, TakeProfitPct: 0.9}
	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestLoadStrategyParsesSchema(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.json")
	writeStrategyFile(t, path, 100)

	cfg, err := LoadStrategy(path)
	if err != nil {
		t.Fatalf("LoadStrategy: %v", err)
	}
	if cfg.MaxBudget != 100 {
		t.Errorf("MaxBudget = %v, want 100", cfg.MaxBudget)
	}
}

func TestLoadStrategyUnparseableReturnsConfigError(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := LoadStrategy(path)
	if err == nil {
		t.Fatal("expected error for unparseable strategy file")
	}
	var cfgErr *types.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Errorf("err = %v, want a *types.ConfigError", err)
	}
}

func TestWatcherDispatchesOnChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.json")
	writeStrategyFile(t, path, 100)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w, err := NewWatcher(path, logger)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	var received atomic.Int64
	w.Subscribe(SubscriberFunc(func(cfg StrategyConfig) {
		received.Store(int64(cfg.MaxBudget))
	}))

	// Bump mtime forward so pollOnce sees a change even on fast filesystems.
	future := time.Now().Add(10 * time.Second)
	writeStrategyFile(t, path, 250)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	w.pollOnce()

	if got := received.Load(); got != 250 {
		t.Errorf("subscriber received MaxBudget = %v, want 250", got)
	}
	if w.Current().MaxBudget != 250 {
		t.Errorf("Current().MaxBudget = %v, want 250", w.Current().MaxBudget)
	}
}

func TestWatcherRetainsPreviousOnParseFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.json")
	writeStrategyFile(t, path, 100)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w, err := NewWatcher(path, logger)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	future := time.Now().Add(10 * time.Second)
	if err := os.WriteFile(path, []byte("corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	w.pollOnce()

	if w.Current().MaxBudget != 100 {
		t.Errorf("Current().MaxBudget = %v, want 100 (retained)", w.Current().MaxBudget)
	}
}

func TestWatcherRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.json")
	writeStrategyFile(t, path, 100)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w, err := NewWatcher(path, logger)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
