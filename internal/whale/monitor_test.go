package whale

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/SaganGromov/polybot/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type activityServer struct {
	mu    sync.Mutex
	items map[string][]activityItem
}

func newActivityServer() *activityServer {
	return &activityServer{items: map[string][]activityItem{}}
}

func (s *activityServer) set(addr string, items []activityItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[addr] = items
}

func (s *activityServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := r.URL.Query().Get("user")
		s.mu.Lock()
		items := s.items[addr]
		s.mu.Unlock()
		if items == nil {
			items = []activityItem{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(items)
	}
}

func TestCheckWalletFirstObservationStoresCursorWithoutEmitting(t *testing.T) {
	t.Parallel()
	srv := newActivityServer()
	srv.set("0xAAA", []activityItem{{Type: "TRADE", Side: "BUY", Asset: "123", Timestamp: 1000}})
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	var mu sync.Mutex
	var events []types.TradeEvent
	m := New([]types.WalletTarget{{Address: "0xAAA", Name: "whale1"}}, ts.URL, nil, func(ctx context.Context, e types.TradeEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}, testLogger())

	m.checkWallet(context.Background(), types.WalletTarget{Address: "0xAAA", Name: "whale1"})

	mu.Lock()
	n := len(events)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("events = %d, want 0 on first observation", n)
	}
	if m.cursors["0xAAA"] != 1000 {
		t.Errorf("cursor = %d, want 1000", m.cursors["0xAAA"])
	}
}

func TestCheckWalletNewerTimestampEmitsEvent(t *testing.T) {
	t.Parallel()
	srv := newActivityServer()
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	var mu sync.Mutex
	var events []types.TradeEvent
	m := New([]types.WalletTarget{{Address: "0xAAA", Name: "whale1"}}, ts.URL, nil, func(ctx context.Context, e types.TradeEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}, testLogger())
	m.cursors["0xAAA"] = 1000 // simulate prior observation

	srv.set("0xAAA", []activityItem{{Type: "TRADE", Side: "BUY", Asset: "123", Slug: "will-x-happen", Outcome: "Yes", Price: "0.42", USDCSize: "50.5", Timestamp: 2000}})
	m.checkWallet(context.Background(), types.WalletTarget{Address: "0xAAA", Name: "whale1"})

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.TokenID != "123" || ev.Side != types.SideBuy || ev.MarketSlug != "will-x-happen" || ev.Outcome != "Yes" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.USDSize != 50.5 {
		t.Errorf("USDSize = %v, want 50.5", ev.USDSize)
	}
	if m.cursors["0xAAA"] != 2000 {
		t.Errorf("cursor = %d, want 2000 (advanced)", m.cursors["0xAAA"])
	}
}

func TestCheckWalletStaleTimestampIsNoop(t *testing.T) {
	t.Parallel()
	srv := newActivityServer()
	srv.set("0xAAA", []activityItem{{Type: "TRADE", Side: "BUY", Asset: "123", Timestamp: 500}})
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	var events []types.TradeEvent
	m := New([]types.WalletTarget{{Address: "0xAAA"}}, ts.URL, nil, func(ctx context.Context, e types.TradeEvent) {
		events = append(events, e)
	}, testLogger())
	m.cursors["0xAAA"] = 1000

	m.checkWallet(context.Background(), types.WalletTarget{Address: "0xAAA"})
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 for a stale (older) timestamp", len(events))
	}
	if m.cursors["0xAAA"] != 1000 {
		t.Errorf("cursor should remain unchanged on stale observation")
	}
}

func TestProcessActivityIgnoresNonTradeTypes(t *testing.T) {
	t.Parallel()
	m := New(nil, "http://unused", nil, func(ctx context.Context, e types.TradeEvent) {
		t.Fatal("onEvent should not be called for a REWARD-type activity")
	}, testLogger())
	m.processActivity(context.Background(), types.WalletTarget{}, activityItem{Type: "REWARD", Asset: "123"})
}

func TestProcessActivityRejectsNonNumericAsset(t *testing.T) {
	t.Parallel()
	m := New(nil, "http://unused", nil, func(ctx context.Context, e types.TradeEvent) {
		t.Fatal("onEvent should not be called for a non-numeric asset field")
	}, testLogger())
	m.processActivity(context.Background(), types.WalletTarget{}, activityItem{Type: "TRADE", Side: "BUY", Asset: "not-a-number"})
}

func TestProcessActivityRejectsUnknownSide(t *testing.T) {
	t.Parallel()
	m := New(nil, "http://unused", nil, func(ctx context.Context, e types.TradeEvent) {
		t.Fatal("onEvent should not be called for an unrecognized side")
	}, testLogger())
	m.processActivity(context.Background(), types.WalletTarget{}, activityItem{Type: "TRADE", Side: "HOLD", Asset: "123"})
}

func TestUpdateTargetsPreservesCursorsForSurvivors(t *testing.T) {
	t.Parallel()
	m := New([]types.WalletTarget{{Address: "0xAAA"}, {Address: "0xBBB"}}, "http://unused", nil, func(context.Context, types.TradeEvent) {}, testLogger())
	m.cursors["0xAAA"] = 111
	m.cursors["0xBBB"] = 222

	m.UpdateTargets([]types.WalletTarget{{Address: "0xAAA"}, {Address: "0xCCC"}})

	if m.cursors["0xAAA"] != 111 {
		t.Errorf("surviving address 0xAAA cursor = %d, want preserved 111", m.cursors["0xAAA"])
	}
	if _, ok := m.cursors["0xBBB"]; ok {
		t.Error("removed address 0xBBB should be dropped from cursors")
	}
	if c, ok := m.cursors["0xCCC"]; !ok || c != 0 {
		t.Errorf("new address 0xCCC cursor = %d, want 0", c)
	}
}

func TestPollAllBatchesAcrossMultipleBatches(t *testing.T) {
	t.Parallel()
	srv := newActivityServer()
	targets := make([]types.WalletTarget, 0, 5)
	for i := 0; i < 5; i++ {
		addr := string(rune('A' + i))
		targets = append(targets, types.WalletTarget{Address: addr, Name: addr})
		srv.set(addr, []activityItem{{Type: "TRADE", Side: "BUY", Asset: "1", Timestamp: 1}})
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	var mu sync.Mutex
	seen := map[string]bool{}
	m := New(targets, ts.URL, nil, func(ctx context.Context, e types.TradeEvent) {
		mu.Lock()
		seen[e.SourceWalletName] = true
		mu.Unlock()
	}, testLogger())
	m.UpdateBatchConfig(2, 5*time.Millisecond, 1)

	if err := m.pollAll(context.Background()); err != nil {
		t.Fatalf("pollAll: %v", err)
	}
	// First observation for every wallet — no events yet, but every cursor set.
	for _, tgt := range targets {
		if m.cursors[tgt.Address] != 1 {
			t.Errorf("wallet %s cursor = %d, want 1", tgt.Address, m.cursors[tgt.Address])
		}
	}
}
