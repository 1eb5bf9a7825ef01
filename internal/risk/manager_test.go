package risk

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/internal/config"
	"github.com/SaganGromov/polybot/internal/exit"
	"github.com/SaganGromov/polybot/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func level(price, size string) types.MarketDepthLevel {
	return types.MarketDepthLevel{Price: dec(price), Size: dec(size)}
}

// fakeExchange implements exchangeProvider (and, incidentally,
// exit.OrderBookPlacer) for testing.
type fakeExchange struct {
	mu sync.Mutex

	balance    decimal.Decimal
	balanceErr error

	positions    []types.Position
	positionsErr error

	metadata    map[string]types.MarketMetadata
	metadataErr error

	depth    map[string]types.MarketDepth
	depthErr error

	placeErr    error
	placedSizes []decimal.Decimal
	placedSides []types.Side
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		balance:  dec("100"),
		metadata: map[string]types.MarketMetadata{},
		depth:    map[string]types.MarketDepth{},
	}
}

func (f *fakeExchange) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return decimal.Zero, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeExchange) GetPositions(ctx context.Context, minValue decimal.Decimal) ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	return f.positions, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, tokenID string, side types.Side, size, priceLimit decimal.Decimal) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return types.Order{}, f.placeErr
	}
	f.placedSizes = append(f.placedSizes, size)
	f.placedSides = append(f.placedSides, side)
	return types.Order{TokenID: tokenID, Side: side, Size: size, PriceLimit: priceLimit, Status: types.OrderFilled, OrderID: "ord-1"}, nil
}

func (f *fakeExchange) GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.depthErr != nil {
		return types.MarketDepth{}, f.depthErr
	}
	return f.depth[tokenID], nil
}

func (f *fakeExchange) GetMarketMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metadataErr != nil {
		return types.MarketMetadata{}, f.metadataErr
	}
	return f.metadata[tokenID], nil
}

// fakeAIGate is a configurable stand-in for ai.Service.
type fakeAIGate struct {
	shouldTrade  bool
	analysis     types.TradeAnalysis
	sportsBlock  bool
	sportsReason string
	isCrypto     bool
}

func (f *fakeAIGate) ShouldExecuteTrade(ctx context.Context, tokenID string, trade types.TradeEvent, metadata *types.MarketMetadata, depth *types.MarketDepth) (bool, types.TradeAnalysis) {
	return f.shouldTrade, f.analysis
}

func (f *fakeAIGate) CheckSportsFilter(ctx context.Context, tokenID string, metadata types.MarketMetadata) (bool, string) {
	return f.sportsBlock, f.sportsReason
}

func (f *fakeAIGate) CheckCryptoMarket(ctx context.Context, tokenID string, metadata types.MarketMetadata) (bool, string) {
	return f.isCrypto, ""
}

func baseStrategy() config.StrategyConfig {
	return config.StrategyConfig{
		StopLossPct:              0.20,
		TakeProfitPct:            0.50,
		MinSharePrice:            0.05,
		MaxBudget:                1000,
		MinPositionValue:         1,
		RiskCheckIntervalSeconds: 3600,
		PortfolioLogIntervalMinutes: 60,
	}
}

func newTestManager(t *testing.T, ex *fakeExchange, ai AIGate, cfg config.StrategyConfig) *Manager {
	t.Helper()
	dir := t.TempDir()
	executor := exit.New(ex, testLogger())
	m, err := New(ex, executor, ai, filepath.Join(dir, "state.json"), testLogger(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.overrideDir = filepath.Join(dir, "override")
	return m
}

func TestNewLoadsZeroStateWhenAbsent(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, newFakeExchange(), nil, baseStrategy())
	state := m.State()
	if state.CumulativeSpend != 0 || len(state.ManagedTokens) != 0 {
		t.Errorf("expected zeroed state, got %+v", state)
	}
}

func TestPersistStateRoundTrips(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, newFakeExchange(), nil, baseStrategy())
	m.stateMu.Lock()
	m.state.CumulativeSpend = 42
	m.state.AddManaged("tok1")
	m.stateMu.Unlock()
	m.persistState()

	loaded, ok := m.stateFile.Load()
	if !ok {
		t.Fatal("expected state file to load")
	}
	if loaded.CumulativeSpend != 42 || !loaded.IsManaged("tok1") {
		t.Errorf("persisted state mismatch: %+v", loaded)
	}
}

func TestApplyStrategyConfigRebuildsBlacklist(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, newFakeExchange(), nil, baseStrategy())
	cfg := baseStrategy()
	cfg.BlacklistedTokenIDs = []string{"bad1", "bad2"}
	m.ApplyStrategyConfig(cfg)

	snap := m.snapshotConfig()
	if !snap.blacklist["bad1"] || !snap.blacklist["bad2"] {
		t.Errorf("blacklist not rebuilt: %+v", snap.blacklist)
	}
}

func TestOnTradeEventDropsOldestWhenQueueFull(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, newFakeExchange(), nil, baseStrategy())
	m.eventCh = make(chan types.TradeEvent, 2)

	m.OnTradeEvent(types.TradeEvent{TokenID: "a"})
	m.OnTradeEvent(types.TradeEvent{TokenID: "b"})
	m.OnTradeEvent(types.TradeEvent{TokenID: "c"}) // queue full, should drop "a"

	first := <-m.eventCh
	second := <-m.eventCh
	if first.TokenID != "b" || second.TokenID != "c" {
		t.Errorf("expected oldest dropped, got %s then %s", first.TokenID, second.TokenID)
	}
}

func TestRunExitsOnContextCancellation(t *testing.T) {
	t.Parallel()
	cfg := baseStrategy()
	cfg.RiskCheckIntervalSeconds = 3600
	cfg.PortfolioLogIntervalMinutes = 60
	m := newTestManager(t, newFakeExchange(), nil, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
