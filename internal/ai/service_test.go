package ai

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SaganGromov/polybot/internal/ailimiter"
	"github.com/SaganGromov/polybot/internal/config"
	"github.com/SaganGromov/polybot/pkg/types"
)

type stubFetcher struct{}

func (stubFetcher) GetMarketMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error) {
	return types.MarketMetadata{Title: "Test Market"}, nil
}
func (stubFetcher) GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error) {
	return types.MarketDepth{}, nil
}

type erroringAnalyzer struct{ Mock }

func (erroringAnalyzer) AnalyzeTrade(ctx context.Context, tokenID string, metadata types.MarketMetadata, depth types.MarketDepth, tradeCtx map[string]any) (types.TradeAnalysis, error) {
	return types.TradeAnalysis{}, errors.New("analyzer unavailable")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestService(t *testing.T, analyzer Analyzer, cfg config.StrategyConfig) *Service {
	t.Helper()
	limiter := ailimiter.New(1000, 10, 2*time.Second, 0)
	svc, err := NewService(analyzer, limiter, stubFetcher{}, filepath.Join(t.TempDir(), "ai_state.json"), testLogger(), cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestShouldExecuteTradeApprovesAndCaches(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, NewMock(true), config.StrategyConfig{})

	trade := types.TradeEvent{SourceWalletName: "whale1"}
	should, analysis := svc.ShouldExecuteTrade(context.Background(), "tok1", trade, nil, nil)
	if !should {
		t.Fatalf("should = false, want true")
	}
	if !analysis.ShouldTrade {
		t.Errorf("analysis.ShouldTrade = false, want true")
	}

	svc.mu.Lock()
	_, cached := svc.cache["tok1"]
	svc.mu.Unlock()
	if !cached {
		t.Error("expected tok1 to be cached after a successful analysis")
	}
}

func TestShouldExecuteTradeCacheHitSkipsBudget(t *testing.T) {
	t.Parallel()
	cfg := config.StrategyConfig{}
	cfg.AIAnalysis.MaxRequests = 1
	svc := newTestService(t, NewMock(true), cfg)

	trade := types.TradeEvent{}
	svc.ShouldExecuteTrade(context.Background(), "tok1", trade, nil, nil)
	// Budget of 1 is now exhausted; a fresh token should be blocked...
	should, analysis := svc.ShouldExecuteTrade(context.Background(), "tok2", trade, nil, nil)
	if should {
		t.Error("expected budget-exhausted fallback to block tok2")
	}
	if analysis.ShouldTrade {
		t.Error("fallback analysis must never approve")
	}

	// ...but re-asking about tok1 should still hit cache and approve.
	should, _ = svc.ShouldExecuteTrade(context.Background(), "tok1", trade, nil, nil)
	if !should {
		t.Error("cached tok1 should still approve despite exhausted budget")
	}
}

func TestShouldExecuteTradeRequestBudgetExhausted(t *testing.T) {
	t.Parallel()
	cfg := config.StrategyConfig{}
	cfg.AIAnalysis.MaxRequests = 1
	svc := newTestService(t, NewMock(true), cfg)

	svc.ShouldExecuteTrade(context.Background(), "tok1", types.TradeEvent{}, nil, nil)
	should, analysis := svc.ShouldExecuteTrade(context.Background(), "tok2", types.TradeEvent{}, nil, nil)
	if should || analysis.ShouldTrade {
		t.Error("expected blocking fallback once request budget is exhausted")
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	svc := newTestService(t, erroringAnalyzer{}, config.StrategyConfig{})
	svc.UpdateCircuitBreakerConfig(2, time.Hour)

	for i := 0; i < 2; i++ {
		should, analysis := svc.ShouldExecuteTrade(context.Background(), "tokA", types.TradeEvent{}, nil, nil)
		if should || analysis.ShouldTrade {
			t.Fatalf("iteration %d: expected blocking fallback on analyzer error", i)
		}
	}

	// Third call for a fresh token should short-circuit on the open breaker
	// without even invoking the analyzer.
	should, analysis := svc.ShouldExecuteTrade(context.Background(), "tokB", types.TradeEvent{}, nil, nil)
	if should || analysis.ShouldTrade {
		t.Fatal("expected breaker-open fallback to block")
	}
	if analysis.Justification != "fallback: circuit open" {
		t.Errorf("Justification = %q, want circuit-open fallback", analysis.Justification)
	}
}

func TestFallbackNeverApproves(t *testing.T) {
	t.Parallel()
	f := fallback("any reason")
	if f.ShouldTrade {
		t.Error("fallback must never set ShouldTrade=true — this is a safety invariant")
	}
}

func TestCheckSportsFilterDisabledNeverBlocks(t *testing.T) {
	t.Parallel()
	mock := NewMock(true)
	mock.SportsMarkets["Sports Market"] = true
	cfg := config.StrategyConfig{}
	cfg.SportsFilter.Enabled = false
	svc := newTestService(t, mock, cfg)

	blocked, _ := svc.CheckSportsFilter(context.Background(), "tok1", types.MarketMetadata{Title: "Sports Market"})
	if blocked {
		t.Error("disabled sports filter must never block")
	}
}

func TestCheckSportsFilterBlocksNonSelectiveSports(t *testing.T) {
	t.Parallel()
	mock := NewMock(true)
	mock.SportsMarkets["Sports Market"] = true
	cfg := config.StrategyConfig{}
	cfg.SportsFilter.Enabled = true
	cfg.SportsFilter.AllowSelectiveTrades = false
	svc := newTestService(t, mock, cfg)

	blocked, _ := svc.CheckSportsFilter(context.Background(), "tok1", types.MarketMetadata{Title: "Sports Market"})
	if !blocked {
		t.Error("enabled non-selective sports filter should block sports markets")
	}
}

func TestCheckSportsFilterSelectiveQualifiesUnblocks(t *testing.T) {
	t.Parallel()
	mock := NewMock(true)
	mock.SportsMarkets["Sports Market"] = true
	mock.SelectivityQualifies = true
	cfg := config.StrategyConfig{}
	cfg.SportsFilter.Enabled = true
	cfg.SportsFilter.AllowSelectiveTrades = true
	svc := newTestService(t, mock, cfg)

	blocked, _ := svc.CheckSportsFilter(context.Background(), "tok1", types.MarketMetadata{Title: "Sports Market"})
	if blocked {
		t.Error("selective mode qualifying market should not be blocked")
	}
}

func TestCheckSportsFilterSelectiveDisqualifiesBlocks(t *testing.T) {
	t.Parallel()
	mock := NewMock(true)
	mock.SportsMarkets["Sports Market"] = true
	mock.SelectivityQualifies = false
	cfg := config.StrategyConfig{}
	cfg.SportsFilter.Enabled = true
	cfg.SportsFilter.AllowSelectiveTrades = true
	svc := newTestService(t, mock, cfg)

	blocked, _ := svc.CheckSportsFilter(context.Background(), "tok1", types.MarketMetadata{Title: "Sports Market"})
	if !blocked {
		t.Error("selective mode disqualifying market should be blocked")
	}
}

func TestCheckCryptoMarketDisabledReturnsFalse(t *testing.T) {
	t.Parallel()
	mock := NewMock(true)
	mock.CryptoMarkets["BTC Market"] = true
	cfg := config.StrategyConfig{}
	cfg.CryptoMarketRules.Enabled = false
	svc := newTestService(t, mock, cfg)

	isCrypto, _ := svc.CheckCryptoMarket(context.Background(), "tok1", types.MarketMetadata{Title: "BTC Market"})
	if isCrypto {
		t.Error("disabled crypto rules should report isCrypto=false regardless of classification")
	}
}
