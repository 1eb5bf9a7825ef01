// Package engine is the central orchestrator of the copy-trading bot.
//
// It wires together all subsystems:
//
//  1. The exchange Provider (live CLOB client or in-memory Mock for
//     dry-run), wrapped in a cached adapter that serves order-book reads
//     from the streaming WS cache.
//  2. The AI service (Gemini-backed analyzer, or a Mock when no API key
//     is configured) gating and classifying whale trades.
//  3. The whale monitor, polling watched wallets and emitting TradeEvents.
//  4. The portfolio risk manager, which mirrors whale buys and runs the
//     periodic stop-loss/take-profit scan.
//  5. The strategy config watcher, hot-reloading every live threshold.
//
// Unlike a per-market strategy bot this system runs exactly one of each
// component — there is no marketSlot concept, since a whale-mirroring
// portfolio isn't partitioned by market.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/internal/ai"
	"github.com/SaganGromov/polybot/internal/ailimiter"
	"github.com/SaganGromov/polybot/internal/book"
	"github.com/SaganGromov/polybot/internal/config"
	"github.com/SaganGromov/polybot/internal/exchange"
	"github.com/SaganGromov/polybot/internal/exit"
	"github.com/SaganGromov/polybot/internal/risk"
	"github.com/SaganGromov/polybot/internal/tradelog"
	"github.com/SaganGromov/polybot/internal/whale"
	"github.com/SaganGromov/polybot/pkg/types"
)

// Engine orchestrates every component of the copy-trading system and owns
// the lifecycle of all its background goroutines.
type Engine struct {
	cfg      config.Config
	provider *cachedProvider
	auth     *exchange.Auth
	books    *book.Store

	aiService *ai.Service
	whaleMon  *whale.Monitor
	executor  *exit.Executor
	riskMgr   *risk.Manager
	tradeLog  *tradelog.Logger
	watcher   *config.Watcher

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every component from cfg. If cfg.DryRun is true, trades run
// against an in-memory Mock exchange instead of the live CLOB; if no
// Gemini API key is configured, the AI service runs against a fail-open
// Mock analyzer instead of calling out to Gemini.
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	watcher, err := config.NewWatcher(cfg.StrategyFile, logger)
	if err != nil {
		return nil, fmt.Errorf("load strategy config: %w", err)
	}
	strategy := watcher.Current()

	var provider exchange.Provider
	var auth *exchange.Auth
	if cfg.DryRun {
		startBalance := decimal.NewFromFloat(strategy.MaxBudget)
		mockPath := filepath.Join(cfg.Store.DataDir, "mock_state.json")
		mock, err := exchange.NewMock(mockPath, startBalance, logger)
		if err != nil {
			return nil, fmt.Errorf("init mock exchange: %w", err)
		}
		provider = mock
	} else {
		auth, err = exchange.NewAuth(&cfg)
		if err != nil {
			return nil, fmt.Errorf("init wallet auth: %w", err)
		}
		client := exchange.NewClient(&cfg, auth, logger)
		if !auth.HasL2Credentials() {
			logger.Info("no L2 credentials configured, deriving via L1 auth")
			if err := client.Start(context.Background()); err != nil {
				return nil, fmt.Errorf("derive L2 api key: %w", err)
			}
		}
		provider = client
	}

	books := book.NewStore(cfg.API.WSMarketURL, logger)
	cached := newCachedProvider(provider, books)

	var analyzer ai.Analyzer
	if cfg.AI.APIKey == "" {
		logger.Warn("no Gemini API key configured, AI gate runs in fail-open mock mode")
		analyzer = ai.NewMock(true)
	} else {
		analyzer = ai.NewGeminiAnalyzer(cfg.AI.APIKey, logger)
	}

	queueTimeout := time.Duration(strategy.AIAnalysis.QueueTimeout * float64(time.Second))
	limiter := ailimiter.New(strategy.AIAnalysis.RateLimitRPS, strategy.AIAnalysis.MaxConcurrentAI, queueTimeout, 0)

	aiStatePath := filepath.Join(cfg.Store.DataDir, "ai_state.json")
	aiService, err := ai.NewService(analyzer, limiter, cached, aiStatePath, logger, strategy)
	if err != nil {
		return nil, fmt.Errorf("init ai service: %w", err)
	}

	executor := exit.New(cached, logger)

	statePath := filepath.Join(cfg.Store.DataDir, "bot_state.json")
	riskMgr, err := risk.New(cached, executor, aiService, statePath, logger, strategy)
	if err != nil {
		return nil, fmt.Errorf("init risk manager: %w", err)
	}

	tl := tradelog.New(filepath.Join(cfg.Store.DataDir, "trade_log.json"))
	riskMgr.SetTradeLogger(tl)

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:       cfg,
		provider:  cached,
		auth:      auth,
		books:     books,
		aiService: aiService,
		executor:  executor,
		riskMgr:   riskMgr,
		tradeLog:  tl,
		watcher:   watcher,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	// The whale monitor's onEvent callback is the method value
	// e.onWhaleTrade, so it can be constructed only once e exists.
	e.whaleMon = whale.New(strategy.WatchedWallets, cfg.API.DataAPIURL, cached, e.onWhaleTrade, logger)

	watcher.Subscribe(aiService)
	watcher.Subscribe(riskMgr)
	watcher.Subscribe(config.SubscriberFunc(func(sc config.StrategyConfig) {
		e.whaleMon.UpdateTargets(sc.WatchedWallets)
		e.whaleMon.UpdateBatchConfig(sc.WhaleMonitor.BatchSize,
			time.Duration(sc.WhaleMonitor.BatchDelayMs)*time.Millisecond,
			sc.WhaleMonitor.MaxConcurrent)
	}))

	return e, nil
}

// onWhaleTrade forwards a detected whale trade to the risk manager's entry
// pipeline; OnTradeEvent enqueues it non-blocking, so this never stalls
// the monitor's poll loop.
func (e *Engine) onWhaleTrade(_ context.Context, event types.TradeEvent) {
	e.riskMgr.OnTradeEvent(event)
}

// Start launches every background goroutine: the exchange provider's own
// lifecycle, the book cache's WS reader, the strategy watcher, the whale
// monitor, and the risk manager's event/scan loops.
func (e *Engine) Start() error {
	if err := e.provider.Start(e.ctx); err != nil {
		return fmt.Errorf("start exchange provider: %w", err)
	}

	e.spawn(func() { e.books.Run(e.ctx) })
	e.spawn(func() { e.watcher.Run(e.ctx) })
	e.spawn(func() { e.whaleMon.Run(e.ctx) })
	e.spawn(func() { e.riskMgr.Run(e.ctx) })

	e.logger.Info("engine started", "dry_run", e.cfg.DryRun)
	return nil
}

func (e *Engine) spawn(fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
}

// Stop cancels every background goroutine and waits for them to exit,
// then stops the exchange provider's own background resources.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()
	e.wg.Wait()
	if err := e.provider.Stop(); err != nil {
		e.logger.Error("exchange provider stop failed", "error", err)
	}
	e.logger.Info("shutdown complete")
}

// RiskManager exposes the risk manager for the status dashboard.
func (e *Engine) RiskManager() *risk.Manager { return e.riskMgr }

// TradeLog exposes the trade logger for the status dashboard.
func (e *Engine) TradeLog() *tradelog.Logger { return e.tradeLog }

// AIService exposes the AI analysis service for the status dashboard.
func (e *Engine) AIService() *ai.Service { return e.aiService }

// WhaleMonitor exposes the whale monitor for the status dashboard.
func (e *Engine) WhaleMonitor() *whale.Monitor { return e.whaleMon }

// Balance returns the exchange's current available collateral.
func (e *Engine) Balance(ctx context.Context) (decimal.Decimal, error) {
	return e.provider.GetBalance(ctx)
}

// Positions returns every open position above minValue, mark-to-market.
func (e *Engine) Positions(ctx context.Context, minValue decimal.Decimal) ([]types.Position, error) {
	return e.provider.GetPositions(ctx, minValue)
}
