// Polybot — a copy-trading engine for Polymarket's binary-outcome CLOB.
//
// Architecture:
//
//	main.go                    — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	internal/engine            — orchestrator: wires exchange, AI service, whale monitor, risk manager
//	internal/whale             — polls watched wallets for new trades, emits TradeEvents
//	internal/ai                — caches decisions, enforces budget/circuit breaker, gates on AI analysis
//	internal/ailimiter         — token-bucket + concurrency-semaphore rate limiter for AI calls
//	internal/risk              — entry pipeline (mirror whale BUYs) and periodic stop-loss/take-profit scan
//	internal/exit              — sweep-based partial-fill liquidator, floored at a minimum exit price
//	internal/book              — streaming order-book cache fed by a WebSocket, REST fallback on miss
//	internal/exchange          — live CLOB REST/auth client and an in-memory mock for dry-run
//	internal/config            — bootstrap config (viper) plus hot-reloadable strategy parameters
//	internal/store             — atomic JSON-file persistence for bot state, AI cache, trade log
//	internal/api               — minimal read-only dashboard HTTP surface
//
// How it trades:
//
//	The bot watches a list of whale wallets. When one opens a new BUY
//	position, the bot runs it through a decision pipeline (blacklist,
//	sports/crypto filters, AI gate, budget/price checks) and, if it
//	passes, mirrors a small BUY on the same outcome token. Separately, it
//	marks every open position to market on a fixed interval and exits via
//	stop-loss or take-profit, draining the book in small sweeps to avoid
//	moving the price against itself.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SaganGromov/polybot/internal/api"
	"github.com/SaganGromov/polybot/internal/config"
	"github.com/SaganGromov/polybot/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var dashboard *api.Server
	if cfg.Dashboard.Enabled {
		dashboard = api.NewServer(cfg.Dashboard, eng, logger)
		go func() {
			if err := dashboard.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — trading against the in-memory mock exchange, no real orders will be placed")
	}

	logger.Info("polybot started", "dry_run", cfg.DryRun, "strategy_file", cfg.StrategyFile)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if dashboard != nil {
		if err := dashboard.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
