package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/SaganGromov/polybot/pkg/types"
)

// pollInterval is how often the watcher checks the strategy file's mtime.
const pollInterval = 5 * time.Second

// AIAnalysisConfig mirrors the "ai_analysis" block of strategies.json.
type AIAnalysisConfig struct {
	Enabled              bool    `json:"enabled"`
	BlockOnNegative      bool    `json:"block_on_negative"`
	MinConfidenceThreshold float64 `json:"min_confidence_threshold"`
	MaxRequests          int     `json:"max_requests"`
	RateLimitRPS         float64 `json:"rate_limit_rps"`
	MaxConcurrentAI      int     `json:"max_concurrent_ai"`
	QueueTimeout         float64 `json:"queue_timeout"`
}

// CryptoMarketRulesConfig mirrors the "crypto_market_rules" block.
type CryptoMarketRulesConfig struct {
	Enabled             bool    `json:"enabled"`
	StopLossPct         float64 `json:"stop_loss_pct"`
	TakeProfitPct       float64 `json:"take_profit_pct"`
	TakeProfitHoldMinPrice float64 `json:"take_profit_hold_min_price"`
	StopLossHoldMinPrice  float64 `json:"stop_loss_hold_min_price"`
}

// SelectiveCriteria mirrors the "selective_criteria" sub-block of sports_filter.
type SelectiveCriteria struct {
	MaxDaysToResolution float64 `json:"max_days_to_resolution"`
	MinFavoriteOdds     float64 `json:"min_favorite_odds"`
}

// SportsFilterConfig mirrors the "sports_filter" block.
type SportsFilterConfig struct {
	Enabled              bool              `json:"enabled"`
	AllowSelectiveTrades bool              `json:"allow_selective_trades"`
	SelectiveCriteria    SelectiveCriteria `json:"selective_criteria"`
}

// WhaleMonitorConfig mirrors the "whale_monitor" block.
type WhaleMonitorConfig struct {
	BatchSize     int `json:"batch_size"`
	BatchDelayMs  int `json:"batch_delay_ms"`
	MaxConcurrent int `json:"max_concurrent"`
}

// StrategyConfig is the hot-reloadable trading configuration, parsed from
// strategies.json.
type StrategyConfig struct {
	WatchedWallets              []types.WalletTarget    `json:"watched_wallets"`
	StopLossPct                 float64                 `json:"stop_loss_pct"`
	TakeProfitPct               float64                 `json:"take_profit_pct"`
	MinSharePrice                float64                 `json:"min_share_price"`
	PortfolioLogIntervalMinutes int                     `json:"portfolio_log_interval_minutes"`
	MaxBudget                   float64                 `json:"max_budget"`
	MinPositionValue            float64                 `json:"min_position_value"`
	BlacklistedTokenIDs         []string                `json:"blacklisted_token_ids"`
	RiskCheckIntervalSeconds    int                     `json:"risk_check_interval_seconds"`
	TakeProfitHoldMinPrice      float64                 `json:"take_profit_hold_min_price"`
	StopLossHoldMinPrice        float64                 `json:"stop_loss_hold_min_price"`
	AIAnalysis                  AIAnalysisConfig        `json:"ai_analysis"`
	CryptoMarketRules           CryptoMarketRulesConfig `json:"crypto_market_rules"`
	SportsFilter                SportsFilterConfig      `json:"sports_filter"`
	WhaleMonitor                WhaleMonitorConfig      `json:"whale_monitor"`
}

// LoadStrategy parses a strategies.json file.
func LoadStrategy(path string) (StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StrategyConfig{}, fmt.Errorf("read strategy file: %w", err)
	}
	var cfg StrategyConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return StrategyConfig{}, &types.ConfigError{Err: err}
	}
	return cfg, nil
}

// Subscriber receives every successfully (re)parsed StrategyConfig. Each
// component implements this with an idempotent setter that applies only
// the fields it owns; dispatch is safe to call repeatedly with the same
// value.
type Subscriber interface {
	ApplyStrategyConfig(StrategyConfig)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(StrategyConfig)

func (f SubscriberFunc) ApplyStrategyConfig(cfg StrategyConfig) { f(cfg) }

// Watcher polls a strategy file's mtime every 5 seconds and, on change,
// re-parses it and pushes the new value to every subscriber. Parse
// failures retain the previously-loaded configuration and are logged,
// per the config-reload error policy.
type Watcher struct {
	path        string
	logger      *slog.Logger
	subscribers []Subscriber
	lastMod     time.Time
	current     StrategyConfig
}

// NewWatcher loads the initial configuration (failing fast if it cannot be
// parsed) and returns a Watcher ready to Run.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := LoadStrategy(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat strategy file: %w", err)
	}
	return &Watcher{path: path, logger: logger, current: cfg, lastMod: info.ModTime()}, nil
}

// Subscribe registers a component to receive future (and not the initial)
// configuration updates. Callers should apply w.Current() once themselves
// before calling Run.
func (w *Watcher) Subscribe(s Subscriber) {
	w.subscribers = append(w.subscribers, s)
}

// Current returns the most recently successfully loaded configuration.
func (w *Watcher) Current() StrategyConfig {
	return w.current
}

// Run polls the strategy file's mtime every 5 seconds until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("strategy file stat failed, retaining previous config", "error", err)
		return
	}
	if !info.ModTime().After(w.lastMod) {
		return
	}

	cfg, err := LoadStrategy(w.path)
	w.lastMod = info.ModTime() // advance regardless: next retry waits for a further mtime change
	if err != nil {
		w.logger.Warn("strategy file reload failed, retaining previous config", "error", err)
		return
	}

	w.current = cfg
	w.logger.Info("strategy config reloaded", "watched_wallets", len(cfg.WatchedWallets))
	for _, s := range w.subscribers {
		s.ApplyStrategyConfig(cfg)
	}
}
