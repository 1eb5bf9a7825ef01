// Package risk implements the Portfolio Risk Manager: the entry pipeline
// that decides whether to mirror a whale's BUY, and the periodic risk scan
// that marks every managed (and pre-existing) position to market and
// liquidates via stop-loss/take-profit thresholds.
package risk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/internal/config"
	"github.com/SaganGromov/polybot/internal/exit"
	"github.com/SaganGromov/polybot/internal/store"
	"github.com/SaganGromov/polybot/internal/tradelog"
	"github.com/SaganGromov/polybot/pkg/types"
)

// eventChanCapacity bounds the TradeEvent queue from the whale monitor;
// once full, the oldest queued event is dropped with a log — whale events
// are sampled snapshots, so losing a stale one in favor of the newest is
// the correct trade-off.
const eventChanCapacity = 256

// AIGate is the subset of ai.Service the risk manager calls into.
type AIGate interface {
	ShouldExecuteTrade(ctx context.Context, tokenID string, trade types.TradeEvent, metadata *types.MarketMetadata, depth *types.MarketDepth) (bool, types.TradeAnalysis)
	CheckSportsFilter(ctx context.Context, tokenID string, metadata types.MarketMetadata) (blocked bool, reason string)
	CheckCryptoMarket(ctx context.Context, tokenID string, metadata types.MarketMetadata) (isCrypto bool, reason string)
}

// Manager implements the entry pipeline and risk scan. Exported methods are
// safe for concurrent use.
type Manager struct {
	exchange exchangeProvider
	executor *exit.Executor
	ai       AIGate
	logger   *slog.Logger

	stateFile *store.JSONFile[types.BotState]

	mu                     sync.Mutex
	stopLossPct            float64
	takeProfitPct          float64
	minSharePrice          float64
	maxBudget              float64
	minPositionValue       float64
	blacklist              map[string]bool
	riskCheckInterval      time.Duration
	portfolioLogInterval   time.Duration
	tpHoldMinPrice         float64
	slHoldMinPrice         float64
	aiEnabled              bool
	aiBlockOnNegative      bool
	aiMinConfidence        float64
	cryptoEnabled          bool
	cryptoSL, cryptoTP     float64
	cryptoTPHold, cryptoSLHold float64

	stateMu sync.Mutex
	state   types.BotState

	eventCh chan types.TradeEvent

	// reconfigCh signals Run's select loop that riskCheckInterval and/or
	// portfolioLogInterval may have changed, so the running tickers need
	// to be reset to the new values without a process restart (§4.8).
	reconfigCh chan struct{}

	overrideDir string
	tradeLog    *tradelog.Logger
}

// SetTradeLogger attaches a trade logger; every mirrored buy and
// stop-loss/take-profit sell is then recorded with full decision context.
// Optional — a nil-logger Manager simply skips trade logging.
func (m *Manager) SetTradeLogger(l *tradelog.Logger) {
	m.tradeLog = l
}

// exchangeProvider is the subset of exchange.Provider this package uses.
type exchangeProvider interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetPositions(ctx context.Context, minValue decimal.Decimal) ([]types.Position, error)
	PlaceOrder(ctx context.Context, tokenID string, side types.Side, size, priceLimit decimal.Decimal) (types.Order, error)
	GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error)
	GetMarketMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error)
}

// New builds a Manager, loading BotState from statePath (resetting to
// zeroes if missing or corrupt).
func New(exchange exchangeProvider, executor *exit.Executor, ai AIGate, statePath string, logger *slog.Logger, strategy config.StrategyConfig) (*Manager, error) {
	f, err := store.Open[types.BotState](statePath)
	if err != nil {
		return nil, err
	}
	state, ok := f.Load()
	if !ok {
		state = types.NewBotState()
	}
	if state.ManagedTokens == nil {
		state.ManagedTokens = map[string]bool{}
	}

	m := &Manager{
		exchange:    exchange,
		executor:    executor,
		ai:          ai,
		logger:      logger.With("component", "risk.manager"),
		stateFile:   f,
		state:       state,
		blacklist:   map[string]bool{},
		eventCh:     make(chan types.TradeEvent, eventChanCapacity),
		reconfigCh:  make(chan struct{}, 1),
		overrideDir: "/tmp/polybot_override",
	}
	m.ApplyStrategyConfig(strategy)
	return m, nil
}

// ApplyStrategyConfig implements config.Subscriber: live reconfiguration of
// every risk-manager-owned threshold.
func (m *Manager) ApplyStrategyConfig(cfg config.StrategyConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopLossPct = cfg.StopLossPct
	m.takeProfitPct = cfg.TakeProfitPct
	m.minSharePrice = cfg.MinSharePrice
	m.maxBudget = cfg.MaxBudget
	m.minPositionValue = cfg.MinPositionValue
	m.tpHoldMinPrice = cfg.TakeProfitHoldMinPrice
	m.slHoldMinPrice = cfg.StopLossHoldMinPrice

	if cfg.RiskCheckIntervalSeconds > 0 {
		m.riskCheckInterval = time.Duration(cfg.RiskCheckIntervalSeconds) * time.Second
	} else if m.riskCheckInterval == 0 {
		m.riskCheckInterval = 10 * time.Second
	}
	if cfg.PortfolioLogIntervalMinutes > 0 {
		m.portfolioLogInterval = time.Duration(cfg.PortfolioLogIntervalMinutes) * time.Minute
	} else if m.portfolioLogInterval == 0 {
		m.portfolioLogInterval = time.Hour
	}

	blacklist := make(map[string]bool, len(cfg.BlacklistedTokenIDs))
	for _, id := range cfg.BlacklistedTokenIDs {
		blacklist[id] = true
	}
	m.blacklist = blacklist

	m.aiEnabled = cfg.AIAnalysis.Enabled
	m.aiBlockOnNegative = cfg.AIAnalysis.BlockOnNegative
	m.aiMinConfidence = cfg.AIAnalysis.MinConfidenceThreshold

	m.cryptoEnabled = cfg.CryptoMarketRules.Enabled
	m.cryptoSL = cfg.CryptoMarketRules.StopLossPct
	m.cryptoTP = cfg.CryptoMarketRules.TakeProfitPct
	m.cryptoTPHold = cfg.CryptoMarketRules.TakeProfitHoldMinPrice
	m.cryptoSLHold = cfg.CryptoMarketRules.StopLossHoldMinPrice

	m.logger.Info("risk manager config reloaded",
		"stop_loss_pct", m.stopLossPct, "take_profit_pct", m.takeProfitPct,
		"max_budget", m.maxBudget, "blacklist_size", len(m.blacklist))

	// Wake Run's select loop so it resets the risk-scan/portfolio-log
	// tickers to whatever interval was just applied above.
	select {
	case m.reconfigCh <- struct{}{}:
	default:
	}
}

// OnTradeEvent enqueues a detected whale trade for asynchronous processing
// by Run's event loop. Non-blocking: if the queue is full, the oldest
// queued event is dropped in favor of this newer one.
func (m *Manager) OnTradeEvent(event types.TradeEvent) {
	select {
	case m.eventCh <- event:
	default:
		select {
		case <-m.eventCh:
			m.logger.Warn("trade event queue full, dropped oldest event")
		default:
		}
		select {
		case m.eventCh <- event:
		default:
		}
	}
}

// Run drives the event loop, the periodic risk scan, and the portfolio
// log loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	m.mu.Lock()
	riskInterval := m.riskCheckInterval
	logInterval := m.portfolioLogInterval
	m.mu.Unlock()

	riskTicker := time.NewTicker(riskInterval)
	defer riskTicker.Stop()
	logTicker := time.NewTicker(logInterval)
	defer logTicker.Stop()

	m.logger.Info("portfolio risk manager started")

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-m.eventCh:
			m.onTradeEvent(ctx, event)
		case <-riskTicker.C:
			m.runRiskScan(ctx)
		case <-logTicker.C:
			m.logPortfolio(ctx)
		case <-m.reconfigCh:
			// A hot-reload may have changed riskCheckInterval and/or
			// portfolioLogInterval; reset both tickers to the current
			// values so the new cadence takes effect without a restart.
			m.mu.Lock()
			newRisk := m.riskCheckInterval
			newLog := m.portfolioLogInterval
			m.mu.Unlock()
			if newRisk != riskInterval {
				riskInterval = newRisk
				riskTicker.Reset(riskInterval)
			}
			if newLog != logInterval {
				logInterval = newLog
				logTicker.Reset(logInterval)
			}
		}
	}
}

// configSnapshot is a consistent point-in-time read of every live-
// reconfigurable threshold, taken once per pipeline/scan run so a
// concurrent ApplyStrategyConfig can't tear a single decision across old
// and new values.
type configSnapshot struct {
	stopLossPct, takeProfitPct   float64
	minSharePrice                float64
	maxBudget, minPositionValue  float64
	tpHoldMinPrice, slHoldMinPrice float64
	blacklist                    map[string]bool
	aiEnabled, aiBlockOnNegative bool
	aiMinConfidence              float64
	cryptoEnabled                bool
	cryptoSL, cryptoTP           float64
	cryptoTPHold, cryptoSLHold   float64
}

func (m *Manager) snapshotConfig() configSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return configSnapshot{
		stopLossPct:       m.stopLossPct,
		takeProfitPct:     m.takeProfitPct,
		minSharePrice:     m.minSharePrice,
		maxBudget:         m.maxBudget,
		minPositionValue:  m.minPositionValue,
		tpHoldMinPrice:    m.tpHoldMinPrice,
		slHoldMinPrice:    m.slHoldMinPrice,
		blacklist:         m.blacklist,
		aiEnabled:         m.aiEnabled,
		aiBlockOnNegative: m.aiBlockOnNegative,
		aiMinConfidence:   m.aiMinConfidence,
		cryptoEnabled:     m.cryptoEnabled,
		cryptoSL:          m.cryptoSL,
		cryptoTP:          m.cryptoTP,
		cryptoTPHold:      m.cryptoTPHold,
		cryptoSLHold:      m.cryptoSLHold,
	}
}

func (m *Manager) persistState() {
	m.stateMu.Lock()
	snapshot := types.BotState{CumulativeSpend: m.state.CumulativeSpend, ManagedTokens: make(map[string]bool, len(m.state.ManagedTokens))}
	for k, v := range m.state.ManagedTokens {
		snapshot.ManagedTokens[k] = v
	}
	m.stateMu.Unlock()

	if err := m.stateFile.Save(snapshot); err != nil {
		m.logger.Warn("bot state persist failed", "error", err)
	}
}

// State returns a copy of the current persisted bot state.
func (m *Manager) State() types.BotState {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	cp := types.BotState{CumulativeSpend: m.state.CumulativeSpend, ManagedTokens: make(map[string]bool, len(m.state.ManagedTokens))}
	for k, v := range m.state.ManagedTokens {
		cp.ManagedTokens[k] = v
	}
	return cp
}
