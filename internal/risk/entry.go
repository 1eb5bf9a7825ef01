package risk

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/internal/exchange"
	"github.com/SaganGromov/polybot/internal/tradelog"
	"github.com/SaganGromov/polybot/pkg/types"
)

// minOrderUSD is the fixed minimum notional target the sizing step aims
// for before the MIN_ORDER_SIZE floor kicks in.
var minOrderUSD = decimal.NewFromInt(2)

// onTradeEvent runs the entry pipeline for one detected whale trade. Only
// BUY events are mirrored; every step blocks the trade (returns early) on
// failure, per the entry-pipeline contract. Errors are logged and treated
// as a skip, never propagated.
func (m *Manager) onTradeEvent(ctx context.Context, event types.TradeEvent) {
	if event.Side != types.SideBuy {
		return
	}

	// 1. Metadata fetch.
	metadata, err := m.exchange.GetMarketMetadata(ctx, event.TokenID)
	if err != nil {
		m.logger.Warn("metadata fetch failed, skipping mirror", "token_id", event.TokenID, "error", err)
		return
	}
	marketLabel := metadata.Title

	cfg := m.snapshotConfig()

	// 2. Blacklist.
	if cfg.blacklist[event.TokenID] {
		m.logger.Warn("token blacklisted, skipping mirror", "token_id", event.TokenID, "market", marketLabel)
		return
	}

	// 3. Sports filter.
	if m.ai != nil {
		if blocked, reason := m.ai.CheckSportsFilter(ctx, event.TokenID, metadata); blocked {
			m.logger.Warn("sports filter blocked mirror", "token_id", event.TokenID, "reason", reason)
			return
		}
	}

	// 4. Order-book fetch.
	depth, err := m.exchange.GetOrderBook(ctx, event.TokenID)
	if err != nil {
		m.logger.Warn("order book fetch failed, skipping mirror", "token_id", event.TokenID, "error", err)
		return
	}

	m.handleBuySignal(ctx, event, marketLabel, metadata, depth, cfg)
}

func (m *Manager) handleBuySignal(ctx context.Context, event types.TradeEvent, marketLabel string, metadata types.MarketMetadata, depth types.MarketDepth, cfg configSnapshot) {
	// 5. AI gate.
	var analysisForLog *types.TradeAnalysis
	manualOverride := false
	if m.ai != nil && cfg.aiEnabled {
		shouldTrade, analysis := m.ai.ShouldExecuteTrade(ctx, event.TokenID, event, &metadata, &depth)
		analysisForLog = &analysis
		if !shouldTrade {
			if analysis.Confidence >= cfg.aiMinConfidence {
				m.logger.Warn("ai recommends skip, requesting manual override",
					"token_id", event.TokenID, "confidence", analysis.Confidence, "justification", analysis.Justification)
				if !m.promptManualOverride(ctx, marketLabel, analysis) {
					m.logger.Info("trade skipped, no manual override", "token_id", event.TokenID)
					return
				}
				manualOverride = true
				m.logger.Info("manual override accepted, proceeding", "token_id", event.TokenID)
			} else {
				m.logger.Info("ai recommends skip but low confidence, auto-proceeding",
					"token_id", event.TokenID, "confidence", analysis.Confidence)
			}
		}
	}

	// 6. Balance check.
	balance, err := m.exchange.GetBalance(ctx)
	if err != nil {
		m.logger.Warn("balance check failed, skipping mirror", "error", err)
		return
	}
	if balance.LessThan(decimal.NewFromInt(1)) {
		m.logger.Warn("insufficient balance to mirror", "balance", balance)
		return
	}

	// 7. Best ask.
	bestAsk, ok := depth.BestAsk()
	if !ok {
		m.logger.Warn("no sellers available, skipping mirror", "token_id", event.TokenID)
		return
	}
	if bestAsk.Price.LessThan(decimal.NewFromFloat(cfg.minSharePrice)) {
		m.logger.Warn("best ask below minimum share price, skipping mirror",
			"best_ask", bestAsk.Price, "min_share_price", cfg.minSharePrice)
		return
	}

	// 8. Sizing: exact decimal arithmetic, floor-to-2 rounding.
	limitPrice := bestAsk.Price.Truncate(2)
	if limitPrice.IsZero() {
		return
	}
	size := minOrderUSD.Div(limitPrice).Truncate(2)
	if size.LessThan(exchange.MinOrderSize) {
		size = exchange.MinOrderSize
	}
	// Run the sized (size, limitPrice) pair through the same rounding
	// contract the exchange itself enforces on submission (§4.1), so the
	// budget check and trade log below account for the cost that is
	// actually charged rather than the pre-rounding estimate.
	size, limitPrice = exchange.RoundBuyOrder(size, limitPrice)
	cost := size.Mul(limitPrice).Truncate(2)

	// 9. Cumulative budget.
	m.stateMu.Lock()
	cumulativeSpend := decimal.NewFromFloat(m.state.CumulativeSpend)
	m.stateMu.Unlock()
	if cumulativeSpend.Add(cost).GreaterThan(decimal.NewFromFloat(cfg.maxBudget)) {
		m.logger.Warn("max budget exceeded, skipping mirror",
			"cumulative_spend", cumulativeSpend, "cost", cost, "max_budget", cfg.maxBudget)
		return
	}

	// 10. Submit BUY.
	_, err = m.exchange.PlaceOrder(ctx, event.TokenID, types.SideBuy, size, limitPrice)
	if err != nil {
		m.logger.Error("mirror buy order failed", "token_id", event.TokenID, "error", err)
		return
	}

	m.stateMu.Lock()
	m.state.CumulativeSpend += cost.InexactFloat64()
	m.state.AddManaged(event.TokenID)
	m.stateMu.Unlock()
	m.persistState()

	m.logger.Info("mirrored whale buy", "token_id", event.TokenID, "market", marketLabel,
		"size", size, "limit_price", limitPrice, "cost", cost, "source_wallet", event.SourceWalletName)

	if m.tradeLog != nil {
		sizeF, _ := size.Float64()
		priceF, _ := limitPrice.Float64()
		costF, _ := cost.Float64()
		buyCtx := tradelog.BuyContext{
			WhaleName:      event.SourceWalletName,
			WhaleAddress:   event.SourceWalletAddress,
			WhaleTradeSize: event.USDSize,
			WhaleOutcome:   event.Outcome,
			Metadata:       &metadata,
			AIEnabled:      cfg.aiEnabled,
			AIManualOverride: manualOverride,
			Strategy: &tradelog.StrategyParams{
				StopLossPct:     cfg.stopLossPct,
				TakeProfitPct:   cfg.takeProfitPct,
				MinSharePrice:   cfg.minSharePrice,
				MaxBudget:       cfg.maxBudget,
				CumulativeSpend: cumulativeSpend.Add(cost).InexactFloat64(),
			},
		}
		if analysisForLog != nil {
			buyCtx.Analysis = analysisForLog
		}
		if err := m.tradeLog.LogBuy(event.TokenID, marketLabel, sizeF, priceF, costF, buyCtx); err != nil {
			m.logger.Warn("trade log write failed", "error", err)
		}
	}
}
