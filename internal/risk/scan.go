package risk

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/SaganGromov/polybot/internal/tradelog"
	"github.com/SaganGromov/polybot/pkg/types"
)

// runRiskScan fetches every dust-filtered position and checks each one for
// a stop-loss/take-profit trigger concurrently; a single position's error
// is logged and isolated, never aborting the others.
func (m *Manager) runRiskScan(ctx context.Context) {
	cfg := m.snapshotConfig()

	positions, err := m.exchange.GetPositions(ctx, decimal.NewFromFloat(cfg.minPositionValue))
	if err != nil {
		m.logger.Error("risk scan: position fetch failed", "error", err)
		return
	}

	var g errgroup.Group
	for _, pos := range positions {
		if !pos.Size.IsPositive() {
			continue
		}
		pos := pos
		g.Go(func() error {
			m.checkPositionRisk(ctx, pos, cfg)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) checkPositionRisk(ctx context.Context, pos types.Position, cfg configSnapshot) {
	metadata, err := m.exchange.GetMarketMetadata(ctx, pos.TokenID)
	if err != nil {
		m.logger.Warn("risk scan: metadata fetch failed", "token_id", pos.TokenID, "error", err)
		return
	}

	marketPrice, ok := m.resolveMarketPrice(ctx, pos.TokenID, metadata)
	if !ok {
		return // illiquid, skip
	}

	if pos.AvgEntryPrice.IsZero() {
		return
	}
	roi := marketPrice.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice)

	slPct, tpPct, tpHold, slHold := cfg.stopLossPct, cfg.takeProfitPct, cfg.tpHoldMinPrice, cfg.slHoldMinPrice
	if cfg.cryptoEnabled && m.ai != nil {
		if isCrypto, _ := m.ai.CheckCryptoMarket(ctx, pos.TokenID, metadata); isCrypto {
			slPct, tpPct, tpHold, slHold = cfg.cryptoSL, cfg.cryptoTP, cfg.cryptoTPHold, cfg.cryptoSLHold
		}
	}

	managedTag := m.isManaged(pos.TokenID)
	marketPriceF, _ := marketPrice.Float64()

	stopLossFires := roi.LessThan(decimal.NewFromFloat(-slPct)) && (slHold == 0 || marketPriceF < slHold)
	takeProfitFires := roi.GreaterThan(decimal.NewFromFloat(tpPct)) && (tpHold == 0 || marketPriceF < tpHold)

	roiPct, _ := roi.Mul(decimal.NewFromInt(100)).Float64()
	entryF, _ := pos.AvgEntryPrice.Float64()

	switch {
	case stopLossFires:
		m.logger.Warn("stop loss triggered", "token_id", pos.TokenID, "market", metadata.Question,
			"roi", roi, "entry", pos.AvgEntryPrice, "current", marketPrice, "managed", managedTag)
		sold := m.executor.ExitPosition(ctx, pos.TokenID, metadata.Question, pos.Size, decimal.NewFromFloat(0.01))
		m.logSell(pos.TokenID, metadata.Question, tradelog.TriggerStopLoss, sold, marketPriceF, entryF, roiPct, &metadata, cfg)
	case takeProfitFires:
		m.logger.Info("take profit triggered", "token_id", pos.TokenID, "market", metadata.Question,
			"roi", roi, "entry", pos.AvgEntryPrice, "current", marketPrice, "managed", managedTag)
		half := pos.Size.Div(decimal.NewFromInt(2))
		floor := marketPrice.Mul(decimal.NewFromFloat(0.9))
		sold := m.executor.ExitPosition(ctx, pos.TokenID, metadata.Question, half, floor)
		m.logSell(pos.TokenID, metadata.Question, tradelog.TriggerTakeProfit, sold, marketPriceF, entryF, roiPct, &metadata, cfg)
	}
}

// logSell records a stop-loss/take-profit sell if a trade logger is
// attached; soldSize is the executor's actual (possibly partial) fill.
func (m *Manager) logSell(tokenID, marketLabel string, reason tradelog.TriggerReason, soldSize decimal.Decimal, price, entryPrice, roiPct float64, metadata *types.MarketMetadata, cfg configSnapshot) {
	if m.tradeLog == nil || !soldSize.IsPositive() {
		return
	}
	sizeF, _ := soldSize.Float64()
	sellCtx := tradelog.SellContext{
		EntryPrice: entryPrice,
		ROIPercent: roiPct,
		Metadata:   metadata,
		Strategy: &tradelog.StrategyParams{
			StopLossPct:   cfg.stopLossPct,
			TakeProfitPct: cfg.takeProfitPct,
			MinSharePrice: cfg.minSharePrice,
			MaxBudget:     cfg.maxBudget,
		},
	}
	if err := m.tradeLog.LogSell(tokenID, marketLabel, reason, sizeF, price, sellCtx); err != nil {
		m.logger.Warn("trade log write failed", "error", err)
	}
}

// resolveMarketPrice prefers the Gamma-reported outcome price (more
// accurate than the order book), falling back to the best bid, then 0
// (illiquid — caller should skip).
func (m *Manager) resolveMarketPrice(ctx context.Context, tokenID string, metadata types.MarketMetadata) (decimal.Decimal, bool) {
	if p, ok := metadata.QueriedPrice(); ok {
		return decimal.NewFromFloat(p), true
	}
	depth, err := m.exchange.GetOrderBook(ctx, tokenID)
	if err != nil {
		return decimal.Zero, false
	}
	if bid, ok := depth.BestBid(); ok {
		return bid.Price, true
	}
	return decimal.Zero, false
}

func (m *Manager) isManaged(tokenID string) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.state.IsManaged(tokenID)
}

// logPortfolio periodically reports every open position's mark-to-market
// value and PnL.
func (m *Manager) logPortfolio(ctx context.Context) {
	cfg := m.snapshotConfig()
	positions, err := m.exchange.GetPositions(ctx, decimal.NewFromFloat(cfg.minPositionValue))
	if err != nil {
		m.logger.Error("portfolio log: position fetch failed", "error", err)
		return
	}
	if len(positions) == 0 {
		m.logger.Info("portfolio report: no open positions")
		return
	}

	totalValue := decimal.Zero
	for _, pos := range positions {
		if !pos.Size.IsPositive() {
			continue
		}
		metadata, err := m.exchange.GetMarketMetadata(ctx, pos.TokenID)
		if err != nil {
			m.logger.Warn("portfolio log: metadata fetch failed", "token_id", pos.TokenID, "error", err)
			continue
		}
		price, ok := m.resolveMarketPrice(ctx, pos.TokenID, metadata)
		if !ok {
			continue
		}
		value := pos.Size.Mul(price)
		totalValue = totalValue.Add(value)

		var pnlPct float64
		if pos.AvgEntryPrice.IsPositive() {
			pnlPct, _ = price.Sub(pos.AvgEntryPrice).Div(pos.AvgEntryPrice).Mul(decimal.NewFromInt(100)).Float64()
		}

		m.logger.Info("portfolio position",
			"question", metadata.Question, "category", metadata.Category, "status", metadata.Status,
			"volume", metadata.Volume, "end_date", metadata.EndDate,
			"outcome", metadata.QueriedOutcome, "size", pos.Size, "entry", pos.AvgEntryPrice,
			"current", price, "pnl_pct", pnlPct, "value", value, "managed", m.isManaged(pos.TokenID))
	}
	m.logger.Info("portfolio report total value", "total_value", totalValue)
}
