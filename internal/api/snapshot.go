package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/internal/ai"
	"github.com/SaganGromov/polybot/internal/risk"
	"github.com/SaganGromov/polybot/internal/tradelog"
	"github.com/SaganGromov/polybot/internal/whale"
	"github.com/SaganGromov/polybot/pkg/types"
)

// SnapshotProvider is the subset of the engine the dashboard needs. It is
// satisfied by *engine.Engine; defined here (rather than imported from
// engine) so this package doesn't depend on the orchestrator.
type SnapshotProvider interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
	Positions(ctx context.Context, minValue decimal.Decimal) ([]types.Position, error)
	RiskManager() *risk.Manager
	AIService() *ai.Service
	WhaleMonitor() *whale.Monitor
	TradeLog() *tradelog.Logger
}

// minPositionValue is the dashboard's fixed dust floor. The dashboard isn't
// wired to the live strategy config, so it does not follow the risk scan's
// configured min_position_value; it uses this floor rather than reaching
// into risk.Manager's private state.
const minPositionValue = 0.01

// BuildSnapshot gathers current state from every component into a single
// read-only payload. Best-effort: a failing exchange call degrades the
// affected field instead of failing the whole snapshot, logged via logger.
func BuildSnapshot(ctx context.Context, p SnapshotProvider, logger *slog.Logger) Snapshot {
	now := time.Now()

	snap := Snapshot{Timestamp: now}

	balance, err := p.Balance(ctx)
	if err != nil {
		logger.Warn("dashboard: balance fetch failed", "error", err)
	} else {
		snap.BalanceUSD = balance.InexactFloat64()
	}

	state := p.RiskManager().State()
	snap.CumulativeSpend = state.CumulativeSpend
	snap.ManagedTokens = len(state.ManagedTokens)

	positions, err := p.Positions(ctx, decimal.NewFromFloat(minPositionValue))
	if err != nil {
		logger.Warn("dashboard: positions fetch failed", "error", err)
	} else {
		snap.Positions = make([]PositionStatus, 0, len(positions))
		for _, pos := range positions {
			snap.Positions = append(snap.Positions, PositionStatus{
				TokenID:       pos.TokenID,
				Size:          pos.Size.InexactFloat64(),
				AvgEntryPrice: pos.AvgEntryPrice.InexactFloat64(),
				CurrentPrice:  pos.CurrentPrice.InexactFloat64(),
				Value:         pos.Value().InexactFloat64(),
				ROI:           pos.ROI(),
				Managed:       state.IsManaged(pos.TokenID),
			})
		}
	}

	snap.WhaleTargets = p.WhaleMonitor().Targets()

	aiStats := p.AIService().Stats()
	limiterStats := p.AIService().RateLimiterStats()
	snap.AI = AIStatus{
		RequestCount:        aiStats.RequestCount,
		MaxRequests:         aiStats.MaxRequests,
		CacheSize:           aiStats.CacheSize,
		ConsecutiveFailures: aiStats.ConsecutiveFailures,
		CircuitOpen:         aiStats.CircuitOpen,
		CircuitOpenUntil:    aiStats.CircuitOpenUntil,
		QueueDepth:          limiterStats.QueueDepth,
		TotalAcquired:       limiterStats.TotalAcquired,
		TotalTimeouts:       limiterStats.TotalTimeouts,
		AvailableTokens:     limiterStats.AvailableTokens,
	}

	snap.Trades = p.TradeLog().GetSummary()

	return snap
}
