// Package tradelog records every real trade (mirrored buy, stop-loss
// sell, take-profit sell) to an append-only JSON file with full context:
// trade details, whale provenance, the AI analysis behind the decision,
// market metadata, and the strategy parameters in effect at the time.
package tradelog

import (
	"time"

	"github.com/SaganGromov/polybot/internal/store"
	"github.com/SaganGromov/polybot/pkg/types"
)

// TriggerReason names why a trade was submitted.
type TriggerReason string

const (
	TriggerWhaleMirror TriggerReason = "whale_mirror"
	TriggerStopLoss    TriggerReason = "stop_loss"
	TriggerTakeProfit  TriggerReason = "take_profit"
)

// Entry is one structured trade log record.
type Entry struct {
	Timestamp     string        `json:"timestamp"`
	TradeType     types.Side    `json:"trade_type"`
	TriggerReason TriggerReason `json:"trigger_reason"`

	TokenID         string             `json:"token_id"`
	MarketLabel     string             `json:"market_label"`
	MarketQuestion  string             `json:"market_question,omitempty"`
	MarketCategory  string             `json:"market_category,omitempty"`
	MarketStatus    string             `json:"market_status,omitempty"`
	MarketVolume    *float64           `json:"market_volume,omitempty"`
	MarketEndDate   string             `json:"market_end_date,omitempty"`
	MarketOutcomes  map[string]float64 `json:"market_outcomes,omitempty"`

	Size    float64  `json:"size"`
	Price   float64  `json:"price"`
	CostUSD *float64 `json:"cost_usd,omitempty"`

	EntryPrice *float64 `json:"entry_price,omitempty"`
	ROIPercent *float64 `json:"roi_percent,omitempty"`

	WhaleName      string   `json:"whale_name,omitempty"`
	WhaleAddress   string   `json:"whale_address,omitempty"`
	WhaleTradeSize *float64 `json:"whale_trade_size,omitempty"`
	WhaleOutcome   string   `json:"whale_outcome,omitempty"`

	AIEnabled             bool     `json:"ai_enabled"`
	AIShouldTrade         *bool    `json:"ai_should_trade,omitempty"`
	AIConfidence          *float64 `json:"ai_confidence,omitempty"`
	AIJustification       string   `json:"ai_justification,omitempty"`
	AIRiskFactors         []string `json:"ai_risk_factors,omitempty"`
	AIOpportunityFactors  []string `json:"ai_opportunity_factors,omitempty"`
	AIEstimatedResolution string   `json:"ai_estimated_resolution,omitempty"`
	AISubjectivityScore   *float64 `json:"ai_subjectivity_score,omitempty"`
	AIFromCache           bool     `json:"ai_from_cache"`
	AIManualOverride      bool     `json:"ai_manual_override"`

	StopLossPct      *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct    *float64 `json:"take_profit_pct,omitempty"`
	MinSharePrice    *float64 `json:"min_share_price,omitempty"`
	MaxBudget        *float64 `json:"max_budget,omitempty"`
	CumulativeSpend  *float64 `json:"cumulative_spend,omitempty"`
}

// StrategyParams carries the subset of live strategy thresholds worth
// recording alongside a trade, for later backtesting/analysis.
type StrategyParams struct {
	StopLossPct     float64
	TakeProfitPct   float64
	MinSharePrice   float64
	MaxBudget       float64
	CumulativeSpend float64
}

// BuyContext bundles the optional enrichment fields available when logging
// a mirrored whale buy.
type BuyContext struct {
	WhaleName      string
	WhaleAddress   string
	WhaleTradeSize float64
	WhaleOutcome   string

	Metadata *types.MarketMetadata
	Analysis *types.TradeAnalysis

	AIEnabled        bool
	AIFromCache      bool
	AIManualOverride bool

	Strategy *StrategyParams
}

// SellContext bundles the fields available when logging a stop-loss or
// take-profit sell.
type SellContext struct {
	EntryPrice float64
	ROIPercent float64
	Metadata   *types.MarketMetadata
	Strategy   *StrategyParams
}

// Logger appends trade records to a single JSON array file.
type Logger struct {
	path string
}

// New returns a Logger writing to path; the file is created lazily on the
// first logged trade.
func New(path string) *Logger {
	return &Logger{path: path}
}

func f64(v float64) *float64 { return &v }
func bp(v bool) *bool        { return &v }

func applyMetadata(e *Entry, metadata *types.MarketMetadata) {
	if metadata == nil {
		return
	}
	e.MarketQuestion = metadata.Question
	e.MarketCategory = metadata.Category
	e.MarketStatus = metadata.Status
	e.MarketVolume = metadata.Volume
	e.MarketEndDate = metadata.EndDate
	e.MarketOutcomes = metadata.Outcomes
}

func applyStrategy(e *Entry, sp *StrategyParams) {
	if sp == nil {
		return
	}
	e.StopLossPct = f64(sp.StopLossPct)
	e.TakeProfitPct = f64(sp.TakeProfitPct)
	e.MinSharePrice = f64(sp.MinSharePrice)
	e.MaxBudget = f64(sp.MaxBudget)
	e.CumulativeSpend = f64(sp.CumulativeSpend)
}

// LogBuy records a mirrored whale BUY with its full decision context.
func (l *Logger) LogBuy(tokenID, marketLabel string, size, price, costUSD float64, ctx BuyContext) error {
	entry := Entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TradeType:     types.SideBuy,
		TriggerReason: TriggerWhaleMirror,
		TokenID:       tokenID,
		MarketLabel:   marketLabel,
		Size:          size,
		Price:         price,
		CostUSD:       f64(costUSD),

		WhaleName:      ctx.WhaleName,
		WhaleAddress:   ctx.WhaleAddress,
		WhaleTradeSize: f64(ctx.WhaleTradeSize),
		WhaleOutcome:   ctx.WhaleOutcome,

		AIEnabled:        ctx.AIEnabled,
		AIFromCache:      ctx.AIFromCache,
		AIManualOverride: ctx.AIManualOverride,
	}

	applyMetadata(&entry, ctx.Metadata)
	applyStrategy(&entry, ctx.Strategy)

	if a := ctx.Analysis; a != nil {
		entry.AIShouldTrade = bp(a.ShouldTrade)
		entry.AIConfidence = f64(a.Confidence)
		entry.AIJustification = a.Justification
		entry.AIRiskFactors = a.RiskFactors
		entry.AIOpportunityFactors = a.OpportunityFactors
		entry.AIEstimatedResolution = a.EstimatedResolutionTime
		entry.AISubjectivityScore = a.SubjectivityScore
	}

	return l.append(entry)
}

// LogSell records a stop-loss or take-profit SELL.
func (l *Logger) LogSell(tokenID, marketLabel string, reason TriggerReason, size, price float64, ctx SellContext) error {
	entry := Entry{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		TradeType:     types.SideSell,
		TriggerReason: reason,
		TokenID:       tokenID,
		MarketLabel:   marketLabel,
		Size:          size,
		Price:         price,
		EntryPrice:    f64(ctx.EntryPrice),
		ROIPercent:    f64(ctx.ROIPercent),
	}

	applyMetadata(&entry, ctx.Metadata)
	applyStrategy(&entry, ctx.Strategy)

	return l.append(entry)
}

func (l *Logger) append(entry Entry) error {
	return store.AppendJSONArray(l.path, entry)
}

// AllTrades returns every logged trade, oldest first.
func (l *Logger) AllTrades() []Entry {
	return store.ReadJSONArray[Entry](l.path)
}

// Summary is an aggregate over every logged trade.
type Summary struct {
	TotalTrades     int     `json:"total_trades"`
	TotalBuys       int     `json:"total_buys"`
	TotalSells      int     `json:"total_sells"`
	StopLosses      int     `json:"stop_losses"`
	TakeProfits     int     `json:"take_profits"`
	TotalBuyVolume  float64 `json:"total_buy_volume"`
}

// GetSummary aggregates counts and buy volume across every logged trade.
func (l *Logger) GetSummary() Summary {
	entries := l.AllTrades()
	var s Summary
	s.TotalTrades = len(entries)
	for _, e := range entries {
		switch e.TradeType {
		case types.SideBuy:
			s.TotalBuys++
			if e.CostUSD != nil {
				s.TotalBuyVolume += *e.CostUSD
			}
		case types.SideSell:
			s.TotalSells++
			switch e.TriggerReason {
			case TriggerStopLoss:
				s.StopLosses++
			case TriggerTakeProfit:
				s.TakeProfits++
			}
		}
	}
	return s
}
