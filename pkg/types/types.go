// Package types holds the domain vocabulary shared by every component of
// the copy-trading engine: outcome tokens, positions, orders, order-book
// depth, market metadata, AI analyses, and whale targets.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or a whale trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderStatus tracks the lifecycle of a submitted order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// StrategyType controls how a watched wallet's trades are copied.
type StrategyType string

const (
	StrategyMirror  StrategyType = "MIRROR"
	StrategyInverse StrategyType = "INVERSE"
)

// MarketDepthLevel is one price/size rung of an order book.
type MarketDepthLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// MarketDepth is a consistent snapshot of one side-by-side order book.
// Bids are ordered price descending, asks price ascending.
type MarketDepth struct {
	Bids         []MarketDepthLevel `json:"bids"`
	Asks         []MarketDepthLevel `json:"asks"`
	MinOrderSize decimal.Decimal    `json:"min_order_size"`
}

// BestBid returns the top of the bid book, or false if the book is empty.
func (d MarketDepth) BestBid() (MarketDepthLevel, bool) {
	if len(d.Bids) == 0 {
		return MarketDepthLevel{}, false
	}
	return d.Bids[0], true
}

// BestAsk returns the top of the ask book, or false if the book is empty.
func (d MarketDepth) BestAsk() (MarketDepthLevel, bool) {
	if len(d.Asks) == 0 {
		return MarketDepthLevel{}, false
	}
	return d.Asks[0], true
}

// MarketMetadata describes a market in human-readable terms. Implementations
// of ExchangeProvider must never fail to produce one: on lookup failure they
// return a sentinel with the error text in Question instead of returning an
// error (see sentinelMetadata in internal/exchange/metadata.go).
type MarketMetadata struct {
	Title           string             `json:"title"`
	Question        string             `json:"question"`
	GroupName       string             `json:"group_name,omitempty"`
	Category        string             `json:"category,omitempty"`
	Status          string             `json:"status,omitempty"`
	Volume          *float64           `json:"volume,omitempty"`
	EndDate         string             `json:"end_date,omitempty"`
	Outcomes        map[string]float64 `json:"outcomes,omitempty"`
	QueriedOutcome  string             `json:"queried_outcome,omitempty"`
	Score           string             `json:"score,omitempty"`
}

// QueriedPrice returns the price of the queried outcome, if known.
func (m MarketMetadata) QueriedPrice() (float64, bool) {
	if m.QueriedOutcome == "" || m.Outcomes == nil {
		return 0, false
	}
	p, ok := m.Outcomes[m.QueriedOutcome]
	return p, ok
}

// Position is an open holding in one outcome token.
type Position struct {
	TokenID         string          `json:"token_id"`
	Size            decimal.Decimal `json:"size"`
	AvgEntryPrice   decimal.Decimal `json:"average_entry_price"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
}

// Value is the mark-to-market value of the position.
func (p Position) Value() decimal.Decimal {
	return p.Size.Mul(p.CurrentPrice)
}

// ROI is the return on the position relative to its average entry price.
func (p Position) ROI() float64 {
	if p.AvgEntryPrice.IsZero() {
		return 0
	}
	return p.CurrentPrice.Sub(p.AvgEntryPrice).Div(p.AvgEntryPrice).InexactFloat64()
}

// Order is a generic marketable-limit order submitted to an ExchangeProvider.
type Order struct {
	TokenID     string          `json:"token_id"`
	MarketName  string          `json:"market_name,omitempty"`
	Side        Side            `json:"side"`
	Size        decimal.Decimal `json:"size"`
	PriceLimit  decimal.Decimal `json:"price_limit"`
	Status      OrderStatus     `json:"status"`
	OrderID     string          `json:"order_id,omitempty"`
}

// WalletTarget is a whale wallet the monitor watches.
type WalletTarget struct {
	Address       string       `json:"address"`
	Name          string       `json:"name"`
	StrategyType  StrategyType `json:"strategy_type"`
	MaxCopyAmount *float64     `json:"max_copy_amount,omitempty"`
}

// TradeEvent is emitted by the whale monitor when a watched wallet opens a
// new position.
type TradeEvent struct {
	SourceWalletName    string    `json:"source_wallet_name"`
	SourceWalletAddress string    `json:"source_wallet_address"`
	TokenID             string    `json:"token_id"`
	MarketSlug          string    `json:"market_slug"`
	Outcome             string    `json:"outcome"`
	Side                Side      `json:"side"`
	USDSize             float64   `json:"usd_size"`
	Timestamp           time.Time `json:"timestamp"`
}

// TradeAnalysis is the result of asking the AI analyzer whether a mirrored
// trade should proceed. It is cached per token_id.
type TradeAnalysis struct {
	ShouldTrade              bool     `json:"should_trade"`
	Confidence               float64  `json:"confidence"`
	Justification            string   `json:"justification"`
	RiskFactors              []string `json:"risk_factors"`
	OpportunityFactors       []string `json:"opportunity_factors"`
	EstimatedResolutionTime  string   `json:"estimated_resolution_time,omitempty"`
	SubjectivityScore        *float64 `json:"subjectivity_score,omitempty"`
}

// SportsSelectivityResult is the outcome of evaluating a sports market
// against the selective-trading criteria.
type SportsSelectivityResult struct {
	Qualifies        bool    `json:"qualifies"`
	Confidence       float64 `json:"confidence"`
	FavoriteOdds     float64 `json:"favorite_odds"`
	HoursToResolution float64 `json:"hours_to_resolution"`
	FavoriteEntity   string  `json:"favorite_entity"`
	Justification    string  `json:"justification"`
}

// BotState is the persisted cumulative spend and set of tokens this process
// has bought. Reset to zero values on corruption or absence.
type BotState struct {
	CumulativeSpend float64         `json:"cumulative_spend"`
	ManagedTokens   map[string]bool `json:"managed_tokens"`
}

// NewBotState returns a zeroed BotState ready to track spend.
func NewBotState() BotState {
	return BotState{ManagedTokens: map[string]bool{}}
}

// AddManaged marks tokenID as bought by this process.
func (s *BotState) AddManaged(tokenID string) {
	if s.ManagedTokens == nil {
		s.ManagedTokens = map[string]bool{}
	}
	s.ManagedTokens[tokenID] = true
}

// IsManaged reports whether tokenID was bought by this process.
func (s BotState) IsManaged(tokenID string) bool {
	return s.ManagedTokens[tokenID]
}
