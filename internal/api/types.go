// Package api exposes a minimal read-only HTTP status surface over the
// engine's live state: whale targets, open positions, AI gate counters,
// and trade log summary. There is no control surface here — every
// mutation happens through strategies.json and the config hot-reload
// loop (§4.8), never through this API.
package api

import (
	"time"

	"github.com/SaganGromov/polybot/internal/tradelog"
	"github.com/SaganGromov/polybot/pkg/types"
)

// Snapshot is the complete dashboard payload served by /api/snapshot.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	BalanceUSD      float64          `json:"balance_usd"`
	CumulativeSpend float64          `json:"cumulative_spend"`
	ManagedTokens   int              `json:"managed_tokens"`
	Positions       []PositionStatus `json:"positions"`

	WhaleTargets []types.WalletTarget `json:"whale_targets"`

	AI AIStatus `json:"ai"`

	Trades tradelog.Summary `json:"trades"`
}

// PositionStatus is one open position, mark-to-market.
type PositionStatus struct {
	TokenID       string  `json:"token_id"`
	Size          float64 `json:"size"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	Value         float64 `json:"value"`
	ROI           float64 `json:"roi"`
	Managed       bool    `json:"managed"`
}

// AIStatus summarizes the AI analysis service and its rate limiter.
type AIStatus struct {
	RequestCount        int       `json:"request_count"`
	MaxRequests         int       `json:"max_requests"`
	CacheSize           int       `json:"cache_size"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CircuitOpen         bool      `json:"circuit_open"`
	CircuitOpenUntil    time.Time `json:"circuit_open_until,omitempty"`

	QueueDepth      int64   `json:"queue_depth"`
	TotalAcquired   int64   `json:"total_acquired"`
	TotalTimeouts   int64   `json:"total_timeouts"`
	AvailableTokens float64 `json:"available_tokens"`
}
