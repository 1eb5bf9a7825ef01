// Package whale polls a configurable set of wallet addresses on the
// data-api activity feed and emits a TradeEvent whenever one of them opens
// a new position.
package whale

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/SaganGromov/polybot/pkg/types"
)

// pooledTransport caps the shared activity-feed HTTP client at 100
// connections / 50 idle keep-alive, per the connection-pooling
// requirement that the whale monitor maintains one client for all wallets.
var pooledTransport = &http.Transport{
	MaxConnsPerHost:     100,
	MaxIdleConnsPerHost: 50,
	IdleConnTimeout:     90 * time.Second,
}

// pollInterval is the fixed delay after a full sweep of all batches
// completes, before the next sweep begins.
const pollInterval = 3 * time.Second

// MetadataFetcher is the subset of exchange.Provider the monitor uses to
// best-effort enrich a detected trade for logging. Enrichment failure is
// non-fatal.
type MetadataFetcher interface {
	GetMarketMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error)
}

// Monitor detects new trades by watched wallets and emits a TradeEvent per
// detection via onEvent. Cursor state (last_timestamps) is in-memory only:
// a restart re-initializes every cursor on first observation, intentionally
// skipping the most recent pre-restart trade.
type Monitor struct {
	mu      sync.Mutex
	targets []types.WalletTarget
	cursors map[string]int64

	batchSize     int
	batchDelay    time.Duration
	maxConcurrent int

	http     *resty.Client
	fetcher  MetadataFetcher
	onEvent  func(context.Context, types.TradeEvent)
	logger   *slog.Logger

	running bool
}

// New builds a Monitor against the data-api activity endpoint, pooling up
// to 100 connections / 50 keep-alive shared across every watched wallet.
func New(targets []types.WalletTarget, dataAPIURL string, fetcher MetadataFetcher, onEvent func(context.Context, types.TradeEvent), logger *slog.Logger) *Monitor {
	httpClient := resty.New().
		SetBaseURL(dataAPIURL).
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	httpClient.GetClient().Transport = pooledTransport

	m := &Monitor{
		targets:       targets,
		cursors:       map[string]int64{},
		batchSize:     50,
		batchDelay:    100 * time.Millisecond,
		maxConcurrent: 20,
		http:          httpClient,
		fetcher:       fetcher,
		onEvent:       onEvent,
		logger:        logger.With("component", "whale.monitor"),
	}
	for _, t := range targets {
		m.cursors[t.Address] = 0
	}
	return m
}

// UpdateTargets swaps in a new wallet list, preserving cursors for
// surviving addresses, dropping removed ones, and initializing new ones
// to 0.
func (m *Monitor) UpdateTargets(newTargets []types.WalletTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]int64, len(newTargets))
	for _, t := range newTargets {
		if c, ok := m.cursors[t.Address]; ok {
			next[t.Address] = c
		} else {
			next[t.Address] = 0
		}
	}
	m.targets = newTargets
	m.cursors = next
	m.logger.Info("whale monitor targets updated", "wallet_count", len(newTargets))
}

// Targets returns the currently watched wallet list, for status reporting.
func (m *Monitor) Targets() []types.WalletTarget {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.WalletTarget(nil), m.targets...)
}

// UpdateBatchConfig retunes batching at runtime.
func (m *Monitor) UpdateBatchConfig(batchSize int, batchDelay time.Duration, maxConcurrent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if batchSize > 0 {
		m.batchSize = batchSize
	}
	if batchDelay >= 0 {
		m.batchDelay = batchDelay
	}
	if maxConcurrent > 0 {
		m.maxConcurrent = maxConcurrent
	}
}

// Run drives the poll loop until ctx is cancelled: snapshot targets,
// partition into batches, fan out within each batch bounded by
// max_concurrent, sleep batch_delay_ms between batches, then sleep
// pollInterval and repeat.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
	m.logger.Info("whale monitor started", "wallet_count", len(m.targets))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := m.pollAll(ctx); err != nil {
			m.logger.Error("whale monitor poll sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

func (m *Monitor) pollAll(ctx context.Context) error {
	m.mu.Lock()
	targets := append([]types.WalletTarget(nil), m.targets...)
	batchSize := m.batchSize
	batchDelay := m.batchDelay
	maxConcurrent := m.maxConcurrent
	m.mu.Unlock()

	for start := 0; start < len(targets); start += batchSize {
		end := start + batchSize
		if end > len(targets) {
			end = len(targets)
		}
		batch := targets[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrent)
		for _, target := range batch {
			target := target
			g.Go(func() error {
				m.checkWallet(gctx, target)
				return nil
			})
		}
		_ = g.Wait() // individual wallet errors are logged and swallowed, not propagated

		if end < len(targets) && batchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(batchDelay):
			}
		}
	}
	return nil
}

// activityItem is one entry from the data-api /activity feed.
type activityItem struct {
	Type      string          `json:"type"`
	Side      string          `json:"side"`
	Asset     json.Number     `json:"asset"`
	Slug      string          `json:"slug"`
	Outcome   string          `json:"outcome"`
	Price     json.Number     `json:"price"`
	USDCSize  json.Number     `json:"usdcSize"`
	Timestamp int64           `json:"timestamp"`
}

func (m *Monitor) checkWallet(ctx context.Context, target types.WalletTarget) {
	activities, err := m.fetchActivity(ctx, target.Address)
	if err != nil {
		m.logger.Warn("whale activity fetch failed", "wallet", target.Name, "error", err)
		return
	}
	if len(activities) == 0 {
		return
	}
	newest := activities[0]
	if newest.Timestamp == 0 {
		return
	}

	m.mu.Lock()
	lastTS := m.cursors[target.Address]
	firstObservation := lastTS == 0
	if newest.Timestamp > lastTS || firstObservation {
		m.cursors[target.Address] = newest.Timestamp
	}
	m.mu.Unlock()

	if firstObservation {
		return
	}
	if newest.Timestamp <= lastTS {
		return
	}

	m.processActivity(ctx, target, newest)
}

func (m *Monitor) fetchActivity(ctx context.Context, address string) ([]activityItem, error) {
	var items []activityItem
	resp, err := m.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"user":          address,
			"limit":         "3",
			"sortBy":        "timestamp",
			"sortDirection": "desc",
		}).
		SetResult(&items).
		Get("/activity")
	if err != nil {
		return nil, fmt.Errorf("fetch activity for %s: %w", address, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch activity for %s: status %d", address, resp.StatusCode())
	}
	return items, nil
}

func (m *Monitor) processActivity(ctx context.Context, target types.WalletTarget, item activityItem) {
	switch item.Type {
	case "TRADE", "MATCH":
	default:
		return
	}

	var side types.Side
	switch item.Side {
	case string(types.SideBuy):
		side = types.SideBuy
	case string(types.SideSell):
		side = types.SideSell
	default:
		return
	}

	tokenID := item.Asset.String()
	if !isDigits(tokenID) {
		return
	}

	usdSize, _ := item.USDCSize.Float64()
	price, _ := item.Price.Float64()

	event := types.TradeEvent{
		SourceWalletName:    target.Name,
		SourceWalletAddress: target.Address,
		TokenID:             tokenID,
		MarketSlug:          item.Slug,
		Outcome:             item.Outcome,
		Side:                side,
		USDSize:             usdSize,
		Timestamp:           time.Unix(item.Timestamp, 0).UTC(),
	}

	m.logEvent(ctx, target, event, price)
	m.onEvent(ctx, event)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (m *Monitor) logEvent(ctx context.Context, target types.WalletTarget, event types.TradeEvent, price float64) {
	fields := []any{
		"wallet", target.Name,
		"side", event.Side,
		"token_id", event.TokenID,
		"outcome", event.Outcome,
		"usd_size", event.USDSize,
		"price", price,
	}
	if m.fetcher != nil {
		if meta, err := m.fetcher.GetMarketMetadata(ctx, event.TokenID); err == nil {
			fields = append(fields,
				"question", meta.Question,
				"category", meta.Category,
				"status", meta.Status,
				"volume", meta.Volume,
			)
		}
	}
	m.logger.Info("whale trade detected", fields...)
}
