package ai

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/SaganGromov/polybot/internal/ailimiter"
	"github.com/SaganGromov/polybot/internal/config"
	"github.com/SaganGromov/polybot/internal/store"
	"github.com/SaganGromov/polybot/pkg/types"
)

// persistedState is the on-disk cache and request counter, surviving
// restarts so the request budget and analysis cache aren't silently reset.
type persistedState struct {
	RequestCount int                          `json:"request_count"`
	Cache        map[string]types.TradeAnalysis `json:"cache"`
}

// MetadataDepthFetcher resolves inputs the AI needs when the caller hasn't
// already fetched them — satisfied by exchange.Provider plus a cached book
// getter.
type MetadataDepthFetcher interface {
	GetMarketMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error)
	GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error)
}

// Service implements the shouldExecuteTrade decision algorithm: cache,
// request budget, circuit breaker, rate-limited analyzer calls, and the
// sports/crypto classification helpers.
type Service struct {
	mu sync.Mutex

	analyzer Analyzer
	limiter  *ailimiter.Limiter
	fetcher  MetadataDepthFetcher
	file     *store.JSONFile[persistedState]
	logger   *slog.Logger

	maxRequests int
	minConf     float64

	breakerThreshold int
	breakerCooldown  time.Duration

	requestCount       int
	cache              map[string]types.TradeAnalysis
	consecutiveFailures int
	circuitOpenUntil   time.Time

	sportsMu     sync.Mutex
	sportsCache  map[string]sportsCacheEntry
	sportsEnabled bool
	allowSelective bool
	maxDaysToResolution float64
	minFavoriteOdds     float64

	cryptoEnabled bool
}

type sportsCacheEntry struct {
	isSports bool
	reason   string
}

// NewService wires a Service from bootstrap/strategy config.
func NewService(analyzer Analyzer, limiter *ailimiter.Limiter, fetcher MetadataDepthFetcher, statePath string, logger *slog.Logger, strategy config.StrategyConfig) (*Service, error) {
	f, err := store.Open[persistedState](statePath)
	if err != nil {
		return nil, err
	}
	state, ok := f.Load()
	if !ok {
		state = persistedState{Cache: map[string]types.TradeAnalysis{}}
	}
	if state.Cache == nil {
		state.Cache = map[string]types.TradeAnalysis{}
	}

	s := &Service{
		analyzer:    analyzer,
		limiter:     limiter,
		fetcher:     fetcher,
		file:        f,
		logger:      logger.With("component", "ai.service"),
		requestCount: state.RequestCount,
		cache:       state.Cache,
		sportsCache: map[string]sportsCacheEntry{},
	}
	s.ApplyStrategyConfig(strategy)
	return s, nil
}

// ApplyStrategyConfig implements config.Subscriber: live reconfiguration of
// request budget, confidence threshold, rate limiter, and sports/crypto
// filter settings. It also resets the circuit breaker to 3 consecutive
// failures and a 5-minute cooldown, replacing any values set earlier by
// UpdateCircuitBreakerConfig.
func (s *Service) ApplyStrategyConfig(cfg config.StrategyConfig) {
	s.mu.Lock()
	s.maxRequests = cfg.AIAnalysis.MaxRequests
	s.minConf = cfg.AIAnalysis.MinConfidenceThreshold
	s.breakerThreshold = 3
	s.breakerCooldown = 5 * time.Minute
	s.mu.Unlock()

	if s.limiter != nil {
		if cfg.AIAnalysis.RateLimitRPS > 0 {
			s.limiter.UpdateRPS(cfg.AIAnalysis.RateLimitRPS)
		}
		if cfg.AIAnalysis.MaxConcurrentAI > 0 {
			s.limiter.UpdateMaxConcurrent(cfg.AIAnalysis.MaxConcurrentAI)
		}
		if cfg.AIAnalysis.QueueTimeout > 0 {
			s.limiter.UpdateQueueTimeout(time.Duration(cfg.AIAnalysis.QueueTimeout * float64(time.Second)))
		}
	}

	s.sportsMu.Lock()
	s.sportsEnabled = cfg.SportsFilter.Enabled
	s.allowSelective = cfg.SportsFilter.AllowSelectiveTrades
	s.maxDaysToResolution = cfg.SportsFilter.SelectiveCriteria.MaxDaysToResolution
	s.minFavoriteOdds = cfg.SportsFilter.SelectiveCriteria.MinFavoriteOdds
	s.sportsMu.Unlock()

	s.mu.Lock()
	s.cryptoEnabled = cfg.CryptoMarketRules.Enabled
	s.mu.Unlock()
}

// UpdateCircuitBreakerConfig lets an operator retune the breaker at
// runtime.
func (s *Service) UpdateCircuitBreakerConfig(threshold int, cooldown time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if threshold > 0 {
		s.breakerThreshold = threshold
	}
	if cooldown > 0 {
		s.breakerCooldown = cooldown
	}
}

func fallback(reason string) types.TradeAnalysis {
	return types.TradeAnalysis{
		ShouldTrade:   false,
		Confidence:    0,
		Justification: "fallback: " + reason,
		RiskFactors:   []string{reason},
	}
}

// ShouldExecuteTrade runs the full decision algorithm for one candidate
// token. metadata/depth may be zero-valued; they are fetched lazily if so.
func (s *Service) ShouldExecuteTrade(ctx context.Context, tokenID string, trade types.TradeEvent, metadata *types.MarketMetadata, depth *types.MarketDepth) (bool, types.TradeAnalysis) {
	// Step 1: cache hit.
	s.mu.Lock()
	if cached, ok := s.cache[tokenID]; ok {
		s.mu.Unlock()
		s.logger.Info("ai cache hit", "token_id", tokenID)
		return cached.ShouldTrade, cached
	}

	// Step 2: request budget.
	if s.maxRequests > 0 && s.requestCount >= s.maxRequests {
		s.mu.Unlock()
		return false, fallback("API limit reached")
	}

	// Step 3: circuit breaker.
	now := time.Now()
	if now.Before(s.circuitOpenUntil) {
		s.mu.Unlock()
		return false, fallback("circuit open")
	}
	if !s.circuitOpenUntil.IsZero() {
		s.logger.Info("ai circuit breaker closed")
		s.circuitOpenUntil = time.Time{}
		s.consecutiveFailures = 0
	}
	s.mu.Unlock()

	// Step 4: fetch inputs.
	var md types.MarketMetadata
	if metadata != nil {
		md = *metadata
	} else if s.fetcher != nil {
		m, err := s.fetcher.GetMarketMetadata(ctx, tokenID)
		if err == nil {
			md = m
		}
	}
	var bd types.MarketDepth
	if depth != nil {
		bd = *depth
	} else if s.fetcher != nil {
		d, err := s.fetcher.GetOrderBook(ctx, tokenID)
		if err == nil {
			bd = d
		}
	}

	// Step 5: rate-limited call.
	acq, err := s.limiter.Acquire(ctx)
	if err != nil {
		s.recordFailure()
		return false, fallback("queue timeout")
	}
	tradeCtx := map[string]any{
		"whale_name":       trade.SourceWalletName,
		"whale_trade_size": trade.USDSize,
		"outcome":          trade.Outcome,
		"market_slug":      trade.MarketSlug,
	}
	analysis, err := s.analyzer.AnalyzeTrade(ctx, tokenID, md, bd, tradeCtx)
	acq.Release()
	if err != nil {
		// Step 7: analyzer exception.
		s.recordFailure()
		return false, fallback(err.Error())
	}

	// Step 6: success path.
	s.mu.Lock()
	s.requestCount++
	s.cache[tokenID] = analysis
	s.consecutiveFailures = 0
	requestCount := s.requestCount
	cacheCopy := make(map[string]types.TradeAnalysis, len(s.cache))
	for k, v := range s.cache {
		cacheCopy[k] = v
	}
	s.mu.Unlock()

	if err := s.file.Save(persistedState{RequestCount: requestCount, Cache: cacheCopy}); err != nil {
		s.logger.Warn("ai state persist failed", "error", err)
	}

	s.logger.Info("ai analysis complete", "token_id", tokenID, "should_trade", analysis.ShouldTrade, "confidence", analysis.Confidence)
	return analysis.ShouldTrade, analysis
}

func (s *Service) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= s.breakerThreshold {
		s.circuitOpenUntil = time.Now().Add(s.breakerCooldown)
		s.logger.Warn("ai circuit breaker opened", "consecutive_failures", s.consecutiveFailures, "cooldown", s.breakerCooldown)
	}
}

// CheckSportsFilter reports whether a market should be blocked by the
// sports-selectivity rules.
func (s *Service) CheckSportsFilter(ctx context.Context, tokenID string, metadata types.MarketMetadata) (blocked bool, reason string) {
	s.sportsMu.Lock()
	enabled := s.sportsEnabled
	allowSelective := s.allowSelective
	maxDays := s.maxDaysToResolution
	minOdds := s.minFavoriteOdds
	entry, cached := s.sportsCache[tokenID]
	s.sportsMu.Unlock()

	if !enabled {
		return false, "sports filter disabled"
	}

	if !cached {
		isSports, classifyReason, err := s.analyzer.IsSportsMarket(ctx, metadata)
		if err != nil {
			isSports, classifyReason = false, fmt.Sprintf("classification failed: %v", err)
		}
		entry = sportsCacheEntry{isSports: isSports, reason: classifyReason}
		s.sportsMu.Lock()
		s.sportsCache[tokenID] = entry
		s.sportsMu.Unlock()
	}

	if !entry.isSports {
		return false, "not a sports market"
	}
	if !allowSelective {
		return true, "sports market, selective trading disabled"
	}

	result, err := s.analyzer.EvaluateSportsSelectivity(ctx, metadata, maxDays, minOdds)
	if err != nil {
		return true, fmt.Sprintf("selectivity evaluation failed: %v", err)
	}
	if !result.Qualifies {
		return true, result.Justification
	}
	return false, result.Justification
}

// CheckCryptoMarket classifies tokenID as a crypto price-prediction
// market, purely for the risk manager's rule-selection (§4.6).
func (s *Service) CheckCryptoMarket(ctx context.Context, tokenID string, metadata types.MarketMetadata) (isCrypto bool, reason string) {
	s.mu.Lock()
	enabled := s.cryptoEnabled
	s.mu.Unlock()
	if !enabled {
		return false, "crypto market rules disabled"
	}

	isCrypto, reason, err := s.analyzer.IsCryptoPriceMarket(ctx, metadata)
	if err != nil {
		return false, fmt.Sprintf("classification failed: %v", err)
	}
	return isCrypto, reason
}

// MinConfidence returns the configured minimum confidence for a reject to
// enter the manual-override window instead of hard-skipping.
func (s *Service) MinConfidence() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.minConf
}

// Stats is a read-only snapshot of the service's cache/budget/breaker
// state, exposed for the status dashboard.
type Stats struct {
	RequestCount       int       `json:"request_count"`
	MaxRequests        int       `json:"max_requests"`
	CacheSize          int       `json:"cache_size"`
	ConsecutiveFailures int      `json:"consecutive_failures"`
	CircuitOpen        bool      `json:"circuit_open"`
	CircuitOpenUntil   time.Time `json:"circuit_open_until,omitempty"`
}

// RateLimiterStats exposes the underlying rate limiter's queue/token
// counters for the status dashboard.
func (s *Service) RateLimiterStats() ailimiter.Stats {
	return s.limiter.Stats()
}

// Stats returns the current request/cache/circuit-breaker counters.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		RequestCount:        s.requestCount,
		MaxRequests:         s.maxRequests,
		CacheSize:           len(s.cache),
		ConsecutiveFailures: s.consecutiveFailures,
		CircuitOpen:         time.Now().Before(s.circuitOpenUntil),
		CircuitOpenUntil:    s.circuitOpenUntil,
	}
}
