// Package ai decides whether a whale-mirroring BUY should proceed and
// classifies markets (sports, crypto-price), wrapping an external analyzer
// behind a cache, a request budget, a circuit breaker, and the rate
// limiter in package ailimiter.
package ai

import (
	"context"

	"github.com/SaganGromov/polybot/pkg/types"
)

// Analyzer is the external AI provider boundary. A production
// implementation calls out to an LLM; Mock returns fixed, deterministic
// answers for dry-run and tests.
type Analyzer interface {
	// AnalyzeTrade judges a single candidate trade and returns a full
	// TradeAnalysis.
	AnalyzeTrade(ctx context.Context, tokenID string, metadata types.MarketMetadata, depth types.MarketDepth, tradeCtx map[string]any) (types.TradeAnalysis, error)

	// IsSportsMarket classifies a market as sports or not.
	IsSportsMarket(ctx context.Context, metadata types.MarketMetadata) (bool, string, error)

	// IsCryptoPriceMarket classifies a market as a crypto price-prediction
	// bet ("Will BTC hit $100K?").
	IsCryptoPriceMarket(ctx context.Context, metadata types.MarketMetadata) (bool, string, error)

	// EvaluateSportsSelectivity judges whether a sports market qualifies
	// for selective trading under the given thresholds.
	EvaluateSportsSelectivity(ctx context.Context, metadata types.MarketMetadata, maxDaysToResolution, minFavoriteOdds float64) (types.SportsSelectivityResult, error)
}

// Mock is a deterministic Analyzer for dry-run mode and tests: it returns
// a fixed approval/rejection controlled by DefaultApproval.
type Mock struct {
	// DefaultApproval controls AnalyzeTrade's ShouldTrade verdict.
	DefaultApproval bool
	// SportsMarkets, keyed by market title, forces IsSportsMarket's answer;
	// titles absent from the map are classified as not-sports.
	SportsMarkets map[string]bool
	// CryptoMarkets, keyed by market title, forces IsCryptoPriceMarket's answer.
	CryptoMarkets map[string]bool
	// SelectivityQualifies forces EvaluateSportsSelectivity's verdict.
	SelectivityQualifies bool
}

// NewMock returns a Mock whose AnalyzeTrade verdict is defaultApproval.
func NewMock(defaultApproval bool) *Mock {
	return &Mock{DefaultApproval: defaultApproval, SportsMarkets: map[string]bool{}, CryptoMarkets: map[string]bool{}}
}

func (m *Mock) AnalyzeTrade(ctx context.Context, tokenID string, metadata types.MarketMetadata, depth types.MarketDepth, tradeCtx map[string]any) (types.TradeAnalysis, error) {
	if m.DefaultApproval {
		return types.TradeAnalysis{
			ShouldTrade:        true,
			Confidence:         1.0,
			Justification:      "mock analyzer: default approval",
			OpportunityFactors: []string{"mock approval"},
		}, nil
	}
	return types.TradeAnalysis{
		ShouldTrade:   false,
		Confidence:    1.0,
		Justification: "mock analyzer: default rejection",
		RiskFactors:   []string{"mock rejection"},
	}, nil
}

func (m *Mock) IsSportsMarket(ctx context.Context, metadata types.MarketMetadata) (bool, string, error) {
	return m.SportsMarkets[metadata.Title], "mock classification", nil
}

func (m *Mock) IsCryptoPriceMarket(ctx context.Context, metadata types.MarketMetadata) (bool, string, error) {
	return m.CryptoMarkets[metadata.Title], "mock classification", nil
}

func (m *Mock) EvaluateSportsSelectivity(ctx context.Context, metadata types.MarketMetadata, maxDaysToResolution, minFavoriteOdds float64) (types.SportsSelectivityResult, error) {
	return types.SportsSelectivityResult{
		Qualifies:     m.SelectivityQualifies,
		Confidence:    1.0,
		Justification: "mock selectivity evaluation",
	}, nil
}
