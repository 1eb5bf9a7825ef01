package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/SaganGromov/polybot/pkg/types"
)

const (
	geminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	geminiModel      = "gemini-2.0-flash"
	geminiMaxRetries = 3
	geminiBaseDelay  = time.Second
)

// GeminiAnalyzer implements Analyzer against Google's Gemini REST API. If
// no API key is configured it fails closed on every call, same as an
// exhausted circuit breaker.
type GeminiAnalyzer struct {
	http   *resty.Client
	apiKey string
	logger *slog.Logger
}

// NewGeminiAnalyzer builds a Gemini-backed Analyzer. An empty apiKey is
// valid: every method then returns the fail-closed default.
func NewGeminiAnalyzer(apiKey string, logger *slog.Logger) *GeminiAnalyzer {
	return &GeminiAnalyzer{
		http: resty.New().
			SetBaseURL(geminiBaseURL).
			SetTimeout(30 * time.Second),
		apiKey: apiKey,
		logger: logger.With("component", "ai.gemini"),
	}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// generate calls Gemini's generateContent endpoint with retry-on-429 and
// exponential backoff, returning the first candidate's raw text.
func (g *GeminiAnalyzer) generate(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error) {
	body := geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{Temperature: temperature, TopP: 0.8, MaxOutputTokens: maxTokens},
	}

	var lastErr error
	for attempt := 0; attempt < geminiMaxRetries; attempt++ {
		resp, err := g.http.R().
			SetContext(ctx).
			SetQueryParam("key", g.apiKey).
			SetBody(body).
			SetResult(&geminiResponse{}).
			Post(fmt.Sprintf("/models/%s:generateContent", geminiModel))
		if err != nil {
			lastErr = err
			break
		}

		if resp.StatusCode() == 429 {
			lastErr = fmt.Errorf("gemini rate limited")
			if attempt < geminiMaxRetries-1 {
				delay := geminiBaseDelay * time.Duration(1<<attempt)
				g.logger.Warn("gemini rate limited, retrying", "attempt", attempt+1, "delay", delay)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return "", ctx.Err()
				}
			}
			break
		}

		if resp.StatusCode() != 200 {
			return "", fmt.Errorf("gemini api error: status %d", resp.StatusCode())
		}

		result := resp.Result().(*geminiResponse)
		if len(result.Candidates) == 0 {
			return "", fmt.Errorf("gemini returned no candidates")
		}
		parts := result.Candidates[0].Content.Parts
		if len(parts) == 0 {
			return "", fmt.Errorf("gemini candidate has no parts")
		}
		return parts[0].Text, nil
	}
	return "", lastErr
}

// stripCodeFence removes a surrounding ``` / ```json markdown fence, if
// present, so the remainder parses as plain JSON.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	if len(lines) < 2 {
		return text
	}
	end := len(lines)
	if strings.TrimSpace(lines[end-1]) == "```" {
		end--
	}
	return strings.Join(lines[1:end], "\n")
}

func (g *GeminiAnalyzer) fallback(reason string) types.TradeAnalysis {
	return types.TradeAnalysis{
		ShouldTrade:   false,
		Confidence:    0,
		Justification: fmt.Sprintf("AI analysis unavailable (%s). Blocking trade for safety.", reason),
		RiskFactors:   []string{"AI analysis not performed", reason},
	}
}

func (g *GeminiAnalyzer) buildAnalysisPrompt(tokenID string, metadata types.MarketMetadata, depth types.MarketDepth, tradeCtx map[string]any) string {
	bestBid, bestAsk := 0.0, 1.0
	if b, ok := depth.BestBid(); ok {
		bestBid, _ = b.Price.Float64()
	}
	if a, ok := depth.BestAsk(); ok {
		bestAsk, _ = a.Price.Float64()
	}

	var outcomes strings.Builder
	for outcome, price := range metadata.Outcomes {
		fmt.Fprintf(&outcomes, "%s: %.1f%%, ", outcome, price*100)
	}
	outcomesStr := outcomes.String()
	if outcomesStr == "" {
		outcomesStr = "Unknown"
	}

	volume := "Unknown"
	if metadata.Volume != nil {
		volume = fmt.Sprintf("$%.2f", *metadata.Volume)
	}

	return fmt.Sprintf(`You are an expert prediction market analyst. Analyze the following trade opportunity and provide a recommendation.

## Market Information
- Title: %s
- Question: %s
- Category: %s
- Status: %s
- End Date: %s
- Volume: %s
- Current Outcomes: %s

## Order Book Analysis
- Best Bid: $%.2f
- Best Ask: $%.2f

## Trade Context
- Signal Source: Whale trader %q
- Whale Trade Size: $%v
- Outcome Being Traded: %v
- Trade Direction: BUY (mirroring whale)

Respond with a JSON object in exactly this format (no markdown, no code blocks, just JSON):
{"should_trade": true or false, "confidence": 0.0 to 1.0, "justification": "2-3 sentence summary", "risk_factors": ["..."], "opportunity_factors": ["..."], "estimated_resolution_time": "e.g. 2 days", "subjectivity_score": 0.0 to 1.0}`,
		metadata.Title, metadata.Question, metadata.Category, metadata.Status, metadata.EndDate, volume, outcomesStr,
		bestBid, bestAsk, tradeCtx["whale_name"], tradeCtx["whale_trade_size"], tradeCtx["outcome"])
}

func (g *GeminiAnalyzer) AnalyzeTrade(ctx context.Context, tokenID string, metadata types.MarketMetadata, depth types.MarketDepth, tradeCtx map[string]any) (types.TradeAnalysis, error) {
	if g.apiKey == "" {
		return g.fallback("no API key configured"), nil
	}

	prompt := g.buildAnalysisPrompt(tokenID, metadata, depth, tradeCtx)
	text, err := g.generate(ctx, prompt, 0.3, 1024)
	if err != nil {
		g.logger.Error("gemini analyze_trade failed", "error", err)
		return g.fallback(err.Error()), nil
	}

	var parsed struct {
		ShouldTrade             bool     `json:"should_trade"`
		Confidence              float64  `json:"confidence"`
		Justification           string   `json:"justification"`
		RiskFactors             []string `json:"risk_factors"`
		OpportunityFactors      []string `json:"opportunity_factors"`
		EstimatedResolutionTime string   `json:"estimated_resolution_time"`
		SubjectivityScore       *float64 `json:"subjectivity_score"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		g.logger.Warn("failed to parse gemini response", "error", err)
		return g.fallback("failed to parse response"), nil
	}

	return types.TradeAnalysis{
		ShouldTrade:             parsed.ShouldTrade,
		Confidence:              parsed.Confidence,
		Justification:           parsed.Justification,
		RiskFactors:             parsed.RiskFactors,
		OpportunityFactors:      parsed.OpportunityFactors,
		EstimatedResolutionTime: parsed.EstimatedResolutionTime,
		SubjectivityScore:       parsed.SubjectivityScore,
	}, nil
}

func (g *GeminiAnalyzer) classify(ctx context.Context, prompt string) (bool, string, error) {
	text, err := g.generate(ctx, prompt, 0.1, 256)
	if err != nil {
		return false, "", err
	}
	var parsed struct {
		Result bool   `json:"is_sports"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		return false, "", err
	}
	return parsed.Result, parsed.Reason, nil
}

func (g *GeminiAnalyzer) IsSportsMarket(ctx context.Context, metadata types.MarketMetadata) (bool, string, error) {
	if g.apiKey == "" {
		return true, "no API key - blocking trade for safety", nil
	}
	prompt := fmt.Sprintf(`Analyze this prediction market and determine if it is related to sports.

Market Title: %s
Market Question: %s
Category: %s

Respond with ONLY a JSON object in this format (no markdown, no code blocks):
{"is_sports": true or false, "reason": "brief explanation"}`, metadata.Title, metadata.Question, metadata.Category)

	isSports, reason, err := g.classify(ctx, prompt)
	if err != nil {
		g.logger.Warn("gemini sports classification failed", "error", err)
		return true, "AI classification error - blocking trade for safety", nil
	}
	return isSports, reason, nil
}

func (g *GeminiAnalyzer) IsCryptoPriceMarket(ctx context.Context, metadata types.MarketMetadata) (bool, string, error) {
	if g.apiKey == "" {
		return false, "no API key - cannot classify", nil
	}
	prompt := fmt.Sprintf(`Analyze this prediction market and determine if it is a CRYPTO PRICE PREDICTION bet (e.g. "Will BTC hit $100K?").

Market Title: %s
Market Question: %s
Category: %s

Respond with ONLY a JSON object in this format (no markdown, no code blocks):
{"is_crypto": true or false, "reason": "brief explanation"}`, metadata.Title, metadata.Question, metadata.Category)

	text, err := g.generate(ctx, prompt, 0.1, 256)
	if err != nil {
		g.logger.Warn("gemini crypto classification failed", "error", err)
		return false, "AI classification error", nil
	}
	var parsed struct {
		Result bool   `json:"is_crypto"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &parsed); err != nil {
		return false, "failed to parse classification", nil
	}
	return parsed.Result, parsed.Reason, nil
}

func (g *GeminiAnalyzer) EvaluateSportsSelectivity(ctx context.Context, metadata types.MarketMetadata, maxDaysToResolution, minFavoriteOdds float64) (types.SportsSelectivityResult, error) {
	if g.apiKey == "" {
		return types.SportsSelectivityResult{Qualifies: false, Justification: "no API key configured"}, nil
	}
	prompt := fmt.Sprintf(`Analyze this sports prediction market for selective trading eligibility.

Market Title: %s
Market Question: %s
End Date: %s

A market qualifies for selective trading only if it resolves within %.1f days AND the favorite's implied odds are at least %.2f.

Respond with ONLY a JSON object:
{"qualifies": true or false, "confidence": 0.0 to 1.0, "favorite_odds": 0.0 to 1.0, "hours_to_resolution": number, "favorite_entity": "name", "justification": "brief explanation"}`,
		metadata.Title, metadata.Question, metadata.EndDate, maxDaysToResolution, minFavoriteOdds)

	text, err := g.generate(ctx, prompt, 0.1, 512)
	if err != nil {
		g.logger.Warn("gemini selectivity evaluation failed", "error", err)
		return types.SportsSelectivityResult{Qualifies: false, Justification: "AI evaluation error"}, nil
	}

	var result types.SportsSelectivityResult
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &result); err != nil {
		return types.SportsSelectivityResult{Qualifies: false, Justification: "failed to parse evaluation"}, nil
	}
	return result, nil
}
