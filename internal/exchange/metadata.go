package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/SaganGromov/polybot/pkg/types"
)

// gammaMarket is the JSON shape returned by the Gamma API's /markets
// endpoint when queried by clob_token_ids[].
type gammaMarket struct {
	Title         string `json:"title"`
	Question      string `json:"question"`
	GroupItemTitle string `json:"groupItemTitle"`
	Category      string `json:"category"`
	Active        bool   `json:"active"`
	Closed        bool   `json:"closed"`
	EndDate       string `json:"endDate"`
	Volume        string `json:"volume"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	ClobTokenIds  string `json:"clobTokenIds"`
}

// parseJSONArray parses a JSON array string like `["Yes","No"]` into out.
func parseJSONArray(s string, out *[]string) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), out)
}

func gammaStatus(gm gammaMarket) string {
	switch {
	case gm.Closed:
		return "closed"
	case gm.Active:
		return "active"
	default:
		return "inactive"
	}
}

// fetchMarketMetadata resolves a single token's market metadata from the
// Gamma API. It never returns an error: on any failure it returns the
// sentinel MarketMetadata with the error recorded in Question, per the
// ExchangeProvider contract.
func fetchMarketMetadata(ctx context.Context, httpClient *resty.Client, tokenID string) types.MarketMetadata {
	var markets []gammaMarket
	resp, err := httpClient.R().
		SetContext(ctx).
		SetQueryParam("clob_token_ids", tokenID).
		SetResult(&markets).
		Get("/markets")
	if err != nil {
		return sentinelMetadata(fmt.Errorf("fetch market metadata: %w", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return sentinelMetadata(fmt.Errorf("fetch market metadata: status %d", resp.StatusCode()))
	}
	if len(markets) == 0 {
		return sentinelMetadata(fmt.Errorf("no market found for token %s", tokenID))
	}

	gm := markets[0]

	var tokenIDs []string
	_ = parseJSONArray(gm.ClobTokenIds, &tokenIDs)
	var outcomeNames []string
	_ = parseJSONArray(gm.Outcomes, &outcomeNames)
	var outcomePrices []string
	_ = parseJSONArray(gm.OutcomePrices, &outcomePrices)

	outcomes := make(map[string]float64, len(outcomeNames))
	queriedOutcome := ""
	for i, name := range outcomeNames {
		price := 0.0
		if i < len(outcomePrices) {
			price, _ = strconv.ParseFloat(outcomePrices[i], 64)
		}
		outcomes[name] = price
		if i < len(tokenIDs) && tokenIDs[i] == tokenID {
			queriedOutcome = name
		}
	}

	var volume *float64
	if v, err := strconv.ParseFloat(gm.Volume, 64); err == nil {
		volume = &v
	}

	return types.MarketMetadata{
		Title:          gm.Title,
		Question:       gm.Question,
		GroupName:      gm.GroupItemTitle,
		Category:       gm.Category,
		Status:         gammaStatus(gm),
		Volume:         volume,
		EndDate:        gm.EndDate,
		Outcomes:       outcomes,
		QueriedOutcome: queriedOutcome,
	}
}

func sentinelMetadata(err error) types.MarketMetadata {
	return types.MarketMetadata{
		Title:    "Error Fetching Metadata",
		Question: err.Error(),
	}
}

// newGammaClient builds a pooled resty client against the Gamma base URL.
func newGammaClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
}
