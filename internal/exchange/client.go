// Package exchange implements the Polymarket CLOB REST client plus an
// in-memory mock, both satisfying Provider.
//
// Client talks to the Polymarket CLOB API for order management and to the
// data-api / Gamma API for positions and metadata:
//
//   - GetBalance:      placeholder collateral read (see note below)
//   - GetPositions:    GET data-api /positions, paginated, filtered by
//     size>0 && redeemable in {false, null}
//   - PlaceOrder:      POST /order with L2 HMAC headers; the order payload
//     is plain JSON without an EIP-712 order signature; BUY=GTC, SELL=FOK
//   - GetOrderBook:    GET /book
//   - GetMarketMetadata: GET gamma-api /markets?clob_token_ids=...
//
// Order submission carries L2 HMAC headers and credential derivation L1
// headers; position, book and metadata reads are unauthenticated. CLOB
// requests are retried on network errors and 5xx via resty's retry.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/internal/config"
	"github.com/SaganGromov/polybot/pkg/types"
)

// placeholderBalance stands in for a full on-chain USDC collateral query,
// which requires a web3 RPC call outside this client's scope. Mirrors the
// original adapter's fixed placeholder.
var placeholderBalance = decimal.NewFromInt(1000)

// Client is the live Polymarket CLOB/data-api/gamma-api adapter.
type Client struct {
	http      *resty.Client
	gamma     *resty.Client
	dataAPI   *resty.Client
	auth      *Auth
	userAddr  string
	dryRun    bool
	logger    *slog.Logger
}

// NewClient builds a live exchange client from bootstrap config and an
// already-constructed Auth.
func NewClient(cfg *config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.API.CLOBBaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	dataAPI := resty.New().
		SetBaseURL(cfg.API.DataAPIURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2)

	userAddr := cfg.Wallet.FunderAddress
	if userAddr == "" {
		userAddr = auth.Address().Hex()
	}

	return &Client{
		http:     httpClient,
		gamma:    newGammaClient(cfg.API.GammaBaseURL),
		dataAPI:  dataAPI,
		auth:     auth,
		userAddr: userAddr,
		dryRun:   cfg.DryRun,
		logger:   logger.With("component", "exchange.client"),
	}
}

// Start derives L2 API credentials via L1 auth if none were pre-configured.
func (c *Client) Start(ctx context.Context) error {
	if c.auth.HasL2Credentials() {
		return nil
	}
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return types.NewAuthError(fmt.Errorf("l1 headers: %w", err))
	}

	var creds Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&creds).
		Get("/auth/derive-api-key")
	if err != nil {
		return types.NewAuthError(fmt.Errorf("derive api key: %w", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return types.NewAuthError(fmt.Errorf("derive api key: status %d", resp.StatusCode()))
	}
	c.auth.SetCredentials(creds)
	c.logger.Info("API credentials derived")
	return nil
}

// Stop is a no-op; the client holds no background resources of its own.
func (c *Client) Stop() error { return nil }

// GetBalance returns placeholderBalance; it does not query on-chain USDC
// collateral.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	return placeholderBalance, nil
}

type dataAPIPosition struct {
	Asset        string `json:"asset"`
	Size         string `json:"size"`
	InitialValue string `json:"initialValue"`
	CurrentValue string `json:"currentValue"`
	Redeemable   *bool  `json:"redeemable"`
}

// GetPositions fetches this wallet's open positions from the data-api,
// paginating until a short page signals the end, and filters to positions
// with size>0 that are not yet redeemable.
func (c *Client) GetPositions(ctx context.Context, minValue decimal.Decimal) ([]types.Position, error) {
	const pageSize = 100
	offset := 0
	var all []dataAPIPosition

	for {
		var page []dataAPIPosition
		resp, err := c.dataAPI.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"user":          c.userAddr,
				"sizeThreshold": "0",
				"limit":         fmt.Sprintf("%d", pageSize),
				"offset":        fmt.Sprintf("%d", offset),
			}).
			SetResult(&page).
			Get("/positions")
		if err != nil {
			return nil, types.NewAPIError(fmt.Errorf("fetch positions: %w", err))
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, types.NewAPIError(fmt.Errorf("fetch positions: status %d", resp.StatusCode()))
		}

		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		offset += pageSize
	}

	var positions []types.Position
	for _, p := range all {
		size, err := decimal.NewFromString(p.Size)
		if err != nil || !size.IsPositive() {
			continue
		}
		if p.Redeemable != nil && *p.Redeemable {
			continue
		}

		initValue, _ := decimal.NewFromString(p.InitialValue)
		curValue, _ := decimal.NewFromString(p.CurrentValue)

		avgEntry := decimal.Zero
		if !size.IsZero() {
			avgEntry = initValue.Div(size)
		}
		curPrice := decimal.Zero
		if !size.IsZero() {
			curPrice = curValue.Div(size)
		}

		pos := types.Position{
			TokenID:       p.Asset,
			Size:          size,
			AvgEntryPrice: avgEntry,
			CurrentPrice:  curPrice,
		}
		if pos.Value().LessThan(minValue) {
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

type orderPayload struct {
	TokenID    string `json:"token_id"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	OrderType  string `json:"order_type"`
}

type orderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	Status  string `json:"status"`
	Error   string `json:"errorMsg"`
}

// PlaceOrder submits a marketable-limit order: BUY as good-til-cancel,
// SELL as fill-or-kill, per the ExchangeProvider contract. BUY orders are
// passed through RoundBuyOrder first so every submission satisfies §4.1's
// rounding contract (price/size to 2dp, notional to ≤2dp, MinOrderSize
// floor) regardless of how the caller sized the trade.
func (c *Client) PlaceOrder(ctx context.Context, tokenID string, side types.Side, size, priceLimit decimal.Decimal) (types.Order, error) {
	if side == types.SideBuy {
		size, priceLimit = RoundBuyOrder(size, priceLimit)
	}
	order := types.Order{TokenID: tokenID, Side: side, Size: size, PriceLimit: priceLimit, Status: types.OrderPending}

	orderType := "GTC"
	if side == types.SideSell {
		orderType = "FOK"
	}

	if c.dryRun {
		order.Status = types.OrderFilled
		order.OrderID = fmt.Sprintf("dry-run-%s-%s", tokenID, side)
		c.logger.Info("DRY-RUN: would place order", "token_id", tokenID, "side", side, "size", size, "price", priceLimit)
		return order, nil
	}

	payload := orderPayload{
		TokenID:   tokenID,
		Side:      string(side),
		Price:     priceLimit.String(),
		Size:      size.String(),
		OrderType: orderType,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return order, types.NewOrderError(fmt.Errorf("marshal order: %w", err))
	}
	headers, err := c.auth.L2Headers("POST", "/order", string(body))
	if err != nil {
		return order, types.NewAuthError(fmt.Errorf("l2 headers: %w", err))
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/order")
	if err != nil {
		return order, types.NewAPIError(fmt.Errorf("post order: %w", err))
	}
	if resp.StatusCode() == http.StatusPaymentRequired || resp.StatusCode() == http.StatusForbidden {
		return order, types.NewInsufficientFundsError(fmt.Errorf("place order: status %d: %s", resp.StatusCode(), result.Error))
	}
	if resp.StatusCode() != http.StatusOK || !result.Success {
		return order, types.NewOrderError(fmt.Errorf("place order failed: status %d: %s", resp.StatusCode(), result.Error))
	}

	order.OrderID = result.OrderID
	order.Status = types.OrderFilled
	return order, nil
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Bids         []bookLevel `json:"bids"`
	Asks         []bookLevel `json:"asks"`
	MinOrderSize string      `json:"min_order_size"`
}

// GetOrderBook fetches a consistent REST snapshot of the book for tokenID.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error) {
	var result bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&result).
		Get("/book")
	if err != nil {
		return types.MarketDepth{}, types.NewAPIError(fmt.Errorf("get book: %w", err))
	}
	if resp.StatusCode() != http.StatusOK {
		return types.MarketDepth{}, types.NewAPIError(fmt.Errorf("get book: status %d", resp.StatusCode()))
	}

	toLevels := func(levels []bookLevel) []types.MarketDepthLevel {
		out := make([]types.MarketDepthLevel, 0, len(levels))
		for _, l := range levels {
			price, err := decimal.NewFromString(l.Price)
			if err != nil {
				continue
			}
			size, err := decimal.NewFromString(l.Size)
			if err != nil {
				continue
			}
			out = append(out, types.MarketDepthLevel{Price: price, Size: size})
		}
		return out
	}

	minSize, _ := decimal.NewFromString(result.MinOrderSize)
	return types.MarketDepth{
		Bids:         toLevels(result.Bids),
		Asks:         toLevels(result.Asks),
		MinOrderSize: minSize,
	}, nil
}

// GetMarketMetadata resolves a token's market metadata via the Gamma API.
// It never returns an error, per the ExchangeProvider contract.
func (c *Client) GetMarketMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error) {
	return fetchMarketMetadata(ctx, c.gamma, tokenID), nil
}
