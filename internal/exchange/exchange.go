// Package exchange provides the ExchangeProvider abstraction — balance,
// positions, order placement, order-book and market metadata lookups — with
// a live Polymarket CLOB adapter and an in-memory mock for dry-run/testing.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/pkg/types"
)

// MinOrderSize is the CLOB's minimum marketable order size in USDC, used as
// the floor in the BUY rounding contract below.
var MinOrderSize = decimal.NewFromInt(5)

// Provider is the exchange abstraction every strategy component trades
// through. Implementations: Client (live CLOB) and Mock (in-memory,
// dry-run).
type Provider interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetPositions(ctx context.Context, minValue decimal.Decimal) ([]types.Position, error)
	PlaceOrder(ctx context.Context, tokenID string, side types.Side, size, priceLimit decimal.Decimal) (types.Order, error)
	GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error)
	GetMarketMetadata(ctx context.Context, tokenID string) (types.MarketMetadata, error)

	// Start/Stop manage any background resources (e.g. an HMAC credential
	// refresh loop). Implementations that need none are no-ops.
	Start(ctx context.Context) error
	Stop() error
}

// two decimal places: the CLOB only accepts prices/sizes quantized to cents.
const quantize = 2

// floorTo2 truncates d toward zero to 2 decimal places.
func floorTo2(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(quantize)
}

// decimalPlaces returns how many digits follow the decimal point in d's
// canonical (most-reduced) form.
func decimalPlaces(d decimal.Decimal) int32 {
	var places int32
	for !d.Truncate(places).Equal(d) {
		places++
	}
	return places
}

// RoundBuyOrder applies the exchange's BUY-order rounding contract: given a
// desired raw size and a price limit, it derives a (size, price) pair the
// CLOB will accept — both floored to 2dp, with size*price itself
// representable in no more than 2 decimals:
//
//  1. price' = floor2(priceLimit)
//  2. size'  = floor2( floor2(size * price') / price' )
//  3. While size'*price' has more than 2 decimal places, decrement size' by
//     0.01 (at most 10 attempts).
//  4. If size' < MinOrderSize, set size' = MinOrderSize and recompute
//     price' from the clean cost.
func RoundBuyOrder(size, priceLimit decimal.Decimal) (roundedSize, roundedPrice decimal.Decimal) {
	price := floorTo2(priceLimit)
	if price.IsZero() {
		return decimal.Zero, decimal.Zero
	}

	notional := floorTo2(size.Mul(price))
	adjSize := floorTo2(notional.Div(price))

	const maxAttempts = 10
	step := decimal.NewFromFloat(0.01)
	for i := 0; i < maxAttempts; i++ {
		if decimalPlaces(adjSize.Mul(price).Truncate(8)) <= quantize {
			break
		}
		adjSize = adjSize.Sub(step)
	}

	if adjSize.LessThan(MinOrderSize) {
		adjSize = MinOrderSize
		cleanCost := adjSize.Mul(price)
		price = floorTo2(cleanCost.Div(adjSize))
	}

	return adjSize, price
}
