// Package exit implements the smart exit (sweep/drip) liquidation
// algorithm: sell a position in floor-priced chunks sized to the book's
// resting liquidity, rather than dumping the whole size in one marketable
// order and crashing the price.
package exit

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/pkg/types"
)

const (
	defaultMaxSweeps = 6
	defaultDelay     = time.Second
)

// OrderBookPlacer is the subset of exchange.Provider the executor needs.
type OrderBookPlacer interface {
	GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error)
	PlaceOrder(ctx context.Context, tokenID string, side types.Side, size, priceLimit decimal.Decimal) (types.Order, error)
}

// Executor drips a position into the book across up to max_sweeps
// attempts, floor-priced at min_price, waiting delay between sweeps so the
// book has a chance to refill.
type Executor struct {
	exchange   OrderBookPlacer
	logger     *slog.Logger
	maxSweeps  int
	delay      time.Duration
}

// New returns an Executor with the spec's default max_sweeps=6 and
// delay=1s; override with SetSweepParams if the strategy config supplies
// different values.
func New(exchange OrderBookPlacer, logger *slog.Logger) *Executor {
	return &Executor{
		exchange:  exchange,
		logger:    logger.With("component", "exit.executor"),
		maxSweeps: defaultMaxSweeps,
		delay:     defaultDelay,
	}
}

// SetSweepParams overrides the default max sweeps / inter-sweep delay.
func (e *Executor) SetSweepParams(maxSweeps int, delay time.Duration) {
	if maxSweeps > 0 {
		e.maxSweeps = maxSweeps
	}
	if delay >= 0 {
		e.delay = delay
	}
}

// ExitPosition sells up to totalSize shares of tokenID, never below
// minPrice, across at most max_sweeps attempts, sizing each chunk to the
// book's resting bid liquidity at or above minPrice. Returns the total
// size actually sold; a partial fill (book dried up, or max_sweeps
// exhausted) is not an error — the caller should re-check on the next
// risk scan.
func (e *Executor) ExitPosition(ctx context.Context, tokenID, marketName string, totalSize, minPrice decimal.Decimal) decimal.Decimal {
	remaining := totalSize
	soldTotal := decimal.Zero

	e.logger.Info("smart exit started", "token_id", tokenID, "market", marketName, "size", totalSize, "floor", minPrice)

	for sweep := 1; sweep <= e.maxSweeps; sweep++ {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		depth, err := e.exchange.GetOrderBook(ctx, tokenID)
		if err != nil {
			e.logger.Error("smart exit book fetch failed", "sweep", sweep, "error", err)
			e.sleepBetweenSweeps(ctx, remaining, sweep)
			continue
		}
		if len(depth.Bids) == 0 {
			e.logger.Warn("smart exit no bids available", "sweep", sweep)
			break
		}

		fillable := fillableLiquidity(depth.Bids, minPrice)
		chunk := decimal.Min(remaining, fillable)
		chunk = floorTo2(chunk)

		if chunk.LessThanOrEqual(decimal.Zero) {
			e.logger.Info("smart exit no liquidity above floor, waiting", "sweep", sweep, "floor", minPrice)
			e.sleepBetweenSweeps(ctx, remaining, sweep)
			continue
		}

		order, err := e.exchange.PlaceOrder(ctx, tokenID, types.SideSell, chunk, minPrice)
		if err != nil {
			e.logger.Error("smart exit sell failed", "sweep", sweep, "error", err)
			e.sleepBetweenSweeps(ctx, remaining, sweep)
			continue
		}

		e.logger.Info("smart exit sweep filled", "sweep", sweep, "chunk", chunk, "order_id", order.OrderID)
		soldTotal = soldTotal.Add(chunk)
		remaining = remaining.Sub(chunk)

		e.sleepBetweenSweeps(ctx, remaining, sweep)
	}

	leftover := totalSize.Sub(soldTotal)
	if leftover.GreaterThan(decimal.Zero) {
		e.logger.Warn("smart exit incomplete", "token_id", tokenID, "sold", soldTotal, "total", totalSize, "remaining", leftover)
	} else {
		e.logger.Info("smart exit closed position", "token_id", tokenID, "sold", soldTotal)
	}
	return soldTotal
}

func (e *Executor) sleepBetweenSweeps(ctx context.Context, remaining decimal.Decimal, sweep int) {
	if remaining.LessThanOrEqual(decimal.Zero) || sweep >= e.maxSweeps || e.delay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.delay):
	}
}

// fillableLiquidity sums bid size at price >= minPrice. Bids are assumed
// sorted price descending (the MarketDepth contract); summation stops at
// the first bid below minPrice.
func fillableLiquidity(bids []types.MarketDepthLevel, minPrice decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, bid := range bids {
		if bid.Price.LessThan(minPrice) {
			break
		}
		total = total.Add(bid.Size)
	}
	return total
}

func floorTo2(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(2)
}
