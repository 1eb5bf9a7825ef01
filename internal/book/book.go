// Package book maintains per-token L2 order books fed by a WebSocket
// stream, with synchronous REST fallback on cache miss.
package book

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/pkg/types"
)

// Cache is a single token's incremental order book: price -> size, per
// side. A size of zero removes the level. Reads build a sorted snapshot
// (bids descending, asks ascending) under a short lock.
type Cache struct {
	mu           sync.RWMutex
	bids         map[string]decimal.Decimal // price string -> size
	asks         map[string]decimal.Decimal
	minOrderSize decimal.Decimal
}

// NewCache returns an empty book.
func NewCache() *Cache {
	return &Cache{
		bids: make(map[string]decimal.Decimal),
		asks: make(map[string]decimal.Decimal),
	}
}

// Update applies a batch of level updates to one side. A zero size removes
// the level; any other size sets/replaces it.
func (c *Cache) Update(side types.Side, levels []types.MarketDepthLevel) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.bids
	if side == types.SideSell {
		target = c.asks
	}
	for _, lvl := range levels {
		key := lvl.Price.String()
		if lvl.Size.IsZero() {
			delete(target, key)
			continue
		}
		target[key] = lvl.Size
	}
}

// SetMinOrderSize records the book's minimum order size, as reported by a
// REST snapshot or handshake metadata.
func (c *Cache) SetMinOrderSize(size decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minOrderSize = size
}

// ReplaceSnapshot discards the current book and replaces it wholesale —
// used to seed the cache from a REST fallback fetch on a cold miss.
func (c *Cache) ReplaceSnapshot(depth types.MarketDepth) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bids = make(map[string]decimal.Decimal, len(depth.Bids))
	for _, lvl := range depth.Bids {
		c.bids[lvl.Price.String()] = lvl.Size
	}
	c.asks = make(map[string]decimal.Decimal, len(depth.Asks))
	for _, lvl := range depth.Asks {
		c.asks[lvl.Price.String()] = lvl.Size
	}
	c.minOrderSize = depth.MinOrderSize
}

// Snapshot builds a sorted MarketDepth from the current maps: bids
// descending by price, asks ascending.
func (c *Cache) Snapshot() types.MarketDepth {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bids := levelsFromMap(c.bids)
	sort.Slice(bids, func(i, j int) bool { return bids[i].Price.GreaterThan(bids[j].Price) })

	asks := levelsFromMap(c.asks)
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price.LessThan(asks[j].Price) })

	return types.MarketDepth{Bids: bids, Asks: asks, MinOrderSize: c.minOrderSize}
}

// IsEmpty reports whether the book currently holds no bid and no ask
// levels (never populated, or emptied by updates); Store.GetOrderBook then
// does a REST fallback fetch.
func (c *Cache) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bids) == 0 && len(c.asks) == 0
}

func levelsFromMap(m map[string]decimal.Decimal) []types.MarketDepthLevel {
	out := make([]types.MarketDepthLevel, 0, len(m))
	for priceStr, size := range m {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		out = append(out, types.MarketDepthLevel{Price: price, Size: size})
	}
	return out
}
