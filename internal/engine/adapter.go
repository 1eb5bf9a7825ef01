package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/SaganGromov/polybot/internal/book"
	"github.com/SaganGromov/polybot/internal/exchange"
	"github.com/SaganGromov/polybot/pkg/types"
)

// cachedProvider wraps an exchange.Provider so every order-book read goes
// through the streaming WS cache instead of hitting the REST endpoint
// directly; the cache itself falls back to a synchronous REST fetch on a
// cold miss, so callers see the same contract either way.
type cachedProvider struct {
	exchange.Provider
	books *book.Store
}

func newCachedProvider(provider exchange.Provider, books *book.Store) *cachedProvider {
	return &cachedProvider{Provider: provider, books: books}
}

// GetOrderBook shadows the embedded Provider's REST-only implementation,
// routing every call through the book cache.
func (c *cachedProvider) GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error) {
	return c.books.GetOrderBook(ctx, tokenID, c.Provider)
}

var _ exchange.Provider = (*cachedProvider)(nil)
