package book

import (
	"context"

	"github.com/SaganGromov/polybot/pkg/types"
)

// RestFetcher fetches a REST snapshot of a token's book — satisfied by
// exchange.Provider's GetOrderBook.
type RestFetcher interface {
	GetOrderBook(ctx context.Context, tokenID string) (types.MarketDepth, error)
}

// GetOrderBook serves a token's book from the streaming cache, subscribing
// it (if not already) as a side effect. On a cold miss it also performs a
// synchronous REST fallback fetch to seed the cache so this call doesn't
// return an empty book; subsequent calls hit the now-populated cache.
func (s *Store) GetOrderBook(ctx context.Context, tokenID string, rest RestFetcher) (types.MarketDepth, error) {
	cache := s.GetOrCreate(tokenID)
	s.Subscribe(tokenID)

	if !cache.IsEmpty() {
		return cache.Snapshot(), nil
	}

	depth, err := rest.GetOrderBook(ctx, tokenID)
	if err != nil {
		return types.MarketDepth{}, err
	}
	cache.ReplaceSnapshot(depth)
	return cache.Snapshot(), nil
}
