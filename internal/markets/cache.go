package markets

import (
	"context"
	"time"

	"github.com/quorumtrade/oraclelag/pkg/cache"
)

// CachedMetadata wraps MetadataClient with caching. Token metadata is
// effectively static for a market's lifetime; market descriptions are
// cached shorter so a closed market is noticed. Both views share the
// same backing cache under the token:/market: key prefixes.
type CachedMetadata struct {
	client      *MetadataClient
	tokenCache  *cache.Typed[*TokenMetadata]
	marketCache *cache.Typed[*MarketInfo]
}

// TokenMetadata holds cached per-token order constraints.
type TokenMetadata struct {
	TickSize     float64
	MinOrderSize float64
	FetchedAt    time.Time
}

// NewCachedMetadata creates a cached metadata client. A nil cache
// disables caching; every lookup then hits the venue.
func NewCachedMetadata(client *MetadataClient, c cache.Cache) *CachedMetadata {
	return &CachedMetadata{
		client:      client,
		tokenCache:  cache.NewTyped[*TokenMetadata](c, 24*time.Hour),
		marketCache: cache.NewTyped[*MarketInfo](c, 10*time.Minute),
	}
}

// TokenMetadata fetches tick size and minimum order size for a token,
// serving from cache when possible.
func (c *CachedMetadata) TokenMetadata(ctx context.Context, tokenID string) (TokenMetadata, error) {
	cacheKey := "token:" + tokenID
	if c.tokenCache.Enabled() {
		if meta, ok := c.tokenCache.Get(cacheKey); ok {
			CacheHitsTotal.Inc()
			return *meta, nil
		}
		CacheMissesTotal.Inc()
	}

	tickSize, err := c.client.FetchTickSize(ctx, tokenID)
	if err != nil {
		tickSize = 0.01
	}
	minOrderSize, err := c.client.FetchMinOrderSize(ctx, tokenID)
	if err != nil {
		minOrderSize = 5.0
	}

	meta := TokenMetadata{
		TickSize:     tickSize,
		MinOrderSize: minOrderSize,
		FetchedAt:    time.Now(),
	}
	c.tokenCache.Set(cacheKey, &meta)
	return meta, nil
}

// Market fetches a market description, serving from cache when
// possible.
func (c *CachedMetadata) Market(ctx context.Context, marketID string) (MarketInfo, error) {
	cacheKey := "market:" + marketID
	if c.marketCache.Enabled() {
		if info, ok := c.marketCache.Get(cacheKey); ok {
			CacheHitsTotal.Inc()
			return *info, nil
		}
		CacheMissesTotal.Inc()
	}

	info, err := c.client.FetchMarket(ctx, marketID)
	if err != nil {
		return info, err
	}
	c.marketCache.Set(cacheKey, &info)
	return info, nil
}

// UpdateTickSize overrides the cached tick size for a token, preserving
// the other fields. Called when the venue announces a tick size change
// over the market stream; a token not in cache is left alone and will
// be fetched with the new value on next access.
func (c *CachedMetadata) UpdateTickSize(tokenID string, newTickSize float64) {
	cacheKey := "token:" + tokenID
	meta, ok := c.tokenCache.Get(cacheKey)
	if !ok {
		return
	}
	c.tokenCache.Set(cacheKey, &TokenMetadata{
		TickSize:     newTickSize,
		MinOrderSize: meta.MinOrderSize,
		FetchedAt:    time.Now(),
	})
}
