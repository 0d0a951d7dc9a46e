package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wyckoff-trading-platform/internal/logging"
)

// CachedProvider decorates a DataProvider with a Redis read-through cache.
// Fetched windows are stored as JSON keyed by symbol, timeframe and window
// bounds so repeated validation runs over the same period skip the upstream
// provider entirely.
type CachedProvider struct {
	inner  DataProvider
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedProvider wraps a provider with a Redis cache. A nil client
// disables caching and passes every call through.
func NewCachedProvider(inner DataProvider, client *redis.Client, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedProvider{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logging.WithComponent("bar_cache"),
	}
}

func (c *CachedProvider) Name() string { return "cached:" + c.inner.Name() }

func (c *CachedProvider) cacheKey(symbol string, start, end time.Time, tf Timeframe) string {
	return fmt.Sprintf("bars:%s:%s:%d:%d", symbol, tf, start.Unix(), end.Unix())
}

// FetchHistorical returns cached bars when present, otherwise delegates and
// stores the result
func (c *CachedProvider) FetchHistorical(ctx context.Context, symbol string, start, end time.Time, timeframe Timeframe) ([]OHLCVBar, error) {
	if c.client == nil {
		return c.inner.FetchHistorical(ctx, symbol, start, end, timeframe)
	}

	key := c.cacheKey(symbol, start, end, timeframe)
	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var bars []OHLCVBar
		if err := json.Unmarshal(raw, &bars); err == nil {
			return bars, nil
		}
		// Corrupt entry; fall through to refetch
		c.client.Del(ctx, key)
	}

	bars, err := c.inner.FetchHistorical(ctx, symbol, start, end, timeframe)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(bars); err == nil {
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.logger.Warn("failed to cache bars", "key", key, "error", err)
		}
	}

	return bars, nil
}
