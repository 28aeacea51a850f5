// Package cache provides a Redis read-through cache in front of the discount
// code repository. Validation traffic is read-heavy and codes change rarely,
// so cached records are served until the TTL lapses or an admin mutation
// invalidates them.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/lonestarfoods/discount-engine/internal/domain/discount"
)

const keyPrefix = "discount:code:"

// DefaultTTL bounds staleness when an invalidation is missed.
const DefaultTTL = 5 * time.Minute

var (
	_ discount.Repository  = (*CodeCache)(nil)
	_ discount.Invalidator = (*CodeCache)(nil)
)

// CodeCache wraps a discount.Repository with a Redis cache. Redis failures
// degrade to the inner repository rather than failing the request.
type CodeCache struct {
	inner discount.Repository
	rdb   *redis.Client
	ttl   time.Duration
}

// New creates a CodeCache. A non-positive ttl falls back to DefaultTTL.
func New(inner discount.Repository, rdb *redis.Client, ttl time.Duration) *CodeCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CodeCache{inner: inner, rdb: rdb, ttl: ttl}
}

// FindByCode serves the code from Redis when present, otherwise loads it from
// the inner repository and caches the result. Not-found results are not
// cached; unknown codes are rare enough that they always hit the store.
func (c *CodeCache) FindByCode(ctx context.Context, code string) (*discount.Code, error) {
	key := keyPrefix + code

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var dc discount.Code
		if err := json.Unmarshal(data, &dc); err == nil {
			return &dc, nil
		}
		// Corrupt entry, fall through to the store and overwrite it.
		zctx.From(ctx).Warn("dropping corrupt cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		zctx.From(ctx).Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	dc, err := c.inner.FindByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(dc); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			zctx.From(ctx).Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return dc, nil
}

// Invalidate drops the cached record for a code after an admin mutation.
func (c *CodeCache) Invalidate(ctx context.Context, code string) {
	key := keyPrefix + code
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		zctx.From(ctx).Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

// Ping reports whether Redis is reachable. Used by the readiness probe.
func (c *CodeCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
