package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var _ catalog.Reader = (*ProductCache)(nil)

// ProductCache is a read-through cache in front of a catalog.Reader for
// single product lookups. Listings always go to the underlying reader.
type ProductCache struct {
	Next  catalog.Reader
	Redis redis.Cmdable
	TTL   time.Duration
	Log   zerolog.Logger
}

func (c *ProductCache) FindActiveProduct(ctx context.Context, id string) (catalog.Product, error) {
	key := fmt.Sprintf(KeyProduct, id)
	b, err := c.Redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var p catalog.Product
		if err := json.Unmarshal(b, &p); err == nil {
			return p, nil
		}
		c.Log.Warn().Str("key", key).Msg("drop undecodable cache entry")
	case !errors.Is(err, redis.Nil):
		c.Log.Warn().Err(err).Str("key", key).Msg("product cache read")
	}

	p, err := c.Next.FindActiveProduct(ctx, id)
	if err != nil {
		return p, err
	}
	if b, err := json.Marshal(p); err == nil {
		if err := c.Redis.Set(ctx, key, b, c.ttl()).Err(); err != nil {
			c.Log.Warn().Err(err).Str("key", key).Msg("product cache write")
		}
	}
	return p, nil
}

func (c *ProductCache) FindMany(ctx context.Context, q catalog.Query) ([]catalog.Product, int, error) {
	return c.Next.FindMany(ctx, q)
}

// Invalidate drops the cached entries of ids.
func (c *ProductCache) Invalidate(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = fmt.Sprintf(KeyProduct, id)
	}
	return c.Redis.Del(ctx, keys...).Err()
}

func (c *ProductCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return TTLProduct
}
