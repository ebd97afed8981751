package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/memstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable returns a client whose every command fails fast.
func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestProductCache_FallsThroughWhenRedisIsDown(t *testing.T) {
	store := memstore.New()
	p := store.PutProduct(catalog.Product{Name: "Kettle", Price: decimal.NewFromInt(30), Stock: 3, IsActive: true})
	cache := &ProductCache{Next: store, Redis: unreachable(t), Log: zerolog.Nop()}
	ctx := context.Background()

	got, err := cache.FindActiveProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kettle", got.Name)

	_, err = cache.FindActiveProduct(ctx, "missing")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)

	items, total, err := cache.FindMany(ctx, catalog.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)

	assert.Error(t, cache.Invalidate(ctx, p.ID))
	assert.NoError(t, cache.Invalidate(ctx))
}

func TestProductCacheTTL(t *testing.T) {
	assert.Equal(t, TTLProduct, (&ProductCache{}).ttl())
	assert.Equal(t, time.Second, (&ProductCache{TTL: time.Second}).ttl())
}
