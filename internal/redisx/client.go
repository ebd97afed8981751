package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Deduper remembers processed event ids so redelivered messages are skipped.
type Deduper struct {
	Redis   redis.Cmdable
	Service string
}

// FirstSeen marks id as processed and reports whether it was new.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	key := fmt.Sprintf(KeyDedup, d.Service, id)
	return d.Redis.SetNX(ctx, key, "1", TTLDedup).Result()
}

// Forget clears the mark so a failed event can be processed again.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	return d.Redis.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}
