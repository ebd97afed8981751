package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/config"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-ledger/internal/kafka"
	"github.com/ariefcatur/go-order-ledger/internal/logging"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "order-inventory")
		boot.Fatal().Err(err).Msg("load config")
	}
	name := cfg.ServiceName + "-inventory"
	log := logging.New(cfg.LogLevel, name)

	brokers := cfg.KafkaBrokers()
	if len(brokers) == 0 {
		log.Fatal().Msg("KAFKA_BROKERS is empty; nothing to consume")
	}
	if cfg.RedisAddr == "" {
		log.Fatal().Msg("REDIS_ADDR is empty; no cache to maintain")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := newService(rdb, name, cfg.ProductCacheTTL, log)

	cons := kafkax.NewConsumer(brokers, cfg.InventoryGroup, cfg.OrderTopic, cfg.InventoryWorkers, log)
	log.Info().
		Str("group", cfg.InventoryGroup).
		Str("topic", cfg.OrderTopic).
		Int("workers", cfg.InventoryWorkers).
		Msg("inventory consumer started")

	if err := cons.Start(ctx, svc.HandleOrderEvent); err != nil {
		log.Error().Err(err).Msg("consumer exit")
		return
	}
	log.Info().Msg("inventory consumer stopped")
}

func newService(rdb redis.Cmdable, name string, ttl time.Duration, log zerolog.Logger) *inventory.Service {
	return &inventory.Service{
		Dedup: &redisx.Deduper{Redis: rdb, Service: name},
		Cache: &redisx.ProductCache{Redis: rdb, TTL: ttl, Log: log},
		Log:   log,
	}
}
