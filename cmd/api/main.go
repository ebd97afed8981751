package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/config"
	"github.com/ariefcatur/go-order-ledger/internal/httpx"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	kafkax "github.com/ariefcatur/go-order-ledger/internal/kafka"
	"github.com/ariefcatur/go-order-ledger/internal/ledger"
	"github.com/ariefcatur/go-order-ledger/internal/logging"
	"github.com/ariefcatur/go-order-ledger/internal/memstore"
	"github.com/ariefcatur/go-order-ledger/internal/postgres"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "order-api")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := logging.New(cfg.LogLevel, cfg.ServiceName)

	pricing, err := cfg.Pricing()
	if err != nil {
		log.Fatal().Err(err).Msg("pricing")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store
	var (
		store      ledger.Store
		products   catalog.Reader
		categories catalog.CategoryStore
	)
	switch cfg.StoreDriver {
	case config.DriverMemory:
		mem := memstore.New()
		seedDemo(mem)
		store, products, categories = mem, mem, mem
		log.Warn().Msg("using in-memory store; data is lost on exit")
	default:
		if cfg.MigrateOnStart {
			if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
				log.Fatal().Err(err).Msg("migrate")
			}
		}
		db, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		defer db.Close()
		cs := &postgres.CatalogStore{DB: db}
		store, products, categories = &postgres.OrderStore{DB: db}, cs, cs
	}

	// Redis product cache
	var cache *redisx.ProductCache
	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable; cache reads fall through")
		}
		cache = &redisx.ProductCache{Next: products, Redis: rdb, TTL: cfg.ProductCacheTTL, Log: log}
		products = cache
	}

	// Events
	var events ledger.Publisher = ledger.NopPublisher{}
	var prod *kafkax.Producer
	switch {
	case len(cfg.KafkaBrokers()) > 0:
		prod = kafkax.NewProducer(cfg.KafkaBrokers(), cfg.OrderTopic, 1024, log)
		prod.Start()
		events = &kafkax.EventPublisher{Producer: prod}
	case cache != nil:
		// no broker: evict cached products in process
		events = &inventory.Service{Cache: cache, Log: log}
	}

	router := httpx.NewRouter(log)
	(&httpx.CatalogHandler{Products: products, Categories: categories, Log: log}).Register(router)
	(&httpx.OrdersHandler{
		Ledger: &ledger.Service{
			Store:    store,
			Events:   events,
			Pricing:  pricing,
			Producer: cfg.ServiceName,
			Log:      log,
		},
		Log: log,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.StoreDriver).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("listen")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
}

// seedDemo gives the in-memory store something to sell.
func seedDemo(s *memstore.Store) {
	for _, p := range []catalog.Product{
		{ID: "demo-keyboard", Name: "Mechanical Keyboard", Price: decimal.RequireFromString("50.00"), Stock: 25, IsActive: true, IsFeatured: true},
		{ID: "demo-mouse", Name: "Wireless Mouse", Price: decimal.RequireFromString("25.00"), Stock: 40, IsActive: true},
		{ID: "demo-monitor", Name: "27in Monitor", Price: decimal.RequireFromString("219.99"), Stock: 8, IsActive: true},
	} {
		s.PutProduct(p)
	}
}
