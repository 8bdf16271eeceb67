package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flashsale/pkg/cache"
	"github.com/Sternrassler/flashsale/pkg/config"
	"github.com/Sternrassler/flashsale/pkg/logging"
	"github.com/Sternrassler/flashsale/pkg/retry"
	"github.com/Sternrassler/flashsale/pkg/seckill"
	"github.com/Sternrassler/flashsale/pkg/shop"
	"github.com/Sternrassler/flashsale/pkg/store"
	"github.com/Sternrassler/flashsale/pkg/store/memory"
	"github.com/Sternrassler/flashsale/pkg/store/postgres"
	"github.com/Sternrassler/flashsale/pkg/warmup"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "config.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logger.Level),
		Pretty: cfg.Logger.Pretty,
	})

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

// durableStore is the union of the store contracts both backends implement.
type durableStore interface {
	store.ShopStore
	store.VoucherStore
	store.OrderStore
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")

	db, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	if closer, ok := db.(io.Closer); ok {
		defer closer.Close()
	}

	cacheLogger := logging.NewLogger("cache")
	cacheClient, err := cache.New(cache.Config{
		Redis:   redisClient,
		Logger:  &cacheLogger,
		NullTTL: cfg.Cache.NullTTL.Std(),
		LockTTL: cfg.Cache.LockTTL.Std(),
		Retry: retry.Config{
			MaxAttempts:       cfg.Cache.LockRetries,
			InitialBackoff:    cfg.Cache.LockBackoff.Std(),
			MaxBackoff:        cfg.Cache.LockTTL.Std(),
			BackoffMultiplier: 2,
		},
		RebuildWorkers:   cfg.Cache.RebuildWorkers,
		RebuildQueueSize: cfg.Cache.RebuildQueueSize,
	})
	if err != nil {
		return fmt.Errorf("create cache client: %w", err)
	}
	defer cacheClient.Close()

	shopConfig := shop.Config{
		Store:    db,
		Cache:    cacheClient,
		Strategy: shop.Strategy(cfg.Cache.Strategy),
		TTL:      cfg.Cache.ShopTTL.Std(),
	}
	switch cfg.Cache.Codec {
	case "msgpack":
		shopConfig.Codec = cache.MsgpackCodec[*store.Shop]{}
	case "cbor":
		codec, err := cache.NewCBORCodec[*store.Shop]()
		if err != nil {
			return fmt.Errorf("create cbor codec: %w", err)
		}
		shopConfig.Codec = codec
	}
	shops, err := shop.New(shopConfig)
	if err != nil {
		return fmt.Errorf("create shop service: %w", err)
	}

	// Only logical-expiration entries can be warmed; config validation rejects
	// warm_shops for the other strategies.
	if shops.Strategy() == shop.LogicalExpire && len(cfg.Cache.WarmShops) > 0 {
		warmLogger := logging.NewLogger("warmup")
		warmer := warmup.NewBatchWarmer(shops, warmup.Config{
			MaxConcurrency: cfg.Cache.RebuildWorkers,
			Logger:         &warmLogger,
		})
		if _, err := warmer.WarmAll(ctx, cfg.Cache.WarmShops); err != nil {
			logger.Warn().Err(err).Msg("Shop warm-up incomplete")
		}
	}

	orders, err := seckill.New(seckill.Config{
		Redis:          redisClient,
		Cache:          cacheClient,
		Vouchers:       db,
		Orders:         db,
		QueueCapacity:  cfg.Seckill.QueueCapacity,
		OrderLockTTL:   cfg.Seckill.OrderLockTTL.Std(),
		PersistTimeout: cfg.Seckill.PersistTimeout.Std(),
	})
	if err != nil {
		return fmt.Errorf("create seckill service: %w", err)
	}
	// The consumer outlives the signal context so Close can drain the queue.
	if err := orders.Start(context.Background()); err != nil {
		return err
	}
	defer orders.Close()

	srv := &server{
		redis:   redisClient,
		shops:   shops,
		seckill: orders,
		logger:  logging.NewLogger("http"),
	}
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	logger.Info().
		Int("port", cfg.Server.Port).
		Str("strategy", string(shops.Strategy())).
		Msg("Flash-sale server started")

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (durableStore, error) {
	if cfg.URL == "" {
		logger.Warn().Msg("No database configured, orders are kept in memory")
		return memory.New(), nil
	}

	pg, err := postgres.Open(ctx, cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
	}
	logger.Info().Msg("Connected to PostgreSQL")
	return pg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
