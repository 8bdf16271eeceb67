// Package shop serves shop reads through the cache engine and keeps the cache
// consistent on writes.
package shop

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/flashsale/pkg/cache"
	"github.com/Sternrassler/flashsale/pkg/store"
)

var (
	// ErrNotFound indicates the shop does not exist.
	ErrNotFound = errors.New("shop not found")

	// ErrMissingID is returned by UpdateShop for a shop without id.
	ErrMissingID = errors.New("shop id is required")

	// ErrWarmUnsupported is returned by Warm unless the strategy is LogicalExpire.
	// The other strategies read plain payloads and would misread a warmed entry.
	ErrWarmUnsupported = errors.New("warm-up requires the logical_expire strategy")
)

// Strategy selects how GetShop reads through the cache.
type Strategy string

const (
	// PassThrough caches absence to stop penetration.
	PassThrough Strategy = cache.StrategyPassThrough
	// Mutex serializes rebuilds behind a lock.
	Mutex Strategy = cache.StrategyMutex
	// LogicalExpire serves stale data during rebuilds. Shops must be warmed first.
	LogicalExpire Strategy = cache.StrategyLogicalExpire
)

// ParseStrategy maps a configuration value to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case PassThrough, Mutex, LogicalExpire:
		return Strategy(s), nil
	case "":
		return Mutex, nil
	}
	return "", fmt.Errorf("unknown cache strategy %q", s)
}

// Config holds the shop service configuration.
type Config struct {
	Store    store.ShopStore // REQUIRED
	Cache    *cache.Client   // REQUIRED
	Strategy Strategy
	TTL      time.Duration
	Codec    cache.Codec[*store.Shop]
	Logger   *zerolog.Logger
}

// DefaultTTL is how long a cached shop stays valid.
const DefaultTTL = 30 * time.Minute

// Service reads and writes shops.
type Service struct {
	store    store.ShopStore
	shops    *cache.Entity[*store.Shop]
	strategy Strategy
	logger   zerolog.Logger
}

// New creates a shop service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("shop store is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache client is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	strategy, err := ParseStrategy(string(cfg.Strategy))
	if err != nil {
		return nil, err
	}

	s := &Service{
		store:    cfg.Store,
		strategy: strategy,
		logger:   log.With().Str("component", "shop").Logger(),
	}
	if cfg.Logger != nil {
		s.logger = *cfg.Logger
	}

	s.shops, err = cache.NewEntity(cfg.Cache, cache.EntityConfig[*store.Shop]{
		KeyPrefix:  cache.ShopKeyPrefix,
		LockPrefix: cache.ShopLockPrefix,
		TTL:        cfg.TTL,
		Codec:      cfg.Codec,
		Load:       s.load,
	})
	if err != nil {
		return nil, fmt.Errorf("shop cache: %w", err)
	}

	return s, nil
}

// Strategy returns the read strategy used by GetShop.
func (s *Service) Strategy() Strategy { return s.strategy }

// GetShop reads a shop with the configured strategy. All reads of a Service
// share one strategy because the strategies store incompatible entries under
// the same key.
func (s *Service) GetShop(ctx context.Context, id int64) (*store.Shop, error) {
	key := strconv.FormatInt(id, 10)

	var (
		shop *store.Shop
		err  error
	)
	switch s.strategy {
	case PassThrough:
		shop, err = s.shops.QueryWithPassThrough(ctx, key)
	case LogicalExpire:
		shop, err = s.shops.QueryWithLogicalExpire(ctx, key)
	default:
		shop, err = s.shops.QueryWithMutex(ctx, key)
	}

	if errors.Is(err, cache.ErrNotFound) {
		return nil, fmt.Errorf("shop %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get shop %d: %w", id, err)
	}
	return shop, nil
}

// CreateShop persists a new shop. With LogicalExpire it is warmed right away.
func (s *Service) CreateShop(ctx context.Context, shop *store.Shop) error {
	if err := s.store.CreateShop(ctx, shop); err != nil {
		return fmt.Errorf("create shop: %w", err)
	}
	if s.strategy == LogicalExpire {
		if err := s.Warm(ctx, shop.ID); err != nil {
			s.logger.Warn().Err(err).Int64("shop_id", shop.ID).Msg("Failed to warm new shop")
		}
	}
	return nil
}

// UpdateShop writes the store first and then deletes the cached shop.
// With LogicalExpire the entry is overwritten in place instead, since that
// strategy never loads on a miss; it is only deleted if the overwrite fails.
func (s *Service) UpdateShop(ctx context.Context, shop *store.Shop) error {
	if shop == nil || shop.ID == 0 {
		return ErrMissingID
	}
	if s.strategy == LogicalExpire {
		return s.updateInPlace(ctx, shop)
	}
	key := strconv.FormatInt(shop.ID, 10)

	err := s.shops.Update(ctx, key, func(ctx context.Context) error {
		return s.store.UpdateShop(ctx, shop)
	})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("shop %d: %w", shop.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update shop %d: %w", shop.ID, err)
	}

	s.logger.Info().Int64("shop_id", shop.ID).Msg("Shop updated, cache invalidated")
	return nil
}

func (s *Service) updateInPlace(ctx context.Context, shop *store.Shop) error {
	err := s.store.UpdateShop(ctx, shop)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("shop %d: %w", shop.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update shop %d: %w", shop.ID, err)
	}

	if err := s.Warm(ctx, shop.ID); err != nil {
		s.logger.Warn().Err(err).Int64("shop_id", shop.ID).Msg("Failed to re-warm shop, invalidating")
		if err := s.shops.Invalidate(ctx, strconv.FormatInt(shop.ID, 10)); err != nil {
			return fmt.Errorf("invalidate shop %d: %w", shop.ID, err)
		}
		return nil
	}

	s.logger.Info().Int64("shop_id", shop.ID).Msg("Shop updated, cache refreshed")
	return nil
}

// Warm stores the shop under logical expiration. It returns ErrWarmUnsupported
// for the other strategies.
func (s *Service) Warm(ctx context.Context, id int64) error {
	if s.strategy != LogicalExpire {
		return ErrWarmUnsupported
	}
	err := s.shops.Warm(ctx, strconv.FormatInt(id, 10))
	if errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("shop %d: %w", id, ErrNotFound)
	}
	return err
}

func (s *Service) load(ctx context.Context, id string) (*store.Shop, bool, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, false, nil
	}

	shop, err := s.store.GetShop(ctx, n)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return shop, true, nil
}
