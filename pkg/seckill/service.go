// Package seckill admits buyers to a stock-limited flash sale.
//
// Submit decides eligibility synchronously: the sale window is checked, then
// a Lua script reserves one unit of Redis stock and records the buyer in one
// atomic step. Accepted reservations get an order id and go onto a bounded
// in-memory queue. A single consumer goroutine persists them in FIFO order,
// each under a per-buyer lock and inside one store transaction guarded by
// stock > 0.
//
// A reservation that fails to persist is dropped: it is logged, counted in
// flashsale_orders_dropped_total and handed to Config.OnDropped. Its Redis
// reservation is not returned. Queued tasks live only in process memory.
package seckill

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/flashsale/pkg/cache"
	"github.com/Sternrassler/flashsale/pkg/idgen"
	"github.com/Sternrassler/flashsale/pkg/lock"
	"github.com/Sternrassler/flashsale/pkg/store"
)

// Defaults.
const (
	DefaultQueueCapacity  = 1 << 20
	DefaultOrderLockTTL   = 1200 * time.Second
	DefaultPersistTimeout = 5 * time.Second
	DefaultVoucherTTL     = 30 * time.Minute

	orderScope = "order"
)

// OrderTask is a reserved order waiting to be persisted.
type OrderTask struct {
	OrderID     uint64
	BuyerID     int64
	VoucherID   int64
	SubmittedAt time.Time
}

// DroppedTask describes a reservation the consumer could not persist.
type DroppedTask struct {
	Task   OrderTask
	Reason string
	Err    error
}

// Config holds the seckill service configuration.
type Config struct {
	// Redis holds stock counters and buyer sets (REQUIRED)
	Redis redis.Cmdable

	// Cache serves voucher reads (REQUIRED)
	Cache *cache.Client

	// Durable stores (REQUIRED)
	Vouchers store.VoucherStore
	Orders   store.OrderStore

	// IDs defaults to a generator on Redis
	IDs *idgen.Generator

	// Locker defaults to a token-checked locker on Redis
	Locker *lock.Locker

	QueueCapacity  int
	OrderLockTTL   time.Duration
	PersistTimeout time.Duration
	VoucherTTL     time.Duration

	// OnDropped is called from the consumer goroutine for every dropped task
	OnDropped func(DroppedTask)

	Logger *zerolog.Logger
	Now    func() time.Time
}

// Service is the admission pipeline.
type Service struct {
	redis    redis.Cmdable
	vouchers store.VoucherStore
	orders   store.OrderStore
	cached   *cache.Entity[*store.Voucher]
	ids      *idgen.Generator
	locker   *lock.Locker
	logger   zerolog.Logger
	cfg      Config

	queue chan OrderTask
	// closing is closed by Close to release producers blocked on a full queue.
	closing chan struct{}
	// stopped is closed when the consumer goroutine exits.
	stopped chan struct{}

	mu        sync.RWMutex
	closed    bool
	started   bool
	producers sync.WaitGroup
	wg        sync.WaitGroup
}

// New creates a seckill service. Call Start to begin persisting orders.
func New(cfg Config) (*Service, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache client is required")
	}
	if cfg.Vouchers == nil || cfg.Orders == nil {
		return nil, fmt.Errorf("voucher and order stores are required")
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.OrderLockTTL <= 0 {
		cfg.OrderLockTTL = DefaultOrderLockTTL
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.VoucherTTL <= 0 {
		cfg.VoucherTTL = DefaultVoucherTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Service{
		redis:    cfg.Redis,
		vouchers: cfg.Vouchers,
		orders:   cfg.Orders,
		ids:      cfg.IDs,
		locker:   cfg.Locker,
		logger:   log.With().Str("component", "seckill").Logger(),
		cfg:      cfg,
		queue:    make(chan OrderTask, cfg.QueueCapacity),
		closing:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if cfg.Logger != nil {
		s.logger = *cfg.Logger
	}
	if s.ids == nil {
		s.ids = idgen.New(cfg.Redis)
	}
	if s.locker == nil {
		s.locker = lock.New(cfg.Redis, lock.WithLogger(s.logger))
	}

	var err error
	s.cached, err = cache.NewEntity(cfg.Cache, cache.EntityConfig[*store.Voucher]{
		KeyPrefix:  "cache:voucher:",
		LockPrefix: "lock:voucher:",
		TTL:        cfg.VoucherTTL,
		Load:       s.loadVoucher,
	})
	if err != nil {
		return nil, fmt.Errorf("voucher cache: %w", err)
	}

	return s, nil
}

// AddSeckillVoucher persists a voucher and seeds its Redis stock.
func (s *Service) AddSeckillVoucher(ctx context.Context, v *store.Voucher) error {
	if v == nil || v.ID <= 0 {
		return fmt.Errorf("voucher id is required")
	}
	if v.Stock < 0 {
		return fmt.Errorf("voucher stock must not be negative")
	}
	if !v.EndTime.After(v.BeginTime) {
		return fmt.Errorf("voucher end time must be after begin time")
	}

	if err := s.vouchers.CreateVoucher(ctx, v); err != nil {
		return fmt.Errorf("create voucher %d: %w", v.ID, err)
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, StockKey(v.ID), v.Stock, 0)
		pipe.Del(ctx, BuyersKey(v.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("seed stock %d: %w", v.ID, err)
	}

	// A lookup before creation may have cached a not-found marker.
	if err := s.cached.Invalidate(ctx, strconv.FormatInt(v.ID, 10)); err != nil {
		s.logger.Warn().Err(err).Int64("voucher_id", v.ID).Msg("Failed to invalidate voucher cache")
	}

	s.logger.Info().
		Int64("voucher_id", v.ID).
		Int("stock", v.Stock).
		Time("begin", v.BeginTime).
		Time("end", v.EndTime).
		Msg("Seckill voucher added")
	return nil
}

// RemainingStock returns the sellable stock left in Redis.
func (s *Service) RemainingStock(ctx context.Context, voucherID int64) (int, error) {
	n, err := s.redis.Get(ctx, StockKey(voucherID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get stock %d: %w", voucherID, err)
	}
	return n, nil
}

// Submit tries to reserve one unit of voucherID for buyerID and returns the
// order id. Rejections are *RejectionError values. When the queue is full the
// call blocks until there is room or ctx is done; in the latter case the
// reservation is rolled back.
func (s *Service) Submit(ctx context.Context, voucherID, buyerID int64) (uint64, error) {
	if buyerID <= 0 {
		return 0, ErrInvalidBuyer
	}

	voucher, err := s.cached.QueryWithPassThrough(ctx, strconv.FormatInt(voucherID, 10))
	if errors.Is(err, cache.ErrNotFound) {
		return 0, fmt.Errorf("voucher %d: %w", voucherID, ErrVoucherNotFound)
	}
	if err != nil {
		reservationsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("read voucher %d: %w", voucherID, err)
	}

	now := s.cfg.Now()
	if now.Before(voucher.BeginTime) {
		return 0, s.reject(voucherID, buyerID, ReasonNotStarted)
	}
	if now.After(voucher.EndTime) {
		return 0, s.reject(voucherID, buyerID, ReasonEnded)
	}

	keys := []string{StockKey(voucherID), BuyersKey(voucherID)}
	code, err := reserveScript.Run(ctx, s.redis, keys, buyerID).Int()
	if err != nil {
		reservationsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("reserve voucher %d: %w", voucherID, err)
	}
	switch code {
	case reserveOK:
	case reserveSoldOut:
		return 0, s.reject(voucherID, buyerID, ReasonSoldOut)
	case reserveDuplicate:
		return 0, s.reject(voucherID, buyerID, ReasonDuplicate)
	default:
		reservationsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("reserve voucher %d: unexpected script result %d", voucherID, code)
	}

	orderID, err := s.ids.NextID(ctx, orderScope)
	if err != nil {
		s.rollback(ctx, voucherID, buyerID)
		reservationsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("mint order id: %w", err)
	}

	task := OrderTask{
		OrderID:     orderID,
		BuyerID:     buyerID,
		VoucherID:   voucherID,
		SubmittedAt: now,
	}
	if err := s.enqueue(ctx, task); err != nil {
		s.rollback(ctx, voucherID, buyerID)
		reservationsTotal.WithLabelValues("error").Inc()
		return 0, err
	}

	reservationsTotal.WithLabelValues("accepted").Inc()
	s.logger.Debug().
		Uint64("order_id", orderID).
		Int64("voucher_id", voucherID).
		Int64("buyer_id", buyerID).
		Msg("Reservation accepted")
	return orderID, nil
}

func (s *Service) enqueue(ctx context.Context, task OrderTask) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.producers.Add(1)
	s.mu.RUnlock()
	defer s.producers.Done()

	select {
	case <-s.stopped:
		return fmt.Errorf("enqueue order %d: consumer stopped: %w", task.OrderID, ErrClosed)
	default:
	}

	select {
	case s.queue <- task:
		orderQueueDepth.Inc()
		return nil
	case <-s.closing:
		return ErrClosed
	case <-s.stopped:
		return fmt.Errorf("enqueue order %d: consumer stopped: %w", task.OrderID, ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue order %d: %w", task.OrderID, ctx.Err())
	}
}

func (s *Service) rollback(ctx context.Context, voucherID, buyerID int64) {
	keys := []string{StockKey(voucherID), BuyersKey(voucherID)}
	if err := rollbackScript.Run(context.WithoutCancel(ctx), s.redis, keys, buyerID).Err(); err != nil {
		s.logger.Error().
			Err(err).
			Int64("voucher_id", voucherID).
			Int64("buyer_id", buyerID).
			Msg("Failed to roll back reservation")
	}
}

func (s *Service) reject(voucherID, buyerID int64, reason Reason) error {
	reservationsTotal.WithLabelValues(string(reason)).Inc()
	return &RejectionError{Reason: reason, VoucherID: voucherID, BuyerID: buyerID}
}

func (s *Service) loadVoucher(ctx context.Context, id string) (*store.Voucher, bool, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, false, nil
	}

	v, err := s.vouchers.GetVoucher(ctx, n)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Start launches the order consumer. It stops when ctx is done or after Close
// has drained the queue.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	s.wg.Add(1)
	go s.consume(ctx)

	s.logger.Info().Int("queue_capacity", s.cfg.QueueCapacity).Msg("Order consumer started")
	return nil
}

// Close stops accepting submissions and waits until the consumer has drained
// the queue. Tasks a cancelled or never started consumer left behind are
// dropped with reason "shutdown".
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.closing)
	s.mu.Unlock()

	// No producer can send once they are all gone.
	s.producers.Wait()
	close(s.queue)
	s.wg.Wait()

	for task := range s.queue {
		orderQueueDepth.Dec()
		s.drop(task, dropShutdown, ErrClosed)
	}
	s.logger.Info().Msg("Order consumer stopped")
}
