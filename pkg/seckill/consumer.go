package seckill

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/flashsale/pkg/lock"
	"github.com/Sternrassler/flashsale/pkg/store"
)

// Drop reasons.
const (
	dropLockError  = "lock_error"
	dropLockBusy   = "lock_busy"
	dropDuplicate  = "duplicate"
	dropSoldOut    = "sold_out"
	dropStoreError = "store_error"
	dropShutdown   = "shutdown"
)

// consume persists queued orders one at a time.
func (s *Service) consume(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.stopped)

	for {
		select {
		case task, ok := <-s.queue:
			if !ok {
				return
			}
			orderQueueDepth.Dec()
			s.persist(ctx, task)
		case <-ctx.Done():
			s.logger.Warn().
				Int("pending", len(s.queue)).
				Msg("Order consumer cancelled, pending orders are dropped on Close")
			return
		}
	}
}

func (s *Service) persist(parent context.Context, task OrderTask) {
	start := time.Now()
	defer func() {
		orderPersistDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.cfg.PersistTimeout)
	defer cancel()

	lease, ok, err := s.locker.TryAcquire(ctx, orderLockKey(task.BuyerID), s.cfg.OrderLockTTL)
	if err != nil {
		s.drop(task, dropLockError, err)
		return
	}
	if !ok {
		s.drop(task, dropLockBusy, lock.ErrNotAcquired)
		return
	}
	defer func() {
		// ctx may have expired with the store call; the lock must not outlive it.
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn().Err(err).Int64("buyer_id", task.BuyerID).Msg("Order lock release failed")
		}
	}()

	n, err := s.orders.CountOrders(ctx, task.BuyerID, task.VoucherID)
	if err != nil {
		s.drop(task, dropStoreError, err)
		return
	}
	if n > 0 {
		s.drop(task, dropDuplicate, store.ErrDuplicateOrder)
		return
	}

	order := &store.Order{
		ID:        int64(task.OrderID),
		BuyerID:   task.BuyerID,
		VoucherID: task.VoucherID,
	}
	err = s.orders.CreateOrder(ctx, order)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSoldOut):
		s.drop(task, dropSoldOut, err)
		return
	case errors.Is(err, store.ErrDuplicateOrder):
		s.drop(task, dropDuplicate, err)
		return
	default:
		s.drop(task, dropStoreError, err)
		return
	}

	ordersPersistedTotal.Inc()
	s.logger.Info().
		Uint64("order_id", task.OrderID).
		Int64("voucher_id", task.VoucherID).
		Int64("buyer_id", task.BuyerID).
		Dur("queued", start.Sub(task.SubmittedAt)).
		Msg("Order persisted")
}

func (s *Service) drop(task OrderTask, reason string, err error) {
	ordersDroppedTotal.WithLabelValues(reason).Inc()
	s.logger.Error().
		Err(err).
		Str("reason", reason).
		Uint64("order_id", task.OrderID).
		Int64("voucher_id", task.VoucherID).
		Int64("buyer_id", task.BuyerID).
		Msg("Order dropped")

	if s.cfg.OnDropped != nil {
		s.cfg.OnDropped(DroppedTask{Task: task, Reason: reason, Err: err})
	}
}
