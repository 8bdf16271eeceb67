// Package memory is an in-process implementation of the store contracts.
//
// It backs the example program and unit tests. Writes that span entities
// (order creation) are serialized by a single mutex; orders are additionally
// indexed in a sorted skip map so listings come back in id order.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipmap"

	"github.com/Sternrassler/flashsale/pkg/store"
)

type orderKey struct {
	buyerID   int64
	voucherID int64
}

// Store holds shops, vouchers and orders in memory.
type Store struct {
	mu       sync.Mutex
	shops    map[int64]store.Shop
	vouchers map[int64]store.Voucher
	placed   map[orderKey]struct{}
	orders   *skipmap.FuncMap[int64, store.Order]
	nextShop int64
	now      func() time.Time
}

var (
	_ store.ShopStore    = (*Store)(nil)
	_ store.VoucherStore = (*Store)(nil)
	_ store.OrderStore   = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		shops:    make(map[int64]store.Shop),
		vouchers: make(map[int64]store.Voucher),
		placed:   make(map[orderKey]struct{}),
		orders: skipmap.NewFunc[int64, store.Order](func(a, b int64) bool {
			return a < b
		}),
		now: time.Now,
	}
}

// GetShop returns a copy of the shop.
func (s *Store) GetShop(_ context.Context, id int64) (*store.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shop, ok := s.shops[id]
	if !ok {
		return nil, fmt.Errorf("shop %d: %w", id, store.ErrNotFound)
	}
	return &shop, nil
}

// CreateShop stores shop, assigning an id when shop.ID is zero.
func (s *Store) CreateShop(_ context.Context, shop *store.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shop.ID == 0 {
		s.nextShop++
		for _, taken := s.shops[s.nextShop]; taken; _, taken = s.shops[s.nextShop] {
			s.nextShop++
		}
		shop.ID = s.nextShop
	}
	shop.UpdatedAt = s.now().UTC()
	s.shops[shop.ID] = *shop
	return nil
}

// UpdateShop replaces an existing shop.
func (s *Store) UpdateShop(_ context.Context, shop *store.Shop) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shops[shop.ID]; !ok {
		return fmt.Errorf("shop %d: %w", shop.ID, store.ErrNotFound)
	}
	shop.UpdatedAt = s.now().UTC()
	s.shops[shop.ID] = *shop
	return nil
}

// GetVoucher returns a copy of the voucher.
func (s *Store) GetVoucher(_ context.Context, id int64) (*store.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vouchers[id]
	if !ok {
		return nil, fmt.Errorf("voucher %d: %w", id, store.ErrNotFound)
	}
	return &v, nil
}

// CreateVoucher stores voucher. The caller supplies the id.
func (s *Store) CreateVoucher(_ context.Context, voucher *store.Voucher) error {
	if voucher.ID == 0 {
		return fmt.Errorf("voucher id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.vouchers[voucher.ID]; exists {
		return fmt.Errorf("voucher %d already exists", voucher.ID)
	}
	voucher.CreatedAt = s.now().UTC()
	s.vouchers[voucher.ID] = *voucher
	return nil
}

// DecrementStock takes one unit of stock if any is left.
func (s *Store) DecrementStock(_ context.Context, voucherID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(voucherID)
}

func (s *Store) decrementLocked(voucherID int64) (bool, error) {
	v, ok := s.vouchers[voucherID]
	if !ok {
		return false, fmt.Errorf("voucher %d: %w", voucherID, store.ErrNotFound)
	}
	if v.Stock <= 0 {
		return false, nil
	}
	v.Stock--
	s.vouchers[voucherID] = v
	return true, nil
}

// CountOrders counts the orders buyerID holds for voucherID.
func (s *Store) CountOrders(_ context.Context, buyerID, voucherID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.placed[orderKey{buyerID, voucherID}]; ok {
		return 1, nil
	}
	return 0, nil
}

// CreateOrder applies the stock guard and records the order atomically.
func (s *Store) CreateOrder(_ context.Context, order *store.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := orderKey{order.BuyerID, order.VoucherID}
	if _, dup := s.placed[key]; dup {
		return fmt.Errorf("buyer %d voucher %d: %w", order.BuyerID, order.VoucherID, store.ErrDuplicateOrder)
	}
	if _, dup := s.orders.Load(order.ID); dup {
		return fmt.Errorf("order %d: %w", order.ID, store.ErrDuplicateOrder)
	}

	ok, err := s.decrementLocked(order.VoucherID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("voucher %d: %w", order.VoucherID, store.ErrSoldOut)
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = s.now().UTC()
	}
	s.placed[key] = struct{}{}
	s.orders.Store(order.ID, *order)
	return nil
}

// ListOrders returns the orders of voucherID sorted by order id.
func (s *Store) ListOrders(_ context.Context, voucherID int64) ([]store.Order, error) {
	var out []store.Order
	s.orders.Range(func(_ int64, o store.Order) bool {
		if o.VoucherID == voucherID {
			out = append(out, o)
		}
		return true
	})
	return out, nil
}

// Stock returns the durable stock of a voucher, or -1 if it does not exist.
func (s *Store) Stock(voucherID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vouchers[voucherID]
	if !ok {
		return -1
	}
	return v.Stock
}
