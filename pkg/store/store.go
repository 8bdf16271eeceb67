// Package store defines the durable entities and the persistence contracts the
// cache engine and the admission pipeline rely on.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates the entity does not exist in the durable store.
	ErrNotFound = errors.New("not found")

	// ErrSoldOut indicates the durable stock guard (stock > 0) rejected a decrement.
	ErrSoldOut = errors.New("durable stock exhausted")

	// ErrDuplicateOrder indicates an order for the same buyer and voucher already exists.
	ErrDuplicateOrder = errors.New("duplicate order")
)

// Shop is the read-mostly entity served through the cache.
type Shop struct {
	ID        int64     `json:"id" db:"id" msgpack:"id"`
	Name      string    `json:"name" db:"name" msgpack:"name"`
	TypeID    int64     `json:"type_id" db:"type_id" msgpack:"type_id"`
	Area      string    `json:"area" db:"area" msgpack:"area"`
	Address   string    `json:"address" db:"address" msgpack:"address"`
	AvgPrice  int64     `json:"avg_price" db:"avg_price" msgpack:"avg_price"`
	Score     int       `json:"score" db:"score" msgpack:"score"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" msgpack:"updated_at"`
}

// Voucher is a seckill voucher: a stock-limited product on sale inside a time window.
type Voucher struct {
	ID        int64     `json:"id" db:"id" msgpack:"id"`
	ShopID    int64     `json:"shop_id" db:"shop_id" msgpack:"shop_id"`
	Title     string    `json:"title" db:"title" msgpack:"title"`
	Stock     int       `json:"stock" db:"stock" msgpack:"stock"`
	BeginTime time.Time `json:"begin_time" db:"begin_time" msgpack:"begin_time"`
	EndTime   time.Time `json:"end_time" db:"end_time" msgpack:"end_time"`
	CreatedAt time.Time `json:"created_at" db:"created_at" msgpack:"created_at"`
}

// Order is a durably persisted seckill order.
type Order struct {
	ID        int64     `json:"id" db:"id"`
	BuyerID   int64     `json:"buyer_id" db:"buyer_id"`
	VoucherID int64     `json:"voucher_id" db:"voucher_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ShopStore persists shops.
type ShopStore interface {
	// GetShop returns ErrNotFound when the shop does not exist.
	GetShop(ctx context.Context, id int64) (*Shop, error)
	CreateShop(ctx context.Context, shop *Shop) error
	// UpdateShop returns ErrNotFound when the shop does not exist.
	UpdateShop(ctx context.Context, shop *Shop) error
}

// VoucherStore persists seckill vouchers.
type VoucherStore interface {
	// GetVoucher returns ErrNotFound when the voucher does not exist.
	GetVoucher(ctx context.Context, id int64) (*Voucher, error)
	CreateVoucher(ctx context.Context, voucher *Voucher) error
	// DecrementStock decrements stock by one if it is positive and reports whether it did.
	DecrementStock(ctx context.Context, voucherID int64) (bool, error)
}

// OrderStore persists orders.
type OrderStore interface {
	// CountOrders counts orders of buyerID for voucherID.
	CountOrders(ctx context.Context, buyerID, voucherID int64) (int, error)
	// CreateOrder decrements the voucher's durable stock (guarded by stock > 0)
	// and inserts the order in one transaction. It returns ErrSoldOut when the
	// guard fails and ErrDuplicateOrder on a (buyer, voucher) conflict.
	CreateOrder(ctx context.Context, order *Order) error
	// ListOrders returns the orders of voucherID sorted by order id.
	ListOrders(ctx context.Context, voucherID int64) ([]Order, error)
}
