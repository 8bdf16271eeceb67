// Package postgres implements the store contracts on PostgreSQL using sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Sternrassler/flashsale/pkg/store"
)

// Schema creates the tables used by Store. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS shops (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT        NOT NULL,
	type_id    BIGINT      NOT NULL DEFAULT 0,
	area       TEXT        NOT NULL DEFAULT '',
	address    TEXT        NOT NULL DEFAULT '',
	avg_price  BIGINT      NOT NULL DEFAULT 0,
	score      INTEGER     NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS seckill_vouchers (
	id         BIGINT PRIMARY KEY,
	shop_id    BIGINT      NOT NULL,
	title      TEXT        NOT NULL DEFAULT '',
	stock      INTEGER     NOT NULL CHECK (stock >= 0),
	begin_time TIMESTAMPTZ NOT NULL,
	end_time   TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS voucher_orders (
	id         BIGINT PRIMARY KEY,
	buyer_id   BIGINT      NOT NULL,
	voucher_id BIGINT      NOT NULL REFERENCES seckill_vouchers (id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (buyer_id, voucher_id)
);
`

const uniqueViolation = "23505"

// Store is a PostgreSQL-backed store.
type Store struct {
	db *sqlx.DB
}

var (
	_ store.ShopStore    = (*Store)(nil)
	_ store.VoucherStore = (*Store)(nil)
	_ store.OrderStore   = (*Store)(nil)
)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetShop returns store.ErrNotFound when no row matches.
func (s *Store) GetShop(ctx context.Context, id int64) (*store.Shop, error) {
	var shop store.Shop
	err := s.db.GetContext(ctx, &shop, `SELECT * FROM shops WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shop %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select shop %d: %w", id, err)
	}
	return &shop, nil
}

// CreateShop inserts shop, letting the database assign an id when shop.ID is zero.
func (s *Store) CreateShop(ctx context.Context, shop *store.Shop) error {
	query := `
		INSERT INTO shops (name, type_id, area, address, avg_price, score)
		VALUES (:name, :type_id, :area, :address, :avg_price, :score)
		RETURNING id, updated_at`
	if shop.ID != 0 {
		query = `
		INSERT INTO shops (id, name, type_id, area, address, avg_price, score)
		VALUES (:id, :name, :type_id, :area, :address, :avg_price, :score)
		RETURNING id, updated_at`
	}

	stmt, err := s.db.PrepareNamedContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert shop: %w", err)
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, shop, shop); err != nil {
		return fmt.Errorf("insert shop: %w", err)
	}
	return nil
}

// UpdateShop overwrites every column and bumps updated_at.
func (s *Store) UpdateShop(ctx context.Context, shop *store.Shop) error {
	stmt, err := s.db.PrepareNamedContext(ctx, `
		UPDATE shops
		SET name = :name, type_id = :type_id, area = :area, address = :address,
		    avg_price = :avg_price, score = :score, updated_at = now()
		WHERE id = :id
		RETURNING updated_at`)
	if err != nil {
		return fmt.Errorf("prepare update shop: %w", err)
	}
	defer stmt.Close()

	err = stmt.GetContext(ctx, &shop.UpdatedAt, shop)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("shop %d: %w", shop.ID, store.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update shop %d: %w", shop.ID, err)
	}
	return nil
}

// GetVoucher returns store.ErrNotFound when no row matches.
func (s *Store) GetVoucher(ctx context.Context, id int64) (*store.Voucher, error) {
	var v store.Voucher
	err := s.db.GetContext(ctx, &v, `SELECT * FROM seckill_vouchers WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("voucher %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select voucher %d: %w", id, err)
	}
	return &v, nil
}

// CreateVoucher inserts voucher with its caller-chosen id.
func (s *Store) CreateVoucher(ctx context.Context, voucher *store.Voucher) error {
	stmt, err := s.db.PrepareNamedContext(ctx, `
		INSERT INTO seckill_vouchers (id, shop_id, title, stock, begin_time, end_time)
		VALUES (:id, :shop_id, :title, :stock, :begin_time, :end_time)
		RETURNING created_at`)
	if err != nil {
		return fmt.Errorf("prepare insert voucher: %w", err)
	}
	defer stmt.Close()

	if err := stmt.GetContext(ctx, &voucher.CreatedAt, voucher); err != nil {
		return fmt.Errorf("insert voucher %d: %w", voucher.ID, err)
	}
	return nil
}

// DecrementStock takes one unit if stock is positive.
func (s *Store) DecrementStock(ctx context.Context, voucherID int64) (bool, error) {
	return decrementStock(ctx, s.db, voucherID)
}

func decrementStock(ctx context.Context, ex sqlx.ExecerContext, voucherID int64) (bool, error) {
	res, err := ex.ExecContext(ctx,
		`UPDATE seckill_vouchers SET stock = stock - 1 WHERE id = $1 AND stock > 0`, voucherID)
	if err != nil {
		return false, fmt.Errorf("decrement stock %d: %w", voucherID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement stock %d: %w", voucherID, err)
	}
	return n == 1, nil
}

// CountOrders counts orders of buyerID for voucherID.
func (s *Store) CountOrders(ctx context.Context, buyerID, voucherID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT count(*) FROM voucher_orders WHERE buyer_id = $1 AND voucher_id = $2`, buyerID, voucherID)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

// CreateOrder decrements stock and inserts the order in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *store.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	ok, err := decrementStock(ctx, tx, order.VoucherID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("voucher %d: %w", order.VoucherID, store.ErrSoldOut)
	}

	err = tx.GetContext(ctx, &order.CreatedAt, `
		INSERT INTO voucher_orders (id, buyer_id, voucher_id)
		VALUES ($1, $2, $3)
		RETURNING created_at`, order.ID, order.BuyerID, order.VoucherID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("buyer %d voucher %d: %w", order.BuyerID, order.VoucherID, store.ErrDuplicateOrder)
		}
		return fmt.Errorf("insert order %d: %w", order.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order %d: %w", order.ID, err)
	}
	return nil
}

// ListOrders returns the orders of voucherID by ascending id.
func (s *Store) ListOrders(ctx context.Context, voucherID int64) ([]store.Order, error) {
	var orders []store.Order
	err := s.db.SelectContext(ctx, &orders,
		`SELECT * FROM voucher_orders WHERE voucher_id = $1 ORDER BY id`, voucherID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}
