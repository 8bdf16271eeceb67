package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Sternrassler/flashsale/pkg/store"
)

func TestShops(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.GetShop(ctx, 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetShop on empty store = %v, want ErrNotFound", err)
	}

	shop := &store.Shop{Name: "Tea House"}
	if err := s.CreateShop(ctx, shop); err != nil {
		t.Fatalf("CreateShop failed: %v", err)
	}
	if shop.ID == 0 {
		t.Fatal("CreateShop should assign an id")
	}

	shop.Name = "Tea House 2"
	if err := s.UpdateShop(ctx, shop); err != nil {
		t.Fatalf("UpdateShop failed: %v", err)
	}
	got, err := s.GetShop(ctx, shop.ID)
	if err != nil {
		t.Fatalf("GetShop failed: %v", err)
	}
	if got.Name != "Tea House 2" {
		t.Errorf("Name = %q, want Tea House 2", got.Name)
	}

	if err := s.UpdateShop(ctx, &store.Shop{ID: 999}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateShop unknown = %v, want ErrNotFound", err)
	}
}

func TestCreateShop_SkipsTakenIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateShop(ctx, &store.Shop{ID: 1, Name: "explicit"}); err != nil {
		t.Fatal(err)
	}
	shop := &store.Shop{Name: "auto"}
	if err := s.CreateShop(ctx, shop); err != nil {
		t.Fatal(err)
	}
	if shop.ID != 2 {
		t.Errorf("assigned id = %d, want 2", shop.ID)
	}
}

func TestCreateOrder_Guards(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateVoucher(ctx, &store.Voucher{ID: 7, Stock: 1}); err != nil {
		t.Fatal(err)
	}

	if err := s.CreateOrder(ctx, &store.Order{ID: 1, BuyerID: 10, VoucherID: 7}); err != nil {
		t.Fatalf("first CreateOrder failed: %v", err)
	}
	if err := s.CreateOrder(ctx, &store.Order{ID: 2, BuyerID: 10, VoucherID: 7}); !errors.Is(err, store.ErrDuplicateOrder) {
		t.Errorf("repeat buyer = %v, want ErrDuplicateOrder", err)
	}
	if err := s.CreateOrder(ctx, &store.Order{ID: 3, BuyerID: 11, VoucherID: 7}); !errors.Is(err, store.ErrSoldOut) {
		t.Errorf("empty stock = %v, want ErrSoldOut", err)
	}

	if n, _ := s.CountOrders(ctx, 10, 7); n != 1 {
		t.Errorf("CountOrders = %d, want 1", n)
	}
	if got := s.Stock(7); got != 0 {
		t.Errorf("Stock = %d, want 0", got)
	}
	if got := s.Stock(8); got != -1 {
		t.Errorf("Stock unknown = %d, want -1", got)
	}
}

func TestListOrders_SortedByID(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateVoucher(ctx, &store.Voucher{ID: 1, Stock: 10}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateVoucher(ctx, &store.Voucher{ID: 2, Stock: 10}); err != nil {
		t.Fatal(err)
	}
	for _, o := range []store.Order{
		{ID: 30, BuyerID: 3, VoucherID: 1},
		{ID: 10, BuyerID: 1, VoucherID: 1},
		{ID: 20, BuyerID: 2, VoucherID: 2},
		{ID: 15, BuyerID: 2, VoucherID: 1},
	} {
		o := o
		if err := s.CreateOrder(ctx, &o); err != nil {
			t.Fatal(err)
		}
	}

	orders, err := s.ListOrders(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{10, 15, 30}
	if len(orders) != len(want) {
		t.Fatalf("got %d orders, want %d", len(orders), len(want))
	}
	for i, o := range orders {
		if o.ID != want[i] {
			t.Errorf("orders[%d].ID = %d, want %d", i, o.ID, want[i])
		}
	}
}

func TestCreateOrder_ConcurrentNeverOversells(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.CreateVoucher(ctx, &store.Voucher{ID: 1, Stock: 25}); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(buyer int64) {
			defer wg.Done()
			_ = s.CreateOrder(ctx, &store.Order{ID: buyer, BuyerID: buyer, VoucherID: 1})
		}(int64(i))
	}
	wg.Wait()

	orders, _ := s.ListOrders(ctx, 1)
	if len(orders) != 25 {
		t.Errorf("orders = %d, want 25", len(orders))
	}
	if got := s.Stock(1); got != 0 {
		t.Errorf("Stock = %d, want 0", got)
	}
}
