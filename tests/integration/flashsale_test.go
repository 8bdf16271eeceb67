//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/flashsale/internal/testutil"
	"github.com/Sternrassler/flashsale/pkg/cache"
	"github.com/Sternrassler/flashsale/pkg/idgen"
	"github.com/Sternrassler/flashsale/pkg/lock"
	"github.com/Sternrassler/flashsale/pkg/seckill"
	"github.com/Sternrassler/flashsale/pkg/shop"
	"github.com/Sternrassler/flashsale/pkg/store"
	"github.com/Sternrassler/flashsale/pkg/store/postgres"
)

func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()
	db, err := postgres.Open(ctx, testutil.StartPostgres(t))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	return db
}

// TestSeckillEndToEnd runs many buyers against real Redis and PostgreSQL and
// checks that admissions, durable orders and stock agree.
func TestSeckillEndToEnd(t *testing.T) {
	redisClient := testutil.StartRedis(t)
	db := setupStore(t)
	ctx := context.Background()

	cacheClient, err := cache.New(cache.Config{Redis: redisClient})
	if err != nil {
		t.Fatal(err)
	}
	defer cacheClient.Close()

	var dropped atomic.Int64
	orders, err := seckill.New(seckill.Config{
		Redis:     redisClient,
		Cache:     cacheClient,
		Vouchers:  db,
		Orders:    db,
		OnDropped: func(seckill.DroppedTask) { dropped.Add(1) },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := orders.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	const stock = 10
	now := time.Now()
	voucher := &store.Voucher{
		ID:        1,
		Title:     "integration",
		Stock:     stock,
		BeginTime: now.Add(-time.Minute),
		EndTime:   now.Add(time.Hour),
	}
	if err := orders.AddSeckillVoucher(ctx, voucher); err != nil {
		t.Fatalf("AddSeckillVoucher failed: %v", err)
	}

	const buyers = 100
	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
		soldOut  atomic.Int64
	)
	for i := 1; i <= buyers; i++ {
		wg.Add(1)
		go func(buyer int64) {
			defer wg.Done()
			// Every buyer tries twice; the second attempt must never be admitted.
			for attempt := 0; attempt < 2; attempt++ {
				_, err := orders.Submit(ctx, voucher.ID, buyer)
				switch {
				case err == nil:
					admitted.Add(1)
				case errors.Is(err, seckill.ErrSoldOut), errors.Is(err, seckill.ErrDuplicate):
					soldOut.Add(1)
				default:
					t.Errorf("buyer %d: unexpected error %v", buyer, err)
				}
			}
		}(int64(i))
	}
	wg.Wait()
	orders.Close()

	if admitted.Load() != stock {
		t.Errorf("admitted = %d, want %d", admitted.Load(), stock)
	}
	if soldOut.Load() != 2*buyers-stock {
		t.Errorf("rejected = %d, want %d", soldOut.Load(), 2*buyers-stock)
	}
	if dropped.Load() != 0 {
		t.Errorf("dropped = %d, want 0", dropped.Load())
	}

	persisted, err := db.ListOrders(ctx, voucher.ID)
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(persisted) != stock {
		t.Fatalf("persisted orders = %d, want %d", len(persisted), stock)
	}
	seen := make(map[int64]bool)
	for _, o := range persisted {
		if seen[o.BuyerID] {
			t.Errorf("buyer %d has more than one order", o.BuyerID)
		}
		seen[o.BuyerID] = true
	}

	stored, err := db.GetVoucher(ctx, voucher.ID)
	if err != nil {
		t.Fatalf("GetVoucher failed: %v", err)
	}
	if stored.Stock != 0 {
		t.Errorf("durable stock = %d, want 0", stored.Stock)
	}

	remaining, err := orders.RemainingStock(ctx, voucher.ID)
	if err != nil {
		t.Fatalf("RemainingStock failed: %v", err)
	}
	if remaining != 0 {
		t.Errorf("reserved stock = %d, want 0", remaining)
	}
}

// TestShopCacheEndToEnd exercises every cache strategy against real Redis.
func TestShopCacheEndToEnd(t *testing.T) {
	redisClient := testutil.StartRedis(t)
	db := setupStore(t)
	ctx := context.Background()

	cacheClient, err := cache.New(cache.Config{Redis: redisClient})
	if err != nil {
		t.Fatal(err)
	}
	defer cacheClient.Close()

	shops, err := shop.New(shop.Config{Store: db, Cache: cacheClient, Strategy: shop.LogicalExpire})
	if err != nil {
		t.Fatal(err)
	}

	sh := &store.Shop{Name: "Integration Diner", Area: "Harbor"}
	if err := shops.CreateShop(ctx, sh); err != nil {
		t.Fatalf("CreateShop failed: %v", err)
	}

	// CreateShop warmed the logical-expiry entry.
	got, err := shops.GetShop(ctx, sh.ID)
	if err != nil {
		t.Fatalf("GetShop failed: %v", err)
	}
	if got.Name != sh.Name {
		t.Errorf("Name = %q, want %q", got.Name, sh.Name)
	}

	sh.Name = "Integration Bistro"
	if err := shops.UpdateShop(ctx, sh); err != nil {
		t.Fatalf("UpdateShop failed: %v", err)
	}
	got, err = shops.GetShop(ctx, sh.ID)
	if err != nil {
		t.Fatalf("GetShop after update failed: %v", err)
	}
	if got.Name != "Integration Bistro" {
		t.Errorf("Name after update = %q", got.Name)
	}

	for _, strategy := range []shop.Strategy{shop.PassThrough, shop.Mutex} {
		t.Run(string(strategy), func(t *testing.T) {
			if err := redisClient.FlushDB(ctx).Err(); err != nil {
				t.Fatal(err)
			}
			svc, err := shop.New(shop.Config{Store: db, Cache: cacheClient, Strategy: strategy})
			if err != nil {
				t.Fatal(err)
			}

			got, err := svc.GetShop(ctx, sh.ID)
			if err != nil || got.Name != "Integration Bistro" {
				t.Errorf("GetShop = (%+v, %v), want Integration Bistro", got, err)
			}
			if _, err := svc.GetShop(ctx, 424242); !errors.Is(err, shop.ErrNotFound) {
				t.Errorf("unknown shop = %v, want ErrNotFound", err)
			}
		})
	}
}

// TestLockAndIDsAgainstRedis checks the lock and the id generator on a real server.
func TestLockAndIDsAgainstRedis(t *testing.T) {
	redisClient := testutil.StartRedis(t)
	ctx := context.Background()

	locker := lock.New(redisClient)
	first, ok, err := locker.TryAcquire(ctx, "lock:integration", 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if _, err := locker.Acquire(ctx, "lock:integration", 5*time.Second); !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("second acquire = %v, want ErrNotAcquired", err)
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	gen := idgen.New(redisClient)
	var prev uint64
	for i := 0; i < 100; i++ {
		id, err := gen.NextID(ctx, "order")
		if err != nil {
			t.Fatalf("NextID failed: %v", err)
		}
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		prev = id
	}
}
