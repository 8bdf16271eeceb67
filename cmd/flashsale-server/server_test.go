package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Sternrassler/flashsale/internal/testutil"
	"github.com/Sternrassler/flashsale/pkg/cache"
	"github.com/Sternrassler/flashsale/pkg/logging"
	"github.com/Sternrassler/flashsale/pkg/seckill"
	"github.com/Sternrassler/flashsale/pkg/shop"
	"github.com/Sternrassler/flashsale/pkg/store/memory"
)

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func setupServer(t *testing.T) (*httptest.Server, *miniredis.Miniredis, *seckill.Service) {
	t.Helper()

	redisClient, mr := testutil.NewRedis(t)
	logger := logging.Nop()

	cacheClient, err := cache.New(cache.Config{Redis: redisClient, Logger: &logger})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cacheClient.Close)

	db := memory.New()
	shops, err := shop.New(shop.Config{Store: db, Cache: cacheClient, Logger: &logger})
	if err != nil {
		t.Fatal(err)
	}

	orders, err := seckill.New(seckill.Config{
		Redis:    redisClient,
		Cache:    cacheClient,
		Vouchers: db,
		Orders:   db,
		Logger:   &logger,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := orders.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(orders.Close)

	srv := &server{redis: redisClient, shops: shops, seckill: orders, logger: logger}
	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)

	return ts, mr, orders
}

func do(t *testing.T, method, url, body string, headers map[string]string) (int, response) {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode response: %v", method, url, err)
	}
	return resp.StatusCode, out
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	ts, mr, _ := setupServer(t)

	t.Run("ready", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/ready")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		mr.Close()

		resp, err := http.Get(ts.URL + "/ready")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", resp.StatusCode)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _ := setupServer(t)

	// Touch the cache so its collectors have samples.
	do(t, http.MethodGet, ts.URL+"/shops/1", "", nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "flashsale_cache_misses_total") {
		t.Error("Expected metrics output to contain flashsale_cache_misses_total")
	}
}

func TestShopEndpoints(t *testing.T) {
	ts, mr, _ := setupServer(t)

	status, res := do(t, http.MethodPost, ts.URL+"/shops", `{"name":"Hotpot King","area":"North"}`, nil)
	if status != http.StatusCreated || !res.Success {
		t.Fatalf("create = %d %+v", status, res)
	}
	if string(res.Data) != "1" {
		t.Fatalf("created id = %s, want 1", res.Data)
	}

	status, res = do(t, http.MethodGet, ts.URL+"/shops/1", "", nil)
	if status != http.StatusOK || !strings.Contains(string(res.Data), "Hotpot King") {
		t.Fatalf("get = %d %+v", status, res)
	}
	if !mr.Exists("cache:shop:1") {
		t.Error("shop should be cached after a read")
	}

	status, res = do(t, http.MethodPut, ts.URL+"/shops/1", `{"name":"Hotpot Queen"}`, nil)
	if status != http.StatusOK || !res.Success {
		t.Fatalf("update = %d %+v", status, res)
	}
	if mr.Exists("cache:shop:1") {
		t.Error("update should invalidate the cached shop")
	}

	_, res = do(t, http.MethodGet, ts.URL+"/shops/1", "", nil)
	if !strings.Contains(string(res.Data), "Hotpot Queen") {
		t.Errorf("get after update = %s", res.Data)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown shop", http.MethodGet, "/shops/99", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/shops/abc", "", http.StatusBadRequest},
		{"update unknown", http.MethodPut, "/shops/99", `{"name":"x"}`, http.StatusNotFound},
		{"create without name", http.MethodPost, "/shops", `{}`, http.StatusBadRequest},
		{"create bad body", http.MethodPost, "/shops", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, res := do(t, tt.method, ts.URL+tt.path, tt.body, nil)
			if status != tt.want || res.Success {
				t.Errorf("status = %d (%+v), want %d", status, res, tt.want)
			}
		})
	}
}

func TestSeckillEndpoints(t *testing.T) {
	ts, _, orders := setupServer(t)

	now := time.Now().UTC()
	body := `{"id":10,"shop_id":1,"title":"half price","stock":1,"begin_time":"` +
		now.Add(-time.Hour).Format(time.RFC3339) + `","end_time":"` +
		now.Add(time.Hour).Format(time.RFC3339) + `"}`

	status, res := do(t, http.MethodPost, ts.URL+"/vouchers/seckill", body, nil)
	if status != http.StatusCreated || !res.Success {
		t.Fatalf("add voucher = %d %+v", status, res)
	}

	status, res = do(t, http.MethodPost, ts.URL+"/vouchers/10/seckill", "", map[string]string{userIDHeader: "1"})
	if status != http.StatusOK || !res.Success {
		t.Fatalf("first buyer = %d %+v", status, res)
	}
	var orderID uint64
	if err := json.Unmarshal(res.Data, &orderID); err != nil || orderID == 0 {
		t.Errorf("order id = %s (%v)", res.Data, err)
	}

	status, res = do(t, http.MethodPost, ts.URL+"/vouchers/10/seckill", "", map[string]string{userIDHeader: "1"})
	if status != http.StatusConflict || res.Error != "duplicate" {
		t.Errorf("repeat buyer = %d %+v, want 409 duplicate", status, res)
	}

	status, res = do(t, http.MethodPost, ts.URL+"/vouchers/10/seckill", "", map[string]string{userIDHeader: "2"})
	if status != http.StatusConflict || res.Error != "sold_out" {
		t.Errorf("second buyer = %d %+v, want 409 sold_out", status, res)
	}

	status, res = do(t, http.MethodGet, ts.URL+"/vouchers/10/stock", "", nil)
	if status != http.StatusOK || string(res.Data) != "0" {
		t.Errorf("stock = %d %s, want 0", status, res.Data)
	}

	status, _ = do(t, http.MethodPost, ts.URL+"/vouchers/10/seckill", "", nil)
	if status != http.StatusUnauthorized {
		t.Errorf("missing user = %d, want 401", status)
	}

	status, _ = do(t, http.MethodPost, ts.URL+"/vouchers/404/seckill", "", map[string]string{userIDHeader: "3"})
	if status != http.StatusNotFound {
		t.Errorf("unknown voucher = %d, want 404", status)
	}

	status, _ = do(t, http.MethodPost, ts.URL+"/vouchers/seckill", `{"id":11,"stock":1}`, nil)
	if status != http.StatusBadRequest {
		t.Errorf("invalid voucher = %d, want 400", status)
	}

	body = strings.Replace(body, `"id":10`, `"id":12`, 1)
	if status, res := do(t, http.MethodPost, ts.URL+"/vouchers/seckill", body, nil); status != http.StatusCreated {
		t.Fatalf("add second voucher = %d %+v", status, res)
	}
	orders.Close()
	status, res = do(t, http.MethodPost, ts.URL+"/vouchers/12/seckill", "", map[string]string{userIDHeader: "4"})
	if status != http.StatusServiceUnavailable {
		t.Errorf("after close = %d %+v, want 503", status, res)
	}
}
