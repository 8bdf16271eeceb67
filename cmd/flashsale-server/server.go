package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/flashsale/pkg/metrics"
	"github.com/Sternrassler/flashsale/pkg/seckill"
	"github.com/Sternrassler/flashsale/pkg/shop"
	"github.com/Sternrassler/flashsale/pkg/store"
)

const (
	contentTypeJSON = "application/json"
	userIDHeader    = "X-User-ID"
)

// result is the response envelope for every API endpoint.
type result struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type server struct {
	redis   redis.Cmdable
	shops   *shop.Service
	seckill *seckill.Service
	logger  zerolog.Logger
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/shops", func(r chi.Router) {
		r.Post("/", s.handleCreateShop)
		r.Get("/{id}", s.handleGetShop)
		r.Put("/{id}", s.handleUpdateShop)
	})

	r.Route("/vouchers", func(r chi.Router) {
		r.Post("/seckill", s.handleAddSeckillVoucher)
		r.Get("/{id}/stock", s.handleStock)
		r.Post("/{id}/seckill", s.handleSeckill)
	})

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.redis.Ping(r.Context()).Err(); err != nil {
		http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *server) handleGetShop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	sh, err := s.shops.GetShop(r.Context(), id)
	if errors.Is(err, shop.ErrNotFound) {
		writeFail(w, http.StatusNotFound, "shop not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Int64("shop_id", id).Msg("Get shop failed")
		writeFail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, http.StatusOK, sh)
}

func (s *server) handleCreateShop(w http.ResponseWriter, r *http.Request) {
	var sh store.Shop
	if err := json.NewDecoder(r.Body).Decode(&sh); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sh.Name == "" {
		writeFail(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.shops.CreateShop(r.Context(), &sh); err != nil {
		s.logger.Error().Err(err).Msg("Create shop failed")
		writeFail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, http.StatusCreated, sh.ID)
}

func (s *server) handleUpdateShop(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var sh store.Shop
	if err := json.NewDecoder(r.Body).Decode(&sh); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sh.ID = id

	err := s.shops.UpdateShop(r.Context(), &sh)
	switch {
	case err == nil:
		writeOK(w, http.StatusOK, nil)
	case errors.Is(err, shop.ErrNotFound):
		writeFail(w, http.StatusNotFound, "shop not found")
	case errors.Is(err, shop.ErrMissingID):
		writeFail(w, http.StatusBadRequest, "shop id is required")
	default:
		s.logger.Error().Err(err).Int64("shop_id", id).Msg("Update shop failed")
		writeFail(w, http.StatusInternalServerError, "internal error")
	}
}

type addVoucherRequest struct {
	ID        int64     `json:"id"`
	ShopID    int64     `json:"shop_id"`
	Title     string    `json:"title"`
	Stock     int       `json:"stock"`
	BeginTime time.Time `json:"begin_time"`
	EndTime   time.Time `json:"end_time"`
}

func (s *server) handleAddSeckillVoucher(w http.ResponseWriter, r *http.Request) {
	var req addVoucherRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFail(w, http.StatusBadRequest, "invalid request body")
		return
	}

	v := &store.Voucher{
		ID:        req.ID,
		ShopID:    req.ShopID,
		Title:     req.Title,
		Stock:     req.Stock,
		BeginTime: req.BeginTime,
		EndTime:   req.EndTime,
	}
	if err := s.seckill.AddSeckillVoucher(r.Context(), v); err != nil {
		s.logger.Warn().Err(err).Int64("voucher_id", req.ID).Msg("Add seckill voucher failed")
		writeFail(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, http.StatusCreated, v.ID)
}

func (s *server) handleStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	n, err := s.seckill.RemainingStock(r.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Int64("voucher_id", id).Msg("Read stock failed")
		writeFail(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeOK(w, http.StatusOK, n)
}

func (s *server) handleSeckill(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	buyerID, err := strconv.ParseInt(r.Header.Get(userIDHeader), 10, 64)
	if err != nil || buyerID <= 0 {
		writeFail(w, http.StatusUnauthorized, "missing or invalid "+userIDHeader)
		return
	}

	orderID, err := s.seckill.Submit(r.Context(), id, buyerID)
	var rejection *seckill.RejectionError
	switch {
	case err == nil:
		writeOK(w, http.StatusOK, orderID)
	case errors.As(err, &rejection):
		writeFail(w, http.StatusConflict, string(rejection.Reason))
	case errors.Is(err, seckill.ErrVoucherNotFound):
		writeFail(w, http.StatusNotFound, "voucher not found")
	case errors.Is(err, seckill.ErrClosed):
		writeFail(w, http.StatusServiceUnavailable, "shutting down")
	default:
		s.logger.Error().Err(err).Int64("voucher_id", id).Int64("buyer_id", buyerID).Msg("Seckill failed")
		writeFail(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeFail(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func writeOK(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, result{Success: true, Data: data})
}

func writeFail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, result{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body result) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
