// Package retry implements bounded retries with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// Common errors returned by Do.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flashsale_retry_backoff_seconds",
		Help:    "Backoff duration for retries by operation",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashsale_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})
)

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first one).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// ShouldRetry decides whether an error is worth another attempt.
	// Nil retries every error.
	ShouldRetry func(error) bool
}

// DefaultConfig returns the default retry configuration: 50ms doubling up to 1s, 10 attempts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       10,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        1 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}

// Do executes fn until it succeeds, returns a non-retryable error, the context
// is cancelled or MaxAttempts is reached. Backoff grows exponentially with ±20% jitter.
//
// The exhausted error wraps both ErrRetryExhausted and the last error returned by fn.
func Do(ctx context.Context, operation string, cfg Config, fn func() error) error {
	cfg = cfg.normalized()

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				log.Debug().
					Str("operation", operation).
					Int("attempt", attempt).
					Msg("Operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			return err
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		retriesTotal.WithLabelValues(operation).Inc()

		jitter := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(operation).Observe(jitter.Seconds())

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	retryExhaustedTotal.WithLabelValues(operation).Inc()
	log.Warn().
		Str("operation", operation).
		Int("max_attempts", cfg.MaxAttempts).
		Err(lastErr).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}
