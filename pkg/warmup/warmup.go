// Package warmup pre-loads logical-expiry cache entries for many ids in parallel
// before a sale opens.
package warmup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds batch warmer configuration
type Config struct {
	// MaxConcurrency is the maximum number of ids warmed at once
	MaxConcurrency int
	// Timeout per id
	Timeout time.Duration
	// Logger defaults to the global zerolog logger
	Logger *zerolog.Logger
}

// DefaultConfig returns the defaults used by the server at startup.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		Timeout:        5 * time.Second,
	}
}

// Warmer loads one entity from the durable store into the cache.
// *shop.Service implements it.
type Warmer interface {
	Warm(ctx context.Context, id int64) error
}

// Result summarizes a batch.
type Result struct {
	Warmed int
	// Failed maps ids that could not be warmed to their error
	Failed map[int64]error
}

// BatchWarmer warms ids with a fixed worker pool.
type BatchWarmer struct {
	warmer Warmer
	config Config
	logger zerolog.Logger
}

// NewBatchWarmer creates a new batch warmer
func NewBatchWarmer(warmer Warmer, config Config) *BatchWarmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}

	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &BatchWarmer{
		warmer: warmer,
		config: config,
		logger: logger,
	}
}

// WarmAll warms every id and keeps going past individual failures. The error is
// non-nil when ctx ended before every id was attempted or any id failed.
func (bw *BatchWarmer) WarmAll(ctx context.Context, ids []int64) (Result, error) {
	start := time.Now()
	res := Result{Failed: make(map[int64]error)}
	if len(ids) == 0 {
		return res, nil
	}

	queue := make(chan int64, len(ids))
	for _, id := range ids {
		queue <- id
	}
	close(queue)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	workers := min(bw.config.MaxConcurrency, len(ids))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			bw.worker(ctx, workerID, queue, func(id int64, err error) {
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failed[id] = err
					return
				}
				res.Warmed++
			})
		}(i)
	}
	wg.Wait()

	bw.logger.Info().
		Int("warmed", res.Warmed).
		Int("failed", len(res.Failed)).
		Int("total", len(ids)).
		Dur("duration", time.Since(start)).
		Msg("Cache warm-up complete")

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("warm-up interrupted (%d/%d warmed): %w", res.Warmed, len(ids), err)
	}
	if len(res.Failed) > 0 {
		return res, fmt.Errorf("warm-up failed for %d of %d ids", len(res.Failed), len(ids))
	}
	return res, nil
}

func (bw *BatchWarmer) worker(ctx context.Context, workerID int, queue <-chan int64, done func(int64, error)) {
	processed := 0
	for id := range queue {
		select {
		case <-ctx.Done():
			bw.logger.Debug().
				Int("worker_id", workerID).
				Int("processed", processed).
				Msg("Worker stopping (context cancelled)")
			return
		default:
		}

		idCtx, cancel := context.WithTimeout(ctx, bw.config.Timeout)
		err := bw.warmer.Warm(idCtx, id)
		cancel()

		if err != nil {
			bw.logger.Warn().Err(err).Int("worker_id", workerID).Int64("id", id).Msg("Warm-up failed")
		}
		done(id, err)
		processed++
	}
}
