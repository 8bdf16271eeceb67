// Package idgen mints 64-bit identifiers from a time segment and a Redis counter.
//
// An id is (seconds since Epoch) << 32 | counter, where counter is an INCR on
// "icr:<scope>:<yyyy:MM:dd>". The counter key changes every UTC day, so the
// counter restarts at 1 daily; ids remain unique because the time segment
// differs, but ids minted in the same second across a day boundary are not
// ordered by the counter.
package idgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Epoch is 2024-01-01T00:00:00Z in Unix seconds.
	Epoch int64 = 1704067200

	// CountBits is the width of the counter segment.
	CountBits = 32

	keyPrefix  = "icr:"
	dateLayout = "2006:01:02"
)

// ErrCounterOverflow is returned when the daily counter no longer fits in CountBits.
var ErrCounterOverflow = errors.New("sequence counter overflow")

// Generator produces sequence ids.
type Generator struct {
	redis redis.Cmdable
	now   func() time.Time
}

// New creates a Generator backed by Redis.
func New(redisClient redis.Cmdable) *Generator {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Generator{redis: redisClient, now: time.Now}
}

// WithClock returns a copy of g that reads time from now.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	cp := *g
	cp.now = now
	return &cp
}

// NextID returns the next id for scope.
func (g *Generator) NextID(ctx context.Context, scope string) (uint64, error) {
	now := g.now().UTC()
	timestamp := now.Unix() - Epoch
	if timestamp < 0 {
		return 0, fmt.Errorf("clock %s is before id epoch", now.Format(time.RFC3339))
	}

	key := CounterKey(scope, now)
	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	if count <= 0 || count >= 1<<CountBits {
		return 0, fmt.Errorf("%w: %s=%d", ErrCounterOverflow, key, count)
	}

	return uint64(timestamp)<<CountBits | uint64(count), nil
}

// CounterKey returns the Redis key holding the counter for scope on the day of t.
func CounterKey(scope string, t time.Time) string {
	return keyPrefix + scope + ":" + t.UTC().Format(dateLayout)
}

// Timestamp extracts the wall-clock second encoded in id.
func Timestamp(id uint64) time.Time {
	return time.Unix(int64(id>>CountBits)+Epoch, 0).UTC()
}

// Counter extracts the counter segment of id.
func Counter(id uint64) uint32 {
	return uint32(id & (1<<CountBits - 1))
}
