package cache

import (
	"time"
)

// CacheEntry is the envelope stored under logical-expiration keys. The Redis
// key itself has no TTL; staleness is decided from ExpireTime.
type CacheEntry struct {
	// Data is the codec-encoded entity
	Data []byte `json:"data"`

	// ExpireTime is when the payload becomes stale
	ExpireTime time.Time `json:"expire_time"`
}

// IsExpired reports whether the entry is stale at now.
func (e *CacheEntry) IsExpired(now time.Time) bool {
	return now.After(e.ExpireTime)
}

// TTL returns the time until the entry becomes stale.
// Returns 0 if already stale.
func (e *CacheEntry) TTL(now time.Time) time.Duration {
	ttl := e.ExpireTime.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
