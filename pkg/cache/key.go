package cache

import "strings"

// Key prefixes used for shops.
const (
	ShopKeyPrefix  = "cache:shop:"
	ShopLockPrefix = "lock:shop:"
)

// CacheKey identifies one cached entity.
type CacheKey struct {
	// Prefix is the entity namespace, e.g. "cache:shop:"
	Prefix string

	// ID is the entity id
	ID string
}

// String returns Prefix+ID. A missing trailing colon on Prefix is added.
//
// Example:
//
//	cache:shop:42
func (k CacheKey) String() string {
	if k.Prefix == "" || strings.HasSuffix(k.Prefix, ":") {
		return k.Prefix + k.ID
	}
	return k.Prefix + ":" + k.ID
}
