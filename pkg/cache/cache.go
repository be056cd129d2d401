// Package cache holds short-lived exchange metadata such as per-market order
// limits, so the live client can keep serving them when the adapter omits them.
package cache

import "time"

// Cache is a TTL key/value cache.
type Cache interface {
	// Get returns (value, true) when key is present and not expired.
	Get(key string) (any, bool)

	// Set stores value under key for ttl. A zero ttl never expires.
	Set(key string, value any, ttl time.Duration) bool

	Delete(key string)

	Close()
}
