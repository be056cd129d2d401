package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// RistrettoCache is a Cache backed by ristretto.
type RistrettoCache struct {
	name   string
	cache  *ristretto.Cache
	logger *zap.Logger
}

// RistrettoConfig holds configuration for a ristretto cache.
type RistrettoConfig struct {
	Name        string // metrics label
	NumCounters int64  // keys tracked for admission, ~10x MaxCost
	MaxCost     int64  // item count, every entry costs 1
	BufferItems int64
	Logger      *zap.Logger
}

// NewRistrettoCache creates a ristretto-backed cache.
func NewRistrettoCache(cfg *RistrettoConfig) (*RistrettoCache, error) {
	numCounters := cfg.NumCounters
	if numCounters <= 0 {
		numCounters = 10_000
	}
	maxCost := cfg.MaxCost
	if maxCost <= 0 {
		maxCost = 1_000
	}
	bufferItems := cfg.BufferItems
	if bufferItems <= 0 {
		bufferItems = 64
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "default"
	}

	return &RistrettoCache{
		name:   name,
		cache:  c,
		logger: cfg.Logger,
	}, nil
}

// Get retrieves a value.
func (r *RistrettoCache) Get(key string) (any, bool) {
	value, found := r.cache.Get(key)
	result := "miss"
	if found {
		result = "hit"
	}
	LookupsTotal.WithLabelValues(r.name, result).Inc()
	return value, found
}

// Set stores a value with a TTL. Writes are applied asynchronously; call
// Wait when a subsequent Get must observe them.
func (r *RistrettoCache) Set(key string, value any, ttl time.Duration) bool {
	ok := r.cache.SetWithTTL(key, value, 1, ttl)
	if ok {
		SetsTotal.WithLabelValues(r.name).Inc()
	} else {
		r.logger.Debug("cache-set-dropped", zap.String("cache", r.name), zap.String("key", key))
	}
	return ok
}

// Delete removes a value.
func (r *RistrettoCache) Delete(key string) {
	r.cache.Del(key)
}

// Close releases the cache goroutines.
func (r *RistrettoCache) Close() {
	r.cache.Close()
	r.logger.Debug("cache-closed", zap.String("cache", r.name))
}

// Wait blocks until pending writes have been applied.
func (r *RistrettoCache) Wait() {
	r.cache.Wait()
}
