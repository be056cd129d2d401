package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T) *RistrettoCache {
	t.Helper()
	c, err := NewRistrettoCache(&RistrettoConfig{
		Name:        "test",
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestRistrettoCache(t *testing.T) {
	c := newTestCache(t)

	t.Run("set-and-get", func(t *testing.T) {
		assert.True(t, c.Set("limits:acc:BTC/USDT", "10", time.Hour))
		c.Wait()

		v, ok := c.Get("limits:acc:BTC/USDT")
		require.True(t, ok)
		assert.Equal(t, "10", v)
	})

	t.Run("get-missing-key", func(t *testing.T) {
		_, ok := c.Get("nonexistent")
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		c.Set("to-delete", 1, time.Hour)
		c.Wait()
		c.Delete("to-delete")

		_, ok := c.Get("to-delete")
		assert.False(t, ok)
	})

	t.Run("ttl-expiry", func(t *testing.T) {
		c.Set("short", 1, 50*time.Millisecond)
		c.Wait()
		time.Sleep(150 * time.Millisecond)

		_, ok := c.Get("short")
		assert.False(t, ok)
	})
}

func TestNewRistrettoCache_Defaults(t *testing.T) {
	c, err := NewRistrettoCache(&RistrettoConfig{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "default", c.name)

	var _ Cache = c
}
