package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T) Cache {
	t.Helper()

	c, err := NewRistrettoCache(&RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestSetAndGet(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	require.True(t, c.Set("key", "value", time.Minute))

	// Ristretto admits asynchronously.
	require.Eventually(t, func() bool {
		v, ok := c.Get("key")
		return ok && v == "value"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestGetMiss(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	_, ok := c.Get("absent")
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	require.True(t, c.Set("key", 42, time.Minute))
	require.Eventually(t, func() bool {
		_, ok := c.Get("key")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	c.Delete("key")
	_, ok := c.Get("key")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	t.Parallel()

	c := newTestCache(t)
	require.True(t, c.Set("key", "value", 50*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, ok := c.Get("key")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}
