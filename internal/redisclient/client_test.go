package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestClient(t *testing.T) *Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires redis")
	}

	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestIdempotencyLifecycle(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	key := "test:" + uuid.New().String()
	defer c.ReleaseIdempotencyKey(ctx, key)

	claimed, err := c.ClaimIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = c.ClaimIdempotencyKey(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed)

	_, found, err := c.IdempotentOrder(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	ttl, err := c.rdb.TTL(ctx, idempotencyKey(key)).Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Minute)

	require.NoError(t, c.CompleteIdempotencyKey(ctx, key, 42, 24*time.Hour))

	ttl, err = c.rdb.TTL(ctx, idempotencyKey(key)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour)

	orderID, found, err := c.IdempotentOrder(ctx, key)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), orderID)
}

func TestLockOwnership(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	key := "test:" + uuid.New().String()

	token, ok, err := c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a stale token does not release someone else's lock
	require.NoError(t, c.ReleaseLock(ctx, key, "not-mine"))
	_, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseLock(ctx, key, token))
	token, ok, err = c.AcquireLock(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, c.ReleaseLock(ctx, key, token))
}
