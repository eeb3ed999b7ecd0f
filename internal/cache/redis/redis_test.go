package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	_ = godotenv.Load("../../../.env")
}

// setupClient connects to REDIS_ADDR and skips when it is unset or unreachable.
func setupClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := New(ctx, ClientConfig{Addr: addr, Password: os.Getenv("REDIS_PASSWORD"), Prefix: "test-" + uuid.NewString()[:8]})
	if err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestKeyPrefix(t *testing.T) {
	c := &Client{prefix: "swarm"}
	assert.Equal(t, "swarm:lock:trade:alpha:mint", c.key("lock", "trade:alpha:mint"))
}

func TestLockManager(t *testing.T) {
	c := setupClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.TryLock(ctx, "trade:alpha:mint", 5*time.Second)
	require.NoError(t, err)

	_, err = lm.TryLock(ctx, "trade:alpha:mint", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)

	other, err := lm.TryLock(ctx, "trade:beta:mint", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, unlock(ctx))
	require.NoError(t, unlock(ctx), "second unlock is a no-op")

	again, err := lm.TryLock(ctx, "trade:alpha:mint", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLockExpires(t *testing.T) {
	c := setupClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, err := lm.TryLock(ctx, "expiring", 100*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(250 * time.Millisecond)

	fresh, err := lm.TryLock(ctx, "expiring", 5*time.Second)
	require.NoError(t, err)

	// The expired holder must not release the new holder's lock.
	require.NoError(t, stale(ctx))
	_, err = lm.TryLock(ctx, "expiring", 5*time.Second)
	assert.ErrorIs(t, err, ErrLockHeld)
	require.NoError(t, fresh(ctx))
}

func TestSeenSet(t *testing.T) {
	c := setupClient(t)
	s := NewSeenSet(c, time.Minute)
	ctx := context.Background()

	first, err := s.MarkSeen(ctx, "mintA")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.MarkSeen(ctx, "mintA")
	require.NoError(t, err)
	assert.False(t, second)

	other, err := s.MarkSeen(ctx, "mintB")
	require.NoError(t, err)
	assert.True(t, other)
}
