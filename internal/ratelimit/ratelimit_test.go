package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMemoryLimiter_AllowsUpToLimit(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(5, time.Hour)
	l.now = clock.Now
	ctx := context.Background()

	for i := range 5 {
		ok, err := l.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok, "event %d", i+1)
	}
	ok, _ := l.Allow(ctx, "k")
	assert.False(t, ok, "sixth event in the window is refused")

	other, _ := l.Allow(ctx, "other")
	assert.True(t, other, "keys are independent")
}

func TestMemoryLimiter_Refills(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(2, time.Hour)
	l.now = clock.Now
	ctx := context.Background()

	l.Allow(ctx, "k")
	l.Allow(ctx, "k")
	ok, _ := l.Allow(ctx, "k")
	require.False(t, ok)

	// one token every 30 minutes
	clock.Advance(30 * time.Minute)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryLimiter_PrunesIdleKeys(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(1, time.Minute)
	l.now = clock.Now
	ctx := context.Background()

	for i := range maxIdleEntries {
		l.Allow(ctx, fmt.Sprintf("k%d", i))
	}
	require.Len(t, l.entries, maxIdleEntries)

	clock.Advance(2 * time.Minute)
	l.Allow(ctx, "fresh")
	assert.Len(t, l.entries, 1)
}

func TestRedisLimiter_WindowKey(t *testing.T) {
	l := NewRedisLimiter(nil, 5, time.Hour)
	l.now = func() time.Time { return time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC) }
	a := l.windowKey("ip:1.2.3.4")

	l.now = func() time.Time { return time.Date(2026, 1, 1, 10, 59, 59, 0, time.UTC) }
	assert.Equal(t, a, l.windowKey("ip:1.2.3.4"), "same hour, same bucket")

	l.now = func() time.Time { return time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC) }
	assert.NotEqual(t, a, l.windowKey("ip:1.2.3.4"))
	assert.Contains(t, a, "proust:ratelimit:ip:1.2.3.4:")
}

// newRedis starts an in-memory Redis server for the test.
func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLimiter_CountsPerKey(t *testing.T) {
	mr, client := newRedis(t)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)}
	l := NewRedisLimiter(client, 3, time.Hour)
	l.now = clock.Now
	ctx := context.Background()

	for i := range 3 {
		ok, err := l.Allow(ctx, "email:abc")
		require.NoError(t, err)
		assert.True(t, ok, "event %d", i+1)
	}
	ok, err := l.Allow(ctx, "email:abc")
	require.NoError(t, err)
	assert.False(t, ok, "fourth event in the window is refused")

	other, err := l.Allow(ctx, "ip:192.0.2.1")
	require.NoError(t, err)
	assert.True(t, other, "keys are independent")

	key := l.windowKey("email:abc")
	count, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "4", count, "refused events are still counted")
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestRedisLimiter_NewWindowStartsOver(t *testing.T) {
	_, client := newRedis(t)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)}
	l := NewRedisLimiter(client, 1, time.Hour)
	l.now = clock.Now
	ctx := context.Background()

	ok, _ := l.Allow(ctx, "k")
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "k")
	require.False(t, ok)

	clock.Advance(45 * time.Minute)
	ok, _ = l.Allow(ctx, "k")
	assert.True(t, ok, "11:00 starts a new window")
}

func TestRedisLimiter_CountersExpire(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLimiter(client, 1, time.Hour)
	l.now = (&fakeClock{t: time.Date(2026, 1, 1, 10, 15, 0, 0, time.UTC)}).Now
	ctx := context.Background()

	_, err := l.Allow(ctx, "k")
	require.NoError(t, err)
	key := l.windowKey("k")
	require.True(t, mr.Exists(key))

	mr.FastForward(time.Hour)
	assert.False(t, mr.Exists(key))
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	l := NewRedisLimiter(client, 1, time.Hour)
	ok, err := l.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.True(t, ok)
}
