// Package ratelimit throttles magic-link requests per key (hashed email or
// client IP).
//
// Two implementations exist: RedisLimiter shares counters between instances,
// MemoryLimiter keeps them in-process and is used when no Redis is configured.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more event for key is allowed.
//
// A non-nil error means the decision could not be made; allowed is then true
// so callers fail open.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, err error)
}

// =========================================================================
// REDIS
// =========================================================================

// RedisLimiter is a fixed-window counter: INCR on a key that expires with the
// window.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewRedisLimiter allows limit events per window for each key.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: "proust:ratelimit:",
		now:    time.Now,
	}
}

func (l *RedisLimiter) windowKey(key string) string {
	bucket := l.now().UnixNano() / int64(l.window)
	return l.prefix + key + ":" + strconv.FormatInt(bucket, 10)
}

// Allow increments the counter for the current window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.windowKey(key)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return true, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return incr.Val() <= int64(l.limit), nil
}

// =========================================================================
// IN-PROCESS
// =========================================================================

// maxIdleEntries bounds the limiter map before idle entries are pruned.
const maxIdleEntries = 10000

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps a token bucket per key. It refills at limit/window and
// allows bursts of up to limit.
type MemoryLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	every   rate.Limit
	burst   int
	window  time.Duration
	now     func() time.Time
}

// NewMemoryLimiter allows limit events per window for each key.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit < 1 {
		limit = 1
	}
	return &MemoryLimiter{
		entries: make(map[string]*entry),
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow never returns an error.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxIdleEntries {
			l.prune(now)
		}
		e = &entry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1), nil
}

// prune drops keys idle for a full window; their buckets are full again.
func (l *MemoryLimiter) prune(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) >= l.window {
			delete(l.entries, k)
		}
	}
}
