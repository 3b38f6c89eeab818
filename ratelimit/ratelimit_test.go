package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/baum777/reasongate/kv"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLimiter(limit int, window time.Duration) (*Limiter, *clock) {
	c := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := kv.NewMemory(kv.WithClock(c.Now))
	return New(store, limit, window, WithClock(c.Now)), c
}

func TestCheck_AllowsUpToMaxThenRejects(t *testing.T) {
	l, _ := newLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
	}

	d, err := l.Check(ctx, "user:1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "rate limit exceeded")
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestCheck_RetryAfterCountsDownToWindowReset(t *testing.T) {
	l, c := newLimiter(1, time.Minute)
	ctx := context.Background()

	_, err := l.Check(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	c.Advance(40 * time.Second)

	d, err := l.Check(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 20*time.Second, d.RetryAfter)
}

func TestCheck_WindowResets(t *testing.T) {
	l, c := newLimiter(2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "user:1")
		require.NoError(t, err)
	}
	c.Advance(time.Minute)

	d, err := l.Check(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheck_KeysAreIndependent(t *testing.T) {
	l, _ := newLimiter(1, time.Minute)
	ctx := context.Background()

	d, err := l.Check(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = l.Check(ctx, "user:2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheck_ConcurrentCallersNeverExceedMax(t *testing.T) {
	l, _ := newLimiter(10, time.Minute)
	ctx := context.Background()

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, "user:burst")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(10), allowed.Load())
}

func TestCheck_AllowedCountMatchesWindowBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		limit := rapid.IntRange(1, 20).Draw(t, "limit")
		n := rapid.IntRange(0, 60).Draw(t, "requests")
		l, _ := newLimiter(limit, time.Minute)

		allowed := 0
		for i := 0; i < n; i++ {
			d, err := l.Check(context.Background(), "k")
			if err != nil {
				t.Fatal(err)
			}
			if d.Allowed {
				allowed++
			}
		}
		want := n
		if want > limit {
			want = limit
		}
		if allowed != want {
			t.Fatalf("allowed %d of %d with limit %d", allowed, n, limit)
		}
	})
}
