package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type bucketKey struct {
	client string
	window int64
}

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter admits at most limit requests per client per fixed window.
// Expired buckets are removed by Sweep, which Run calls periodically.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = DefaultRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryLimiter{
		buckets: make(map[bucketKey]*bucket),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

func (l *MemoryLimiter) Admit(_ context.Context, clientKey string) (Decision, error) {
	now := l.now()
	idx := now.UnixNano() / int64(l.window)
	key := bucketKey{client: clientKey, window: idx}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{resetAt: time.Unix(0, (idx+1)*int64(l.window))}
		l.buckets[key] = b
	}

	d := Decision{Limit: l.limit, ResetAt: b.resetAt}
	if b.count >= l.limit {
		d.RetryAfter = max(b.resetAt.Sub(now), time.Second)
		return d, nil
	}
	b.count++
	d.Allowed = true
	d.Remaining = l.limit - b.count
	return d, nil
}

// Sweep removes buckets whose window has ended and returns how many it removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, b := range l.buckets {
		if !b.resetAt.After(now) {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				slog.Debug("rate limit buckets swept", "removed", n)
			}
		}
	}
}

// Len reports the number of live buckets.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
