package assistant

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleAfter is how long a bucket must go unused before it is dropped.
// A bucket refills completely within a minute, so a recreated one behaves the
// same as the evicted one.
const limiterIdleAfter = 2 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter hands out one token bucket per user. A nil limiter allows
// everything.
type userLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

func newUserLimiter(perMinute int) *userLimiter {
	if perMinute <= 0 {
		return nil
	}

	return &userLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *userLimiter) allow(userID string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = now

	return b.limiter.AllowN(now, 1)
}

// sweep drops idle buckets at most once per idle period.
func (l *userLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < limiterIdleAfter {
		return
	}
	l.lastSweep = now

	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) >= limiterIdleAfter {
			delete(l.buckets, id)
		}
	}
}
