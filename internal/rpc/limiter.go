package rpc

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiters bounds the number of tracked principals before idle ones
// are pruned.
const maxLimiters = 10000

// limiterIdle is how long a principal must be quiet to be pruned.
const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiter is a token-bucket rate limiter per principal.
type limiter struct {
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	entries map[string]*limiterEntry
}

// newLimiter returns a limiter allowing rps requests per second per key
// with the given burst. A non-positive rps disables limiting (nil).
func newLimiter(rps float64, burst int) *limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &limiter{
		rate:    rate.Limit(rps),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

// allow reports whether key may make a request now.
func (l *limiter) allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= maxLimiters {
			l.pruneLocked(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (l *limiter) pruneLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdle {
			delete(l.entries, k)
		}
	}
}
