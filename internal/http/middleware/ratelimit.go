package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
)

// RateLimiter hands out one token bucket per key (integration id or client IP).
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

const maxLimiterKeys = 4096

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests per key with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether a request for key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	entry, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= maxLimiterKeys {
			rl.evictLocked(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	rl.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// Evict drops buckets idle for longer than the idle TTL and returns how many were removed.
func (rl *RateLimiter) Evict() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.evictLocked(rl.now())
}

func (rl *RateLimiter) evictLocked(now time.Time) int {
	cutoff := now.Add(-rl.idleTTL)
	removed := 0
	for key, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, key)
			removed++
		}
	}
	return removed
}

// RateLimit rejects requests over the limit with 429. Requests are keyed by the
// integration id when the route has one so a single practice cannot starve the rest.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := chi.URLParam(r, "integrationID")
			if key == "" {
				key = r.RemoteAddr
				// Prefer X-Real-Ip set by chi's RealIP middleware.
				if xri := r.Header.Get("X-Real-Ip"); xri != "" {
					key = xri
				}
			}
			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
