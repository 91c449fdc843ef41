package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked client keys so callers
	// rotating source IPs cannot grow the map without bound.
	maxTrackedKeys = 4096

	// staleAfter drops limiters that have been idle this long.
	staleAfter = 2 * time.Minute
)

type rateLimitEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a token bucket per client key with a bounded key set.
// Safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	limit   rate.Limit
	burst   int
	enabled bool
	now     func() time.Time
}

// NewRateLimiter allows rpm requests per minute per key with the given burst.
// rpm <= 0 disables limiting.
func NewRateLimiter(rpm, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		entries: make(map[string]*rateLimitEntry),
		limit:   rate.Limit(float64(rpm) / 60),
		burst:   burst,
		enabled: rpm > 0,
		now:     time.Now,
	}
}

// Enabled reports whether limiting is active.
func (r *RateLimiter) Enabled() bool { return r.enabled }

// Allow returns true if key is within its rate.
func (r *RateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.lastSeen) >= staleAfter {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok {
		e = &rateLimitEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}
