package server

import (
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// RateLimiterConfig sets the per-identity token bucket.
type RateLimiterConfig struct {
	RequestsPerMinute int
	Burst             int
	Clock             func() time.Time
}

type identityLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter keeps one token bucket per authenticated identity.
type RateLimiter struct {
	limit     rate.Limit
	burst     int
	clock     func() time.Time
	mu        sync.Mutex
	limiters  map[string]*identityLimiter
	lastPrune time.Time
}

// NewRateLimiter constructs a limiter; non-positive values disable limiting.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RateLimiter{
		limit:    limit,
		burst:    burst,
		clock:    clock,
		limiters: make(map[string]*identityLimiter),
	}
}

// Allow consumes one token from the identity's bucket.
func (rl *RateLimiter) Allow(identityID string) bool {
	now := rl.clock()

	rl.mu.Lock()
	entry, ok := rl.limiters[identityID]
	if !ok {
		entry = &identityLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[identityID] = entry
	}
	entry.lastAccess = now
	rl.pruneLocked(now)
	rl.mu.Unlock()

	return entry.limiter.AllowN(now, 1)
}

// RetryAfter is the whole number of seconds until one token is refilled.
func (rl *RateLimiter) RetryAfter() string {
	if rl.limit == rate.Inf || rl.limit <= 0 {
		return "1"
	}
	seconds := int(math.Ceil(1.0 / float64(rl.limit)))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

// Size reports how many identities currently hold a bucket.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < limiterIdleTTL {
		return
	}
	rl.lastPrune = now
	for identityID, entry := range rl.limiters {
		if now.Sub(entry.lastAccess) > limiterIdleTTL {
			delete(rl.limiters, identityID)
		}
	}
}
