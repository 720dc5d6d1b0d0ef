package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// pruneAfter is how long a source may stay idle before its bucket is
// dropped. Webhook senders are few, so pruning happens inline rather than
// on a background goroutine.
const pruneAfter = 10 * time.Minute

type tokenBucket struct {
	tokens float64
	seen   time.Time
}

// RateLimiter throttles request sources with one token bucket per IP.
// The PM system's webhook sender is the expected caller, so burst covers
// its delivery batches while rate caps a runaway replay loop.
type RateLimiter struct {
	mu        sync.Mutex
	sources   map[string]tokenBucket
	rate      float64
	burst     float64
	lastPrune time.Time
	now       func() time.Time
}

// NewRateLimiter allows rate requests per second with the given burst per
// source IP.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		sources: make(map[string]tokenBucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
}

// Allow reports whether a request from ip fits the budget.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.pruneLocked(now)

	b, ok := rl.sources[ip]
	if !ok {
		b = tokenBucket{tokens: rl.burst, seen: now}
	} else {
		b.tokens += now.Sub(b.seen).Seconds() * rl.rate
		if b.tokens > rl.burst {
			b.tokens = rl.burst
		}
		b.seen = now
	}

	allowed := b.tokens >= 1
	if allowed {
		b.tokens--
	}
	rl.sources[ip] = b
	return allowed
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < pruneAfter {
		return
	}
	for ip, b := range rl.sources {
		if now.Sub(b.seen) > pruneAfter {
			delete(rl.sources, ip)
		}
	}
	rl.lastPrune = now
}

// RateLimit rejects requests over the per-IP budget with 429. A Retry-After
// hint tells well-behaved webhook senders when to redeliver.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	retryAfter := strconv.Itoa(int(1/rate) + 1)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			// chi's RealIP middleware rewrites RemoteAddr from
			// X-Real-Ip upstream of this one.
			if xri := r.Header.Get("X-Real-Ip"); xri != "" {
				ip = xri
			}
			if !limiter.Allow(ip) {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
