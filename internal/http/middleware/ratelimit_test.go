package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func limiterAt(rate float64, burst int) (*RateLimiter, *time.Time) {
	rl := NewRateLimiter(rate, burst)
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiterBurstThenRefill(t *testing.T) {
	rl, now := limiterAt(1, 2)

	if !rl.Allow("10.0.0.1") || !rl.Allow("10.0.0.1") {
		t.Fatal("burst requests should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("expected rejection once the burst is spent")
	}

	*now = now.Add(time.Second)
	if !rl.Allow("10.0.0.1") {
		t.Fatal("expected a token after one second at 1 req/s")
	}
}

func TestRateLimiterIsolatesSources(t *testing.T) {
	rl, _ := limiterAt(1, 1)

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first source should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Fatal("first source should now be throttled")
	}
	if !rl.Allow("10.0.0.2") {
		t.Fatal("a different source has its own bucket")
	}
}

func TestRateLimiterPrunesIdleSources(t *testing.T) {
	rl, now := limiterAt(1, 1)

	rl.Allow("10.0.0.1")
	*now = now.Add(pruneAfter + time.Minute)
	rl.Allow("10.0.0.2")

	rl.mu.Lock()
	_, stale := rl.sources["10.0.0.1"]
	rl.mu.Unlock()
	if stale {
		t.Fatal("idle source should have been pruned")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimit(100, 1)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/pms", nil)
	req.Header.Set("X-Real-Ip", "203.0.113.9")

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want %d", first.Code, http.StatusOK)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want %d", second.Code, http.StatusTooManyRequests)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After on a throttled response")
	}
}
