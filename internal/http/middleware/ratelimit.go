package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// RateLimiter applies a token bucket per client key. The booking endpoints
// are reachable without a patient token and a single availability view fans
// out into seven upstream reads, so unauthenticated clients need a cap on
// how fast they can make the gateway hit the remote API.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*tokenBucket
	rate    float64
	burst   float64
	now     func() time.Time
}

type tokenBucket struct {
	tokens     float64
	refilledAt time.Time
}

// NewRateLimiter allows rate requests/sec with the given burst per client key
// and evicts idle clients in the background.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*tokenBucket),
		rate:    rate,
		burst:   float64(burst),
		now:     time.Now,
	}
	go rl.janitor()
	return rl
}

// Allow reports whether a request from the given client key fits the limit,
// consuming one token when it does.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.clients[key]
	if !ok {
		b = &tokenBucket{tokens: rl.burst, refilledAt: now}
		rl.clients[key] = b
	}

	b.tokens += now.Sub(b.refilledAt).Seconds() * rl.rate
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.refilledAt = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// evictIdle drops buckets whose last request is older than the cutoff and
// returns how many were removed. An evicted client simply starts over with a
// full burst.
func (rl *RateLimiter) evictIdle(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for key, b := range rl.clients {
		if b.refilledAt.Before(cutoff) {
			delete(rl.clients, key)
			evicted++
		}
	}
	return evicted
}

func (rl *RateLimiter) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.evictIdle(rl.now().Add(-10 * time.Minute))
	}
}

// RateLimit rejects requests above the configured per-IP rate with 429.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.RemoteAddr
			// RealIP runs earlier in the chain and rewrites RemoteAddr from
			// X-Real-Ip / X-Forwarded-For, so RemoteAddr is already the
			// client address.
			if !limiter.Allow(ip) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(map[string]string{"detail": "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
