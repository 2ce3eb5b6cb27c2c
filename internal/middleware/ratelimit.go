package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"ai-gateway/internal/didauth"
)

// RateLimiter enforces per-minute/hour/day request budgets keyed by
// the caller's DID rather than an API key, since DID auth is the
// gateway's only identity concept.
type RateLimiter struct {
	cache     *cache.Cache
	perMinute int
	perHour   int
	perDay    int
	unkeyed   sync.Map
}

type clientLimits struct {
	minute *tokenBucket
	hour   *tokenBucket
	day    *tokenBucket
}

type tokenBucket struct {
	capacity   int
	tokens     int
	window     time.Duration
	lastRefill time.Time
	mu         sync.Mutex
}

func newTokenBucket(capacity int, window time.Duration) *tokenBucket {
	return &tokenBucket{capacity: capacity, tokens: capacity, window: window, lastRefill: time.Now()}
}

func (tb *tokenBucket) refill() {
	now := time.Now()
	if now.Sub(tb.lastRefill) >= tb.window {
		tb.tokens = tb.capacity
		tb.lastRefill = now
	}
}

func (tb *tokenBucket) tryConsume() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *tokenBucket) remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

func NewRateLimiter(perMinute, perHour, perDay int) *RateLimiter {
	return &RateLimiter{
		cache:     cache.New(1*time.Hour, 24*time.Hour),
		perMinute: perMinute,
		perHour:   perHour,
		perDay:    perDay,
	}
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, ok := didauth.FromContext(r.Context())
		if !ok {
			// Unauthenticated requests are rejected by the proxy
			// pipeline itself; rate limiting has nothing to key on.
			next.ServeHTTP(w, r)
			return
		}

		limits := rl.getOrCreateLimits(info.DID)

		if !limits.minute.tryConsume() {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Minute).Unix()))
			http.Error(w, `{"error":"rate limit exceeded (minute)"}`, http.StatusTooManyRequests)
			return
		}
		if !limits.hour.tryConsume() {
			http.Error(w, `{"error":"rate limit exceeded (hour)"}`, http.StatusTooManyRequests)
			return
		}
		if !limits.day.tryConsume() {
			http.Error(w, `{"error":"rate limit exceeded (day)"}`, http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-RateLimit-Remaining-Minute", fmt.Sprintf("%d", limits.minute.remaining()))
		w.Header().Set("X-RateLimit-Remaining-Hour", fmt.Sprintf("%d", limits.hour.remaining()))
		w.Header().Set("X-RateLimit-Remaining-Day", fmt.Sprintf("%d", limits.day.remaining()))

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) getOrCreateLimits(did string) *clientLimits {
	key := "limits:" + did
	if cached, found := rl.cache.Get(key); found {
		return cached.(*clientLimits)
	}

	limits := &clientLimits{
		minute: newTokenBucket(rl.perMinute, time.Minute),
		hour:   newTokenBucket(rl.perHour, time.Hour),
		day:    newTokenBucket(rl.perDay, 24*time.Hour),
	}
	rl.cache.Set(key, limits, 24*time.Hour)
	return limits
}

// ResetClient clears any cached bucket for a DID, e.g. after an admin
// quota override.
func (rl *RateLimiter) ResetClient(did string) {
	rl.cache.Delete("limits:" + did)
}
