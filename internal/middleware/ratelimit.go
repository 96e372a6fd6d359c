package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RealIP extracts the client address. Terminals normally talk to each other
// directly, but a store router may proxy and set X-Forwarded-For.
func RealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First hop in the chain is the originating terminal.
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type bucket struct {
	hits    int
	resetAt time.Time
}

// RateLimiter counts hits per key in fixed windows. It exists to absorb
// reconnect storms: a peer terminal with a flaky link will redial the sync
// socket in a tight loop, and each accept costs a goroutine.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*bucket
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{entries: make(map[string]*bucket)}
}

// Allow reports whether key is still under limit for the current window.
func (rl *RateLimiter) Allow(key string, limit int, window time.Duration) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.entries[key]
	if !ok || now.After(b.resetAt) {
		rl.entries[key] = &bucket{hits: 1, resetAt: now.Add(window)}
		return true
	}
	b.hits++
	return b.hits <= limit
}

// Cleanup drops buckets whose window has passed. The scheduler runs this
// periodically so a day of peer churn does not accumulate dead keys.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, b := range rl.entries {
		if now.After(b.resetAt) {
			delete(rl.entries, key)
		}
	}
}

// RateLimit returns middleware that answers 429 once keyFunc's key is over
// its limit for the window.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(keyFunc(r), limit, window) {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
