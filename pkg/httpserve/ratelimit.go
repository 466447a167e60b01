package httpserve

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token-bucket limiter per client IP, the
// per-process query-serving guard configured by rate_per_sec/rate_burst.
type RateLimiter struct {
	perSec  float64
	burst   int
	mu      sync.RWMutex
	clients map[string]*rate.Limiter
}

// NewRateLimiter builds a RateLimiter and starts its background cleanup of
// stale per-client entries.
func NewRateLimiter(perSec float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		perSec:  perSec,
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, ok := rl.clients[key]
	rl.mu.RUnlock()
	if ok {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, ok = rl.clients[key]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(rl.perSec), rl.burst)
	rl.clients[key] = limiter
	return limiter
}

// cleanup bounds the client map's growth; a production deployment would
// track per-entry last-use time, but a cap is enough for a single-process
// batch-of-clients service.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		if len(rl.clients) > 10000 {
			rl.clients = make(map[string]*rate.Limiter)
		}
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware rejects requests once the calling client's token
// bucket is exhausted.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)
			limiter := rl.getLimiter(key)
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				writeError(w, fmt.Sprintf("rate limit exceeded for %s", key), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return real
	}
	return r.RemoteAddr
}
