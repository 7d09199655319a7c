// Package logic holds middleware with internal state of its own.
package logic

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/zerovault/api/src/config"
)

// RateLimiter throttles requests per client IP with a token bucket.
// Inactive IPs are evicted on a TTL so the map cannot grow unbounded.
type RateLimiter struct {
	limiters map[string]*limiterEntry
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	ttl      time.Duration
}

type limiterEntry struct {
	limiter        *rate.Limiter
	lastAccessUnix int64
}

// NewRateLimiter creates a rate limiter from RATE_LIMIT_PER_MIN and starts
// its background eviction loop.
func NewRateLimiter(cfg *config.Config) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(float64(cfg.RateLimitPerMin) / 60.0),
		burst:    cfg.RateLimitPerMin,
		ttl:      10 * time.Minute,
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) getLimiter(ip string) *rate.Limiter {
	now := time.Now()

	rl.mu.RLock()
	entry, exists := rl.limiters[ip]
	if exists {
		atomic.StoreInt64(&entry.lastAccessUnix, now.Unix())
		limiter := entry.limiter
		rl.mu.RUnlock()
		return limiter
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring the write lock
	if entry, exists := rl.limiters[ip]; exists {
		atomic.StoreInt64(&entry.lastAccessUnix, now.Unix())
		return entry.limiter
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[ip] = &limiterEntry{
		limiter:        limiter,
		lastAccessUnix: now.Unix(),
	}

	return limiter
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.cleanup()
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, entry := range rl.limiters {
		lastAccess := time.Unix(atomic.LoadInt64(&entry.lastAccessUnix), 0)
		if now.Sub(lastAccess) > rl.ttl {
			delete(rl.limiters, ip)
		}
	}
}

// Middleware returns the gin handler enforcing the per-IP limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.getLimiter(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code":    "rate_limit_exceeded",
					"message": "Too many requests. Try again in 1 minute.",
				},
			})
			return
		}

		c.Next()
	}
}
