package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ──────────────────────────────────────────────────────────────────────
// Per-IP Rate Limiter
//
// Each IP gets its own golang.org/x/time/rate.Limiter with a configurable
// refill rate and burst capacity. When a request can't take a token it
// receives HTTP 429 with a Retry-After header.
//
// A background goroutine cleans up limiters idle for more than
// cleanupIdleDuration to prevent unbounded memory growth from transient IPs.
// ──────────────────────────────────────────────────────────────────────

const cleanupIdleDuration = 10 * time.Minute

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds per-IP state.
type RateLimiter struct {
	rate  rate.Limit
	burst int
	mu    sync.Mutex
	ips   map[string]*ipLimiter
}

// NewRateLimiter creates a rate limiter allowing `ratePerMin` requests per
// minute per IP, with a burst capacity of `burst` requests.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	rl := &RateLimiter{
		rate:  rate.Limit(float64(ratePerMin) / 60.0),
		burst: burst,
		ips:   make(map[string]*ipLimiter),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) get(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	entry, ok := rl.ips[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.ips[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// Middleware returns a Gin handler that enforces the rate limit.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := rl.get(c.ClientIP())
		res := limiter.Reserve()
		if !res.OK() || res.Delay() > 0 {
			res.Cancel()
			retryAfter := res.Delay()
			c.Header("Retry-After", retryAfter.String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"retryAfter": retryAfter.String(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// cleanupLoop removes stale per-IP limiters every cleanupIdleDuration.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-cleanupIdleDuration)
		rl.mu.Lock()
		for ip, entry := range rl.ips {
			if entry.lastSeen.Before(cutoff) {
				delete(rl.ips, ip)
			}
		}
		rl.mu.Unlock()
	}
}
