package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"fireedge.io/gateway/internal/metrics"
	"fireedge.io/gateway/internal/ratelimit"
)

// RateLimiter keeps one token-bucket limiter per identifier and forgets
// identifiers whose bucket refilled completely.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	stop     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a limiter allowing rps requests per second with
// the given burst. cleanup is the sweep interval for idle identifiers.
func NewRateLimiter(rps float64, burst int, cleanup time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
		stop:     make(chan struct{}),
	}

	go rl.cleanupLoop(cleanup)

	return rl
}

func (rl *RateLimiter) getLimiter(identifier string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.limiters[identifier]
	if !exists {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[identifier] = limiter
	}

	return limiter
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for identifier, limiter := range rl.limiters {
				if limiter.Tokens() >= float64(rl.burst) {
					delete(rl.limiters, identifier)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Allow reports whether identifier may make a request now.
func (rl *RateLimiter) Allow(identifier string) bool {
	return rl.getLimiter(identifier).Allow()
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stop) })
}

// RateLimitByIP rejects clients that exceed the limiter's budget with 429.
//
// Example:
//
//	limiter := NewRateLimiter(100, 200, time.Minute)
//	router.Use(RateLimitByIP(limiter))
func RateLimitByIP(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			metrics.RateLimitRejections.WithLabelValues("ip").Inc()
			c.Header("Retry-After", "1")
			abortRateLimited(c, "Rate limit exceeded", 1)
			return
		}

		c.Next()
	}
}

// RateLimitBySession applies a per-user budget from the keyed limiter.
// It must run after RequireSession; unauthenticated requests pass through.
func RateLimitBySession(limiter *ratelimit.Limiter, limitType ratelimit.LimitType) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := GetSession(c)
		if sess == nil || limiter == nil {
			c.Next()
			return
		}

		key := ratelimit.BuildKey(sess.Username, limitType)
		allowed, retryAfter := limiter.Allow(key, limitType)
		if !allowed {
			metrics.RateLimitRejections.WithLabelValues(string(limitType)).Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			abortRateLimited(c, "Rate limit exceeded for "+string(limitType)+" requests", retryAfter)
			return
		}

		c.Next()
	}
}

func abortRateLimited(c *gin.Context, message string, retryAfter int) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error":       "rate_limit_exceeded",
		"message":     message,
		"retry_after": retryAfter,
		"request_id":  GetRequestID(c),
	})
}
