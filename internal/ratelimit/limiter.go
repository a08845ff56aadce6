// Package ratelimit implements keyed token-bucket limits for login failures,
// per-user API traffic and provision job creation.
package ratelimit

import (
	"fmt"
	"math"
	"sync"

	"github.com/jonboulle/clockwork"
)

// LimitType selects which bucket size applies to a key.
type LimitType string

const (
	// LimitTypeAuthFailure counts failed logins per client IP.
	LimitTypeAuthFailure LimitType = "auth_failure"

	// LimitTypeRequest covers authenticated API requests per user.
	LimitTypeRequest LimitType = "request"

	// LimitTypeProvision covers asynchronous provision job creation per user.
	LimitTypeProvision LimitType = "provision"
)

// Config holds per-minute budgets for each limit type.
type Config struct {
	AuthFailuresPerMin int
	RequestsPerMin     int
	ProvisionsPerMin   int
}

// DefaultConfig returns the default budgets.
func DefaultConfig() Config {
	return Config{
		AuthFailuresPerMin: 10,
		RequestsPerMin:     600,
		ProvisionsPerMin:   5,
	}
}

// Limiter applies token-bucket limits keyed by BuildKey.
type Limiter struct {
	storage *Storage
	config  Config
	clock   clockwork.Clock
	mu      sync.Mutex
}

// NewLimiter creates a limiter backed by in-memory storage.
func NewLimiter(config Config, clock clockwork.Clock) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Limiter{
		storage: NewStorage(clock),
		config:  config,
		clock:   clock,
	}
}

// Allow consumes one token for key. When none is available it returns
// false and the number of seconds until one will be.
func (l *Limiter) Allow(key string, limitType LimitType) (allowed bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.refill(key, limitType)
	if bucket.Tokens >= 1.0 {
		bucket.Tokens -= 1.0
		return true, 0
	}
	return false, retryAfterFor(bucket)
}

// Exhausted reports whether key has no token left, without consuming one.
func (l *Limiter) Exhausted(key string, limitType LimitType) (exhausted bool, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.refill(key, limitType)
	if bucket.Tokens >= 1.0 {
		return false, 0
	}
	return true, retryAfterFor(bucket)
}

// Reset forgets key, restoring a full bucket.
func (l *Limiter) Reset(key string) {
	l.storage.Delete(key)
}

func (l *Limiter) refill(key string, limitType LimitType) *Bucket {
	now := l.clock.Now()

	bucket := l.storage.Get(key)
	if bucket == nil {
		bucket = l.createBucket(limitType)
		l.storage.Set(key, bucket)
		return bucket
	}

	elapsed := now.Sub(bucket.LastRefill).Seconds()
	bucket.Tokens = math.Min(bucket.Capacity, bucket.Tokens+elapsed*bucket.RefillRate)
	bucket.LastRefill = now
	return bucket
}

func retryAfterFor(bucket *Bucket) int {
	if bucket.Capacity <= 0 {
		return 60
	}
	// Capacity tokens refill per minute; the epsilon absorbs float noise.
	seconds := int(math.Ceil((1.0-bucket.Tokens)*60/bucket.Capacity - 1e-9))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func (l *Limiter) createBucket(limitType LimitType) *Bucket {
	var perMin int
	switch limitType {
	case LimitTypeAuthFailure:
		perMin = l.config.AuthFailuresPerMin
	case LimitTypeProvision:
		perMin = l.config.ProvisionsPerMin
	default:
		perMin = l.config.RequestsPerMin
	}

	capacity := float64(perMin)
	return &Bucket{
		Tokens:     capacity,
		LastRefill: l.clock.Now(),
		Capacity:   capacity,
		RefillRate: capacity / 60.0,
	}
}

// BuildKey creates a rate limit key from identifier and limit type.
func BuildKey(identifier string, limitType LimitType) string {
	return fmt.Sprintf("%s:%s", limitType, identifier)
}

// Stop releases the storage cleanup goroutine.
func (l *Limiter) Stop() {
	l.storage.Stop()
}

// Storage exposes the bucket storage for monitoring.
func (l *Limiter) Storage() *Storage {
	return l.storage
}
