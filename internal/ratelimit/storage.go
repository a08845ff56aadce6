package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Bucket represents the token bucket of one key (client IP or user name
// combined with a limit type).
type Bucket struct {
	// Tokens is the current number of available tokens.
	Tokens float64

	// LastRefill is the timestamp of the last token refill.
	LastRefill time.Time

	// Capacity is the maximum number of tokens the bucket can hold.
	Capacity float64

	// RefillRate is the number of tokens added per second.
	RefillRate float64
}

// Storage provides thread-safe in-memory storage for rate limit buckets.
//
// Buckets live in a sync.Map keyed by BuildKey. A background goroutine wakes
// every five minutes and drops buckets that have not been refilled for an
// hour, so one-off client IPs do not accumulate. All time is read from the
// injected clock, which lets tests drive refills and cleanup.
type Storage struct {
	buckets sync.Map
	clock   clockwork.Clock
	idle    time.Duration
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewStorage creates a new rate limit storage and starts the cleanup goroutine.
//
// Parameters:
//   - clock: time source for refills and idle detection
//
// Returns:
//   - *Storage: ready to use; call Stop to end the cleanup goroutine
func NewStorage(clock clockwork.Clock) *Storage {
	s := &Storage{
		clock:  clock,
		idle:   time.Hour,
		stopCh: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.cleanupLoop(5 * time.Minute)
	return s
}

// Get retrieves a bucket by key. Returns nil if not found.
func (s *Storage) Get(key string) *Bucket {
	value, ok := s.buckets.Load(key)
	if !ok {
		return nil
	}
	bucket, _ := value.(*Bucket)
	return bucket
}

// Set stores or updates a bucket by key.
func (s *Storage) Set(key string, bucket *Bucket) {
	s.buckets.Store(key, bucket)
}

// Delete removes a bucket by key.
func (s *Storage) Delete(key string) {
	s.buckets.Delete(key)
}

// cleanupLoop runs cleanup on every tick until Stop is called.
func (s *Storage) cleanupLoop(every time.Duration) {
	defer s.wg.Done()

	ticker := s.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup removes buckets that have not been touched for s.idle.
func (s *Storage) cleanup() {
	threshold := s.clock.Now().Add(-s.idle)

	s.buckets.Range(func(key, value any) bool {
		// LastRefill moves on every Allow, so it doubles as last access
		if bucket, ok := value.(*Bucket); ok && bucket.LastRefill.Before(threshold) {
			s.buckets.Delete(key)
		}
		return true
	})
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// It must be called at most once.
func (s *Storage) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Count returns the number of buckets currently stored (for testing).
func (s *Storage) Count() int {
	count := 0
	s.buckets.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
