// Package upstream holds the outbound plumbing shared by the backend
// clients: a retrying HTTP client and a per-backend circuit breaker.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"fireedge.io/gateway/internal/logging"
	"fireedge.io/gateway/internal/metrics"
	"fireedge.io/gateway/models"
)

// BreakerSettings tunes a Breaker. Zero values take defaults.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker. Default 5.
	ConsecutiveFailures uint32

	// OpenTimeout is how long the breaker stays open. Default 30s.
	OpenTimeout time.Duration
}

// Breaker guards calls to one backend.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker for the named backend.
func NewBreaker(name string, settings BreakerSettings, logger *zap.Logger) *Breaker {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout == 0 {
		settings.OpenTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	threshold := settings.ConsecutiveFailures
	metrics.BreakerState.WithLabelValues(name).Set(0)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String(logging.FieldUpstream, name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Breaker{name: name, cb: cb}
}

// Name returns the backend name.
func (b *Breaker) Name() string {
	return b.name
}

// Open reports whether calls are currently rejected.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the breaker state as text (closed, half-open, open).
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Do runs fn through the breaker and records metrics under operation.
// A rejected call returns an error wrapping models.ErrUpstreamUnavailable.
func (b *Breaker) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	start := time.Now()

	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: %s: %v", models.ErrUpstreamUnavailable, b.name, err)
	}

	observe(b.name, operation, start, err)
	return err
}

// isSuccessful decides what counts against the breaker: only transport
// failures and backend 5xx answers do. A cancelled client request does not.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	if ue, ok := models.AsUpstream(err); ok {
		return ue.Status < http.StatusInternalServerError
	}
	return false
}

func observe(upstream, operation string, start time.Time, err error) {
	metrics.ObserveUpstream(upstream, operation, start, err)
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	}
	return 0
}
