package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UpstreamCalls counts outbound calls by upstream, operation and result.
	UpstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fireedge_upstream_calls_total",
			Help: "Total number of calls to backend services",
		},
		[]string{"upstream", "operation", "result"},
	)

	// UpstreamDuration measures outbound call latency.
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fireedge_upstream_call_duration_seconds",
			Help:    "Backend call duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"upstream"},
	)

	// BreakerState is 0 closed, 1 half-open, 2 open.
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fireedge_upstream_breaker_state",
			Help: "Circuit breaker state per backend (0 closed, 1 half-open, 2 open)",
		},
		[]string{"upstream"},
	)
)

func upstreamCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		UpstreamCalls,
		UpstreamDuration,
		BreakerState,
	}
}

// ObserveUpstream records one backend call.
func ObserveUpstream(upstream, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	UpstreamCalls.WithLabelValues(upstream, operation, result).Inc()
	UpstreamDuration.WithLabelValues(upstream).Observe(time.Since(start).Seconds())
}
