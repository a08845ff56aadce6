// Package metrics provides Prometheus metrics for the fireedge gateway.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the gateway's Prometheus registry.
	Registry = prometheus.NewRegistry()

	initMu      sync.Mutex
	initialized = false
)

// Init registers every collector on Registry. Calling it twice is a no-op.
func Init() error {
	initMu.Lock()
	defer initMu.Unlock()

	if initialized {
		return nil
	}

	groups := [][]prometheus.Collector{
		{
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		},
		httpCollectors(),
		upstreamCollectors(),
		businessCollectors(),
	}

	for _, group := range groups {
		for _, c := range group {
			if err := Registry.Register(c); err != nil {
				return err
			}
		}
	}

	initialized = true
	return nil
}

// MustInit initializes metrics and panics on error.
func MustInit() {
	if err := Init(); err != nil {
		panic("failed to initialize metrics: " + err.Error())
	}
}

var (
	// Logins counts login attempts by result (success, failure, rate_limited).
	Logins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fireedge_logins_total",
			Help: "Total number of console login attempts",
		},
		[]string{"result"},
	)

	// ActiveSessions is the number of unexpired sessions seen at the last prune.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fireedge_sessions_active",
			Help: "Number of unexpired console sessions",
		},
	)

	// ProvisionJobsRunning tracks running provisioning CLI jobs.
	ProvisionJobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fireedge_provision_jobs_running",
			Help: "Number of provisioning CLI jobs currently running",
		},
	)

	// ProvisionJobs counts finished provisioning jobs by kind and status.
	ProvisionJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fireedge_provision_jobs_total",
			Help: "Total number of finished provisioning CLI jobs",
		},
		[]string{"kind", "status"},
	)
)

func businessCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		Logins,
		ActiveSessions,
		ProvisionJobsRunning,
		ProvisionJobs,
	}
}
