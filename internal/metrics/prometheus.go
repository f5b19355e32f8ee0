// Package metrics wraps the Prometheus collectors this system exposes,
// following this codebase's pattern of a package-level registry behind
// package functions rather than a passed-around struct.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the collectors for this system's execution pipeline.
type Metrics struct {
	registry *prometheus.Registry

	callsTotal     *prometheus.CounterVec
	callDuration   *prometheus.HistogramVec
	bundleBuilds   *prometheus.CounterVec
	bundleCacheHit prometheus.Counter
	gatesActive    prometheus.Gauge
	gateRedials    *prometheus.CounterVec
	fanoutInFlight prometheus.Gauge
	policyDenies   *prometheus.CounterVec
	uptime         prometheus.GaugeFunc
}

var (
	m         *Metrics
	startTime = time.Unix(0, 0)
)

var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// Init initializes the Prometheus metrics subsystem for the given
// namespace. Call once at process start; subsequent calls are ignored.
func Init(namespace string, start time.Time) {
	if m != nil {
		return
	}
	startTime = start

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &Metrics{
		registry: registry,

		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of module calls by module and outcome",
		}, []string{"module", "outcome"}),

		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_milliseconds",
			Help:      "Duration of module calls in milliseconds",
			Buckets:   defaultBuckets,
		}, []string{"module"}),

		bundleBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_builds_total",
			Help:      "Total bundle builds by result",
		}, []string{"result"}),

		bundleCacheHit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundle_cache_hits_total",
			Help:      "Total bundle cache hits",
		}),

		gatesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gates_active",
			Help:      "Number of currently live gate connections",
		}),

		gateRedials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_redials_total",
			Help:      "Total gate reconnect attempts by host",
		}, []string{"host"}),

		fanoutInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fanout_inflight_hosts",
			Help:      "Number of hosts currently executing within a fan-out run",
		}),

		policyDenies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_denies_total",
			Help:      "Total calls denied by policy, by module",
		}, []string{"module"}),
	}

	pm.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Time since process start",
	}, func() float64 {
		return time.Since(startTime).Seconds()
	})

	registry.MustRegister(
		pm.callsTotal,
		pm.callDuration,
		pm.bundleBuilds,
		pm.bundleCacheHit,
		pm.gatesActive,
		pm.gateRedials,
		pm.fanoutInFlight,
		pm.policyDenies,
		pm.uptime,
	)

	m = pm
}

// RecordCall records the outcome and latency of one module call.
func RecordCall(module, outcome string, durationMs int64) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(module, outcome).Inc()
	m.callDuration.WithLabelValues(module).Observe(float64(durationMs))
}

// RecordBundleBuild records a bundle build attempt.
func RecordBundleBuild(result string) {
	if m == nil {
		return
	}
	m.bundleBuilds.WithLabelValues(result).Inc()
}

// RecordBundleCacheHit records a bundle cache hit.
func RecordBundleCacheHit() {
	if m == nil {
		return
	}
	m.bundleCacheHit.Inc()
}

// SetGatesActive sets the live gate-connection gauge.
func SetGatesActive(n int) {
	if m == nil {
		return
	}
	m.gatesActive.Set(float64(n))
}

// RecordGateRedial records a reconnect attempt for a host's gate.
func RecordGateRedial(host string) {
	if m == nil {
		return
	}
	m.gateRedials.WithLabelValues(host).Inc()
}

// SetFanoutInFlight sets the in-flight host count for a fan-out run.
func SetFanoutInFlight(n int) {
	if m == nil {
		return
	}
	m.fanoutInFlight.Set(float64(n))
}

// RecordPolicyDeny records a call denied by policy.
func RecordPolicyDeny(module string) {
	if m == nil {
		return
	}
	m.policyDenies.WithLabelValues(module).Inc()
}

// Handler returns an HTTP handler for Prometheus scraping.
func Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
