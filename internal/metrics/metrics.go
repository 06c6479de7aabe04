// Package metrics exposes optimusd's request pipeline as Prometheus
// metrics, grounded on the pack's promauto-registered singleton pattern
// for domain counters/histograms/gauges.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Daemon holds every counter/histogram/gauge the request pipeline feeds.
type Daemon struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	TaskFailuresTotal    *prometheus.CounterVec
	ProfilesCached       prometheus.Gauge
	ProcessesWatched     prometheus.Gauge
}

var (
	instance *Daemon
	once     sync.Once
)

// Get returns the process-wide singleton, registering its metrics with
// the default registry on first call.
func Get() *Daemon {
	once.Do(func() {
		instance = &Daemon{
			RequestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "optimusd_requests_total",
					Help: "Total optimization requests handled, by outcome.",
				},
				[]string{"outcome"}, // accepted, no_profile, process_gone
			),
			RequestDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "optimusd_request_duration_seconds",
					Help:    "Time to fully process an optimization request.",
					Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
				},
				[]string{"kind"}, // process, self
			),
			TaskFailuresTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "optimusd_task_failures_total",
					Help: "Task run failures, by task phase (environment or process).",
				},
				[]string{"task"},
			),
			ProfilesCached: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "optimusd_profiles_cached",
				Help: "Number of profiles currently held in the profile cache.",
			}),
			ProcessesWatched: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "optimusd_processes_watched",
				Help: "Number of optimized processes currently under watch.",
			}),
		}
	})
	return instance
}

// Handler returns the promhttp handler; ingress mounts it as GET /metrics
// on the request listener.
func Handler() http.Handler {
	return promhttp.Handler()
}
