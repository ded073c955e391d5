// Package metrics exposes Prometheus collectors for portal traffic and sync
// cycles.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edupoll/edupoll/internal/syncer"
)

const namespace = "edupoll"

// Metrics owns a registry so tests and multiple daemons do not collide on
// the global one.
type Metrics struct {
	Registry *prometheus.Registry

	PortalRequests        *prometheus.CounterVec
	PortalRequestDuration *prometheus.HistogramVec
	Cycles                *prometheus.CounterVec
	CycleDuration         prometheus.Histogram
	LastSuccess           prometheus.Gauge
	BackoffUntil          prometheus.Gauge
	Lessons               *prometheus.GaugeVec
}

// New registers every collector, plus the Go runtime and process
// collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		PortalRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "portal_requests_total",
				Help:      "Outbound portal requests by method and HTTP status (0 for transport failures)",
			},
			[]string{"method", "status"},
		),
		PortalRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "portal_request_duration_seconds",
				Help:      "Latency of outbound portal requests",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
			},
			[]string{"method"},
		),
		Cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sync_cycles_total",
				Help:      "Sync cycles by outcome",
			},
			[]string{"outcome"},
		),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Wall time of sync cycles that reached the portal",
			Buckets:   prometheus.DefBuckets,
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sync_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle",
		}),
		BackoffUntil: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "captcha_backoff_until_timestamp_seconds",
			Help:      "Unix time the captcha backoff ends, 0 when inactive",
		}),
		Lessons: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "lessons",
				Help:      "Lessons published by the last successful cycle",
			},
			[]string{"day"},
		),
	}
}

// ObservePortal matches portal.Observer.
func (m *Metrics) ObservePortal(method string, status int, elapsed time.Duration) {
	m.PortalRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.PortalRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveCycle is registered with Syncer.OnCycle.
func (m *Metrics) ObserveCycle(r syncer.Result) {
	m.Cycles.WithLabelValues(string(r.Outcome)).Inc()
	if r.Outcome != syncer.OutcomeSkipped {
		m.CycleDuration.Observe(r.Duration().Seconds())
	}

	switch {
	case r.Backoff != nil && r.Backoff.Active(r.Finished):
		m.BackoffUntil.Set(float64(r.Backoff.ActiveUntil.Unix()))
	case r.Outcome == syncer.OutcomeOK:
		m.BackoffUntil.Set(0)
	}

	if r.Outcome != syncer.OutcomeOK {
		return
	}
	m.LastSuccess.Set(float64(r.Finished.Unix()))
	if r.Today != nil {
		m.Lessons.WithLabelValues("today").Set(float64(len(r.Today.Lessons)))
	}
	if r.Tomorrow != nil {
		m.Lessons.WithLabelValues("tomorrow").Set(float64(len(r.Tomorrow.Lessons)))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
