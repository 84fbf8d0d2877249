// Package metrics holds the Prometheus collectors for reminder lifecycle,
// synchronization and routing activity. All methods are safe on a nil
// *Metrics so components can run without instrumentation in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "carewatch"

type Metrics struct {
	registry *prometheus.Registry

	remindersCreated *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	skipped          *prometheus.CounterVec
	publishes        *prometheus.CounterVec
	syncEvents       *prometheus.CounterVec
	routes           *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	dueScan          prometheus.Histogram
}

// New builds a Metrics instance on its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		remindersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "created_total",
			Help:      "Reminders created, by severity.",
		}, []string{"severity"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "transitions_total",
			Help:      "Committed reminder status transitions.",
		}, []string{"to", "origin"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "transitions_skipped_total",
			Help:      "Status updates that did not move the reminder forward.",
		}, []string{"origin"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "publishes_total",
			Help:      "Outbound lifecycle event publications, by sink and outcome.",
		}, []string{"sink", "outcome"}),
		syncEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Inbound lifecycle events, by result.",
		}, []string{"result"}),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions, by route and level.",
		}, []string{"route", "level"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "fallbacks_total",
			Help:      "Care messages served by the static template after the primary generator failed.",
		}, []string{"generator"}),
		dueScan: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reminders",
			Name:      "due_scan_duration_seconds",
			Help:      "Time spent in one due-reminder scan.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.remindersCreated, m.transitions, m.skipped, m.publishes,
		m.syncEvents, m.routes, m.fallbacks, m.dueScan,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ReminderCreated(severity string) {
	if m == nil {
		return
	}
	m.remindersCreated.WithLabelValues(severity).Inc()
}

func (m *Metrics) Transition(to, origin string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(to, origin).Inc()
}

func (m *Metrics) TransitionSkipped(origin string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(origin).Inc()
}

func (m *Metrics) Publish(sink string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.publishes.WithLabelValues(sink, outcome).Inc()
}

func (m *Metrics) SyncEvent(result string) {
	if m == nil {
		return
	}
	m.syncEvents.WithLabelValues(result).Inc()
}

func (m *Metrics) Route(route, level string) {
	if m == nil {
		return
	}
	m.routes.WithLabelValues(route, level).Inc()
}

func (m *Metrics) GenerationFallback(generator string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(generator).Inc()
}

func (m *Metrics) ObserveDueScan(d time.Duration) {
	if m == nil {
		return
	}
	m.dueScan.Observe(d.Seconds())
}
