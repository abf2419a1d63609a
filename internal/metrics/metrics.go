// Package metrics holds the router's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route decision sources.
const (
	SourceClassifier = "classifier"
	SourceDefault    = "default"
	SourceSticky     = "sticky"
)

type Metrics struct {
	registry            *prometheus.Registry
	routeDecisions      *prometheus.CounterVec
	handlerDuration     *prometheus.HistogramVec
	persistenceFailures *prometheus.CounterVec
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		routeDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "router_route_decisions_total",
			Help: "Route decisions by variant, route and how the route was chosen.",
		}, []string{"variant", "route", "source"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "handler_duration_seconds",
			Help:    "Handler invocation latency by route.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"route"}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "persistence_failures_total",
			Help: "Failed persistence operations by operation name.",
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.routeDecisions,
		m.handlerDuration,
		m.persistenceFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RouteDecision(variant, route, source string) {
	if m == nil {
		return
	}
	m.routeDecisions.WithLabelValues(variant, route, source).Inc()
}

func (m *Metrics) ObserveHandler(route string, d time.Duration) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) PersistenceFailure(op string) {
	if m == nil {
		return
	}
	m.persistenceFailures.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
