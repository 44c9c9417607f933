// Package metrics exports meterd server statistics and the meter reading
// to Prometheus.
package metrics

import (
	"net/http"

	"github.com/gasmeter/meterd"
	"github.com/gasmeter/meterd/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source is what the exporter reads server statistics from.
// *meterd.Server implements it.
type Source interface {
	Stats() meterd.ServerStats
	BreakerStates() map[store.Field]meterd.CircuitBreakerState
}

// Exporter manages Prometheus metrics export
type Exporter struct {
	registry *prometheus.Registry
	server   *ServerCollector
	reading  *ReadingMetrics
}

// NewExporter creates an exporter for src on its own registry. Go runtime
// and process collectors are registered too.
func NewExporter(src Source) *Exporter {
	registry := prometheus.NewRegistry()

	server := NewServerCollector(src)
	registry.MustRegister(
		server,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Exporter{
		registry: registry,
		server:   server,
		reading:  NewReadingMetrics(registry),
	}
}

// Registry returns the underlying registry.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Reading returns the meter reading metrics.
func (e *Exporter) Reading() *ReadingMetrics {
	return e.reading
}

// Handler returns an HTTP handler for the /metrics endpoint
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Mux returns a mux serving Handler on /metrics.
func (e *Exporter) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	return mux
}
