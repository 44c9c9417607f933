package metrics

import (
	"context"

	"github.com/gasmeter/meterd/store"
	"github.com/prometheus/client_golang/prometheus"
)

// ReadingMetrics holds the meter reading gauges.
type ReadingMetrics struct {
	reading   prometheus.Gauge
	updatedAt prometheus.Gauge
	updates   prometheus.Counter
}

// NewReadingMetrics creates and registers the reading metrics
func NewReadingMetrics(registry prometheus.Registerer) *ReadingMetrics {
	m := &ReadingMetrics{
		reading: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading_cubic_metres",
			Help:      "Last meter reading observed in the state store.",
		}),
		updatedAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reading_last_change_timestamp_seconds",
			Help:      "Unix time the reading last changed.",
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reading_changes_total",
			Help:      "Reading changes observed by the poller.",
		}),
	}

	registry.MustRegister(m.reading, m.updatedAt, m.updates)

	return m
}

// SetReading records a new reading.
func (m *ReadingMetrics) SetReading(v float64) {
	m.reading.Set(v)
	m.updatedAt.SetToCurrentTime()
	m.updates.Inc()
}

// Watch feeds the reading gauge from p until ctx is done.
func (m *ReadingMetrics) Watch(ctx context.Context, p *store.Poller) {
	p.Run(ctx, m.SetReading)
}
