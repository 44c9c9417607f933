package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "meterd"

// ServerCollector turns a server statistics snapshot into metrics at
// scrape time.
type ServerCollector struct {
	src Source

	accepted        *prometheus.Desc
	rejected        *prometheus.Desc
	completed       *prometheus.Desc
	acceptErrors    *prometheus.Desc
	transportErrors *prometheus.Desc
	storeErrors     *prometheus.Desc
	commands        *prometheus.Desc
	activeHandlers  *prometheus.Desc
	slots           *prometheus.Desc
	slotAcquires    *prometheus.Desc
	slotWaits       *prometheus.Desc
	slotWaitSeconds *prometheus.Desc
	breakerState    *prometheus.Desc
}

// NewServerCollector returns a collector reading from src.
func NewServerCollector(src Source) *ServerCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}

	return &ServerCollector{
		src:             src,
		accepted:        desc("connections_accepted_total", "Connections accepted."),
		rejected:        desc("connections_rejected_total", "Connections answered with Server Busy."),
		completed:       desc("handlers_completed_total", "Handlers reaped after their exchange."),
		acceptErrors:    desc("accept_errors_total", "Failed Accept calls."),
		transportErrors: desc("transport_errors_total", "Failed reads or writes on a connection."),
		storeErrors:     desc("store_errors_total", "Requests answered with an error reply."),
		commands:        desc("commands_total", "Requests received per verb.", "verb"),
		activeHandlers:  desc("active_handlers", "Handlers spawned and not yet reaped."),
		slots:           desc("slots", "Handler slots by state.", "state"),
		slotAcquires:    desc("slot_acquires_total", "Slots handed to connections."),
		slotWaits:       desc("slot_acquire_waits_total", "Slot acquires that found no idle slot."),
		slotWaitSeconds: desc("slot_acquire_wait_seconds_total", "Time spent waiting for a slot."),
		breakerState:    desc("circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open).", "field"),
	}
}

// Describe implements prometheus.Collector.
func (c *ServerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.accepted
	ch <- c.rejected
	ch <- c.completed
	ch <- c.acceptErrors
	ch <- c.transportErrors
	ch <- c.storeErrors
	ch <- c.commands
	ch <- c.activeHandlers
	ch <- c.slots
	ch <- c.slotAcquires
	ch <- c.slotWaits
	ch <- c.slotWaitSeconds
	ch <- c.breakerState
}

// Collect implements prometheus.Collector.
func (c *ServerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(c.accepted, s.Accepted)
	counter(c.rejected, s.Rejected)
	counter(c.completed, s.Completed)
	counter(c.acceptErrors, s.AcceptErrors)
	counter(c.transportErrors, s.TransportErrors)
	counter(c.storeErrors, s.StoreErrors)

	verbs := make([]string, 0, len(s.Commands))
	for verb := range s.Commands {
		verbs = append(verbs, verb)
	}
	sort.Strings(verbs)
	for _, verb := range verbs {
		counter(c.commands, s.Commands[verb], verb)
	}

	gauge(c.activeHandlers, float64(s.ActiveHandlers))
	gauge(c.slots, float64(s.Slots.TotalSlots), "total")
	gauge(c.slots, float64(s.Slots.IdleSlots), "idle")
	gauge(c.slots, float64(s.Slots.ActiveSlots), "active")
	counter(c.slotAcquires, s.Slots.AcquireCount)
	counter(c.slotWaits, s.Slots.AcquireWaitCount)
	ch <- prometheus.MustNewConstMetric(c.slotWaitSeconds, prometheus.CounterValue, float64(s.Slots.AcquireWaitTimeNs)/1e9)

	for field, state := range c.src.BreakerStates() {
		gauge(c.breakerState, float64(state), field.String())
	}
}
