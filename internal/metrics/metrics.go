// Package metrics exports connection lifecycle counters for Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"sessionlink/internal/hub"
)

const namespace = "sessionlink"

// Collector turns hub events into metrics on a private registry
type Collector struct {
	registry *prometheus.Registry

	events     *prometheus.CounterVec
	closes     *prometheus.CounterVec
	statuses   *prometheus.CounterVec
	reconnects prometheus.Counter
	delays     prometheus.Histogram
	open       prometheus.Gauge
	failed     prometheus.Gauge
}

// Gauges samples manager state at scrape time
type Gauges struct {
	QueueLength func() float64
	Attempts    func() float64
}

// NewCollector registers the connection metrics, plus Go runtime collectors
// when runtime is set.
func NewCollector(gauges Gauges, runtime bool) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Connection events by kind.",
		}, []string{"kind"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "closes_total",
			Help:      "Channel closes by close code and whether the client initiated them.",
		}, []string{"code", "manual"}),
		statuses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Status presentations by kind.",
		}, []string{"kind"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		}),
		delays: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each reconnect attempt.",
			Buckets:   []float64{1, 3, 6, 12, 24, 30, 60},
		}),
		open: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_open",
			Help:      "1 while the channel is open.",
		}),
		failed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_failed",
			Help:      "1 once reconnect attempts are exhausted.",
		}),
	}

	c.registry.MustRegister(c.events, c.closes, c.statuses, c.reconnects, c.delays, c.open, c.failed)

	if gauges.QueueLength != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbound_queue_length",
			Help:      "Messages waiting for the next open.",
		}, gauges.QueueLength))
	}
	if gauges.Attempts != nil {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_current",
			Help:      "Reconnect attempts since the last open.",
		}, gauges.Attempts))
	}
	if runtime {
		c.registry.MustRegister(collectors.NewGoCollector())
		c.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return c
}

// OnEvent implements hub.Observer
func (c *Collector) OnEvent(e hub.Event) {
	c.events.WithLabelValues(e.Kind.String()).Inc()

	switch e.Kind {
	case hub.EventOpen:
		c.open.Set(1)
		c.failed.Set(0)
	case hub.EventClose:
		c.open.Set(0)
		c.closes.WithLabelValues(strconv.Itoa(e.Code), strconv.FormatBool(e.Manual)).Inc()
	case hub.EventReconnecting:
		c.reconnects.Inc()
		c.delays.Observe(e.Delay.Seconds())
	case hub.EventFailed:
		c.failed.Set(1)
	case hub.EventStatus:
		c.statuses.WithLabelValues(string(e.Status.Kind)).Inc()
	}
}

// Registry exposes the registry for gathering
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
