// Package metrics exposes server counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups the server metrics on a private registry,
// so several servers in one process do not collide.
type Collector struct {
	registry *prometheus.Registry

	accepted prometheus.Counter
	active   prometheus.Gauge
	requests *prometheus.CounterVec
	rejected prometheus.Counter
	reaped   prometheus.Counter
	workers  prometheus.Gauge
}

// New registers a fresh set of metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Collector{
		registry: reg,
		accepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "shphttpd",
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Total number of accepted connections",
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "shphttpd",
			Subsystem: "connections",
			Name:      "active",
			Help:      "Number of open connections",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shphttpd",
			Name:      "requests_total",
			Help:      "Total number of responses by status code",
		}, []string{"code"}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "shphttpd",
			Subsystem: "dispatch",
			Name:      "rejected_total",
			Help:      "Connections dropped because the dispatch layer was saturated",
		}),
		reaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "shphttpd",
			Subsystem: "connections",
			Name:      "reaped_total",
			Help:      "Connections closed for inactivity",
		}),
		workers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "shphttpd",
			Name:      "workers_alive",
			Help:      "Number of live worker processes",
		}),
	}
}

// Handler serves the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry is the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) ConnOpened() {
	c.accepted.Inc()
	c.active.Inc()
}

func (c *Collector) ConnClosed() { c.active.Dec() }

func (c *Collector) Request(code int) { c.requests.WithLabelValues(strconv.Itoa(code)).Inc() }

func (c *Collector) Rejected() { c.rejected.Inc() }

func (c *Collector) IdleReaped() { c.reaped.Inc() }

func (c *Collector) WorkersAlive(n int) { c.workers.Set(float64(n)) }
