// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus instrumentation for dispatchers and pools.

package control

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/reactor"
)

const namespace = "hioload"

// Metrics owns a private registry and records dispatcher activity as a
// reactor.Observer.
type Metrics struct {
	reg *prometheus.Registry

	events   *prometheus.CounterVec
	timeouts *prometheus.CounterVec
	panics   *prometheus.CounterVec
	handlers *prometheus.GaugeVec
}

var _ reactor.Observer = (*Metrics)(nil)

// NewMetrics builds the collectors and registers them together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "events_total",
			Help:      "Readiness events dispatched.",
		}, []string{"dispatcher"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "timeouts_total",
			Help:      "Handler deadlines that elapsed.",
		}, []string{"dispatcher"}),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "callback_panics_total",
			Help:      "Handler callbacks and tasks that panicked.",
		}, []string{"dispatcher"}),
		handlers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "reactor",
			Name:      "handlers",
			Help:      "Handlers currently registered.",
		}, []string{"dispatcher"}),
	}
	m.reg.MustRegister(
		m.events, m.timeouts, m.panics, m.handlers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// RegisterPool exports src under name.
func (m *Metrics) RegisterPool(name string, src StatsSource) error {
	return m.reg.Register(NewPoolCollector(name, src))
}

func label(dispatcher int) string { return strconv.Itoa(dispatcher) }

func (m *Metrics) HandlerRegistered(dispatcher int, _ int64) {
	m.handlers.WithLabelValues(label(dispatcher)).Inc()
}

func (m *Metrics) HandlerClosed(dispatcher int, _ int64) {
	m.handlers.WithLabelValues(label(dispatcher)).Dec()
}

func (m *Metrics) EventsDispatched(dispatcher int, n int) {
	m.events.WithLabelValues(label(dispatcher)).Add(float64(n))
}

func (m *Metrics) TimeoutFired(dispatcher int, _ int64) {
	m.timeouts.WithLabelValues(label(dispatcher)).Inc()
}

func (m *Metrics) CallbackPanicked(dispatcher int, _ int64, _ any) {
	m.panics.WithLabelValues(label(dispatcher)).Inc()
}

// StatsSource is anything reporting pool accounting: a pool or an arena.
type StatsSource interface {
	Stats() api.PoolStats
	NumPooled() int
}

// PoolCollector reads a StatsSource at scrape time.
type PoolCollector struct {
	src StatsSource

	creates, takes, recycled, released, pooled *prometheus.Desc
}

var _ prometheus.Collector = (*PoolCollector)(nil)

// NewPoolCollector labels every series with pool=name.
func NewPoolCollector(name string, src StatsSource) *PoolCollector {
	desc := func(metric, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", metric), help,
			nil, prometheus.Labels{"pool": name})
	}
	return &PoolCollector{
		src:      src,
		creates:  desc("creates_total", "Acquires that allocated a new object."),
		takes:    desc("takes_total", "Acquire calls."),
		recycled: desc("recycled_total", "Frees accepted into the pool."),
		released: desc("released_total", "Frees rejected by shape or capacity."),
		pooled:   desc("pooled", "Objects currently cached."),
	}
}

func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.creates
	ch <- c.takes
	ch <- c.recycled
	ch <- c.released
	ch <- c.pooled
}

func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.creates, prometheus.CounterValue, float64(s.Creates))
	ch <- prometheus.MustNewConstMetric(c.takes, prometheus.CounterValue, float64(s.Takes))
	ch <- prometheus.MustNewConstMetric(c.recycled, prometheus.CounterValue, float64(s.Recycled))
	ch <- prometheus.MustNewConstMetric(c.released, prometheus.CounterValue, float64(s.Released))
	ch <- prometheus.MustNewConstMetric(c.pooled, prometheus.GaugeValue, float64(c.src.NumPooled()))
}
