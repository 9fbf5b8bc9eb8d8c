// Package metrics collects and exposes Prometheus metrics for circbuf.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kahiteam/circbuf/internal/events"
)

// Collector holds all circbuf-specific Prometheus metrics.
type Collector struct {
	registry *prometheus.Registry

	// live holds the buffers known from events once attached; per-buffer
	// series for other names are not created.
	mu   sync.Mutex
	live map[string]bool

	// Per-buffer metrics.
	Buffers        prometheus.Gauge
	BufferCapacity *prometheus.GaugeVec
	BufferFill     *prometheus.GaugeVec
	SamplesWritten *prometheus.CounterVec
	Reads          *prometheus.CounterVec
	Errors         *prometheus.CounterVec

	// Daemon-level metrics.
	DaemonUptime           prometheus.Gauge
	ConfigReloadTotal      prometheus.Counter
	ConfigReloadErrorTotal prometheus.Counter
	BuildInfo              *prometheus.GaugeVec
}

// New creates and registers all circbuf metrics.
func New() *Collector {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	c := &Collector{
		registry: reg,

		Buffers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "circbuf_buffers",
				Help: "Number of registered buffers.",
			},
		),

		BufferCapacity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circbuf_buffer_capacity_samples",
				Help: "Capacity of a buffer in samples per channel.",
			},
			[]string{"name"},
		),

		BufferFill: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circbuf_buffer_fill_ratio",
				Help: "Fraction of a buffer holding valid samples.",
			},
			[]string{"name"},
		),

		SamplesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circbuf_samples_written_total",
				Help: "Total number of samples per channel written to a buffer.",
			},
			[]string{"name"},
		),

		Reads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circbuf_reads_total",
				Help: "Total number of buffer reads.",
			},
			[]string{"name", "op"},
		),

		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "circbuf_errors_total",
				Help: "Total number of failed buffer operations.",
			},
			[]string{"op", "kind"},
		),

		DaemonUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "circbuf_daemon_uptime_seconds",
				Help: "Uptime of the circbuf daemon in seconds.",
			},
		),

		ConfigReloadTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "circbuf_config_reload_total",
				Help: "Total number of config reloads.",
			},
		),

		ConfigReloadErrorTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "circbuf_config_reload_errors_total",
				Help: "Total number of failed config reloads.",
			},
		),

		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circbuf_info",
				Help: "Build information about circbuf.",
			},
			[]string{"version", "go_version"},
		),
	}

	reg.MustRegister(
		c.Buffers,
		c.BufferCapacity,
		c.BufferFill,
		c.SamplesWritten,
		c.Reads,
		c.Errors,
		c.DaemonUptime,
		c.ConfigReloadTotal,
		c.ConfigReloadErrorTotal,
		c.BuildInfo,
	)

	return c
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo sets the constant build info gauge.
func (c *Collector) SetBuildInfo(version, goVersion string) {
	c.BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// SetDaemonUptime sets the daemon uptime gauge.
func (c *Collector) SetDaemonUptime(seconds float64) {
	c.DaemonUptime.Set(seconds)
}

// IncRead counts a read of the named buffer.
func (c *Collector) IncRead(name, op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known(name) {
		return
	}
	c.Reads.WithLabelValues(name, op).Inc()
}

// known reports whether name may carry per-buffer series. c.mu must be held.
func (c *Collector) known(name string) bool {
	return c.live == nil || c.live[name]
}

// IncError counts a failed operation. kind is a short error class such as
// "not_found".
func (c *Collector) IncError(op, kind string) {
	c.Errors.WithLabelValues(op, kind).Inc()
}

// IncConfigReload increments the config reload counter.
func (c *Collector) IncConfigReload() {
	c.ConfigReloadTotal.Inc()
}

// IncConfigReloadError increments the config reload error counter.
func (c *Collector) IncConfigReloadError() {
	c.ConfigReloadErrorTotal.Inc()
}

// RemoveBuffer cleans up metrics for a destroyed buffer.
func (c *Collector) RemoveBuffer(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeBuffer(name)
}

func (c *Collector) removeBuffer(name string) {
	if c.live != nil {
		delete(c.live, name)
	}
	c.BufferCapacity.DeleteLabelValues(name)
	c.BufferFill.DeleteLabelValues(name)
	c.SamplesWritten.DeleteLabelValues(name)
	c.Reads.DeletePartialMatch(prometheus.Labels{"name": name})
}

// Attach keeps the per-buffer metrics current from registry events. The
// returned function unsubscribes.
func (c *Collector) Attach(bus *events.Bus) func() {
	c.mu.Lock()
	if c.live == nil {
		c.live = make(map[string]bool)
	}
	c.mu.Unlock()

	ids := []uint64{
		bus.Subscribe(events.BufferCreated, func(e events.Event) {
			c.Buffers.Inc()
			c.bufferCreated(e.Data)
		}),
		bus.Subscribe(events.BufferReplaced, func(e events.Event) {
			c.RemoveBuffer(e.Data["name"])
			c.bufferCreated(e.Data)
		}),
		bus.Subscribe(events.BufferDestroyed, func(e events.Event) {
			c.Buffers.Dec()
			c.RemoveBuffer(e.Data["name"])
		}),
		bus.Subscribe(events.BufferReset, func(e events.Event) {
			c.mu.Lock()
			defer c.mu.Unlock()
			if name := e.Data["name"]; c.known(name) {
				c.BufferFill.WithLabelValues(name).Set(0)
			}
		}),
		bus.Subscribe(events.BufferWritten, func(e events.Event) {
			c.mu.Lock()
			defer c.mu.Unlock()
			name := e.Data["name"]
			// A write racing a destroy may report after the buffer is gone.
			if !c.known(name) {
				return
			}
			if n, err := strconv.Atoi(e.Data["samples"]); err == nil {
				c.SamplesWritten.WithLabelValues(name).Add(float64(n))
			}
			length, err1 := strconv.Atoi(e.Data["length"])
			capacity, err2 := strconv.Atoi(e.Data["capacity"])
			if err1 == nil && err2 == nil && capacity > 0 {
				c.BufferFill.WithLabelValues(name).Set(float64(length) / float64(capacity))
			}
		}),
	}
	return func() {
		for _, id := range ids {
			bus.Unsubscribe(id)
		}
	}
}

func (c *Collector) bufferCreated(data map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := data["name"]
	if c.live != nil {
		c.live[name] = true
	}
	if capacity, err := strconv.Atoi(data["capacity"]); err == nil {
		c.BufferCapacity.WithLabelValues(name).Set(float64(capacity))
	}
	c.BufferFill.WithLabelValues(name).Set(0)
}
