// Package metrics exposes acquisition counters in Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "benchdaq"

// Collector groups the session metrics. A nil *Collector is valid and records nothing.
type Collector struct {
	Registry *prometheus.Registry

	cycles          *prometheus.CounterVec
	lines           prometheus.Counter
	pairs           prometheus.Counter
	segmentErrors   *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	commands        prometheus.Counter
	series          prometheus.Gauge
	cycleDuration   prometheus.Histogram
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		Registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_cycles_total",
			Help:      "Ingestion cycles run, by trigger.",
		}, []string{"trigger"}),
		lines: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lines_total",
			Help:      "Response lines drained from the instrument.",
		}),
		pairs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Key/value pairs appended to the series store.",
		}),
		segmentErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_errors_total",
			Help:      "Segments skipped by the line parser, by reason.",
		}, []string{"reason"}),
		transportErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Serial transport failures, by operation.",
		}, []string{"op"}),
		commands: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands written to the instrument.",
		}),
		series: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "series",
			Help:      "Registered series keys.",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_cycle_duration_seconds",
			Help:      "Time spent draining and parsing one cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
	}
}

// ObserveCycle records one finished ingestion cycle.
func (c *Collector) ObserveCycle(trigger string, lines, pairs int, took time.Duration) {
	if c == nil {
		return
	}
	c.cycles.WithLabelValues(trigger).Inc()
	c.lines.Add(float64(lines))
	c.pairs.Add(float64(pairs))
	c.cycleDuration.Observe(took.Seconds())
}

// SegmentError counts a skipped segment.
func (c *Collector) SegmentError(reason string) {
	if c == nil {
		return
	}
	c.segmentErrors.WithLabelValues(reason).Inc()
}

// TransportError counts a failed transport operation.
func (c *Collector) TransportError(op string) {
	if c == nil {
		return
	}
	c.transportErrors.WithLabelValues(op).Inc()
}

// CommandSent counts a command written to the device.
func (c *Collector) CommandSent() {
	if c == nil {
		return
	}
	c.commands.Inc()
}

// SetSeries updates the registered series gauge.
func (c *Collector) SetSeries(n int) {
	if c == nil {
		return
	}
	c.series.Set(float64(n))
}
