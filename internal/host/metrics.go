package host

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type hostMetrics struct {
	liveInstances prometheus.Gauge
	created       prometheus.Counter
	destroyed     prometheus.Counter
	ticks         prometheus.Counter
	faults        *prometheus.CounterVec
	processTime   prometheus.Observer
}

var (
	hostMetricsOnce sync.Once
	hostMetricsInst *hostMetrics
)

func globalHostMetrics() *hostMetrics {
	hostMetricsOnce.Do(func() {
		hostMetricsInst = newHostMetrics()
	})
	return hostMetricsInst
}

// prometheusTimer starts a duration observation and returns the closure
// that finishes it.
func prometheusTimer(m *hostMetrics) func() {
	timer := prometheus.NewTimer(m.processTime)
	return func() {
		timer.ObserveDuration()
	}
}

func newHostMetrics() *hostMetrics {
	return &hostMetrics{
		liveInstances: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "patchbay",
			Subsystem: "host",
			Name:      "instances",
			Help:      "Currently live plugin instances",
		}),
		created: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "patchbay",
			Subsystem: "host",
			Name:      "instances_created_total",
			Help:      "Total plugin instances created",
		}),
		destroyed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "patchbay",
			Subsystem: "host",
			Name:      "instances_destroyed_total",
			Help:      "Total plugin instances destroyed",
		}),
		ticks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "patchbay",
			Subsystem: "host",
			Name:      "process_ticks_total",
			Help:      "Total per-instance process calls",
		}),
		faults: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patchbay",
			Subsystem: "host",
			Name:      "process_faults_total",
			Help:      "Processing faults, labeled by plugin",
		}, []string{"plugin"}),
		processTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "patchbay",
			Subsystem: "host",
			Name:      "process_duration_seconds",
			Help:      "Duration of per-instance process calls",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}
