// Package metrics exposes Prometheus collectors for secret lifecycle events.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pwledger"

// Metrics holds the collectors updated by secret buffers
type Metrics struct {
	allocated prometheus.Counter
	live      prometheus.Gauge
	liveBytes prometheus.Gauge
	windows   *prometheus.CounterVec
	zeroized  prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg skips
// registration, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		allocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secrets_allocated_total",
			Help:      "Number of secret buffers allocated.",
		}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "secrets_live",
			Help:      "Number of secret buffers currently holding memory.",
		}),
		liveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "secret_bytes_live",
			Help:      "Usable bytes held by live secret buffers.",
		}),
		windows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_windows_total",
			Help:      "Number of access windows opened, by protection mode.",
		}, []string{"mode"}),
		zeroized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zeroize_total",
			Help:      "Number of in-place wipes of secret buffers.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.allocated, m.live, m.liveBytes, m.windows, m.zeroized)
	}
	return m
}

// Allocated records a new buffer of size bytes
func (m *Metrics) Allocated(size int) {
	if m == nil {
		return
	}
	m.allocated.Inc()
	m.live.Inc()
	m.liveBytes.Add(float64(size))
}

// Released records a buffer of size bytes being wiped and freed
func (m *Metrics) Released(size int) {
	if m == nil {
		return
	}
	m.live.Dec()
	m.liveBytes.Sub(float64(size))
}

// WindowOpened records an access window in the given mode ("read" or "write")
func (m *Metrics) WindowOpened(mode string) {
	if m == nil {
		return
	}
	m.windows.WithLabelValues(mode).Inc()
}

// Zeroized records an in-place wipe
func (m *Metrics) Zeroized() {
	if m == nil {
		return
	}
	m.zeroized.Inc()
}
