package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core, engine-wide metrics every subsystem contributes
// to, as opposed to the per-subsystem metrics each package registers under
// its own name via MetricsRegistrar.
type Metrics struct {
	CycleDuration    prometheus.Histogram
	CycleErrors      prometheus.Counter
	XRuns            prometheus.Counter
	ActiveClients    prometheus.Gauge
	ZombieClients    prometheus.Gauge
	CPULoadPercent   prometheus.Gauge
	WatchdogFailures prometheus.Counter
	GraphSorts       prometheus.Counter
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// NewMetrics creates the core engine metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "graphd",
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of one cycle executor period",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphd",
			Subsystem: "cycle",
			Name:      "errors_total",
			Help:      "Total number of cycles aborted due to a client or driver error",
		}),
		XRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphd",
			Subsystem: "cycle",
			Name:      "xruns_total",
			Help:      "Total number of XRun events broadcast to clients",
		}),
		ActiveClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphd",
			Subsystem: "registry",
			Name:      "active_clients",
			Help:      "Number of currently active (non-zombie) clients",
		}),
		ZombieClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphd",
			Subsystem: "registry",
			Name:      "zombie_clients",
			Help:      "Number of clients marked dead pending removal",
		}),
		CPULoadPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphd",
			Subsystem: "cycle",
			Name:      "cpu_load_percent",
			Help:      "Rolling average of cycle processing time as a percentage of period time",
		}),
		WatchdogFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphd",
			Subsystem: "watchdog",
			Name:      "stall_detected_total",
			Help:      "Total number of times the watchdog detected a stalled cycle thread",
		}),
		GraphSorts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphd",
			Subsystem: "graph",
			Name:      "sorts_total",
			Help:      "Total number of times the graph was rebuilt and re-sorted",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphd",
			Subsystem: "request",
			Name:      "total",
			Help:      "Total number of request-plane operations by type and status",
		}, []string{"type", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "graphd",
			Subsystem: "request",
			Name:      "duration_seconds",
			Help:      "Duration of request-plane operations by type",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
	}
}

// RecordCycle records one cycle's duration and whether it errored.
func (m *Metrics) RecordCycle(duration time.Duration, errored bool) {
	m.CycleDuration.Observe(duration.Seconds())
	if errored {
		m.CycleErrors.Inc()
	}
}

// RecordXRun increments the xrun counter.
func (m *Metrics) RecordXRun() {
	m.XRuns.Inc()
}

// SetClientCounts updates the active/zombie client gauges.
func (m *Metrics) SetClientCounts(active, zombie int) {
	m.ActiveClients.Set(float64(active))
	m.ZombieClients.Set(float64(zombie))
}

// SetCPULoad updates the rolling CPU-load gauge.
func (m *Metrics) SetCPULoad(percent float64) {
	m.CPULoadPercent.Set(percent)
}

// RecordWatchdogFailure increments the watchdog stall counter.
func (m *Metrics) RecordWatchdogFailure() {
	m.WatchdogFailures.Inc()
}

// RecordGraphSort increments the graph resort counter.
func (m *Metrics) RecordGraphSort() {
	m.GraphSorts.Inc()
}

// RecordRequest records one request-plane operation.
func (m *Metrics) RecordRequest(reqType string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.RequestsTotal.WithLabelValues(reqType, status).Inc()
	m.RequestDuration.WithLabelValues(reqType).Observe(duration.Seconds())
}
