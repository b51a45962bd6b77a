// Package metric wraps Prometheus registration in a single registry shared
// by every engine subsystem, so concurrent subsystems can each register
// their own metrics without colliding on names and without each reaching
// into a global default registry.
//
// # Core vs. subsystem metrics
//
// NewMetricsRegistry creates a registry pre-loaded with Go runtime/process
// collectors and the engine-wide core metrics (cycle duration, xrun count,
// active/zombie client gauges, CPU load, watchdog failures, graph sorts,
// request totals). Individual subsystems — a pkg/buffer circular buffer
// built with WithMetrics, and the pkg/worker pool — register their own
// metrics through the MetricsRegistrar interface, keyed by "subsystem.metric_name" so duplicate
// registration across instances is caught early.
//
// # Basic usage
//
//	registry := metric.NewMetricsRegistry()
//	core := registry.CoreMetrics()
//	core.RecordCycle(duration, false)
//	core.SetClientCounts(active, zombie)
//
//	server := metric.NewServer(9090, "/metrics", registry)
//	go server.Start()
package metric
