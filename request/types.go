package request

import "time"

// Kind names one of the request plane's operations. It is the metric label
// (metric.Metrics.RecordRequest), and package server carries it on the wire
// as RequestEnvelope.Kind to select the operation; the rest of the wire
// encoding lives in package server.
type Kind string

const (
	KindRegisterPort          Kind = "register_port"
	KindUnRegisterPort        Kind = "unregister_port"
	KindConnectPorts          Kind = "connect_ports"
	KindDisconnectPort        Kind = "disconnect_port"
	KindDisconnectPorts       Kind = "disconnect_ports"
	KindActivateClient        Kind = "activate_client"
	KindDeactivateClient      Kind = "deactivate_client"
	KindSetTimeBaseClient     Kind = "set_timebase_client"
	KindSetClientCapabilities Kind = "set_client_capabilities"
	KindGetPortConnections    Kind = "get_port_connections"
	KindGetPortNConnections   Kind = "get_port_n_connections"
	KindSetPortMonitor        Kind = "set_port_monitor" // spec §4.12 supplemental
)

// Capabilities records the per-client feature flags spec §4.5's
// SetClientCapabilities request installs (e.g. whether the client may hold
// the timebase role, whether it accepts monitor-request callbacks). Kept as
// a bitmask in the style of porttable.Flags.
type Capabilities uint8

const (
	CapCanBeTimebase Capabilities = 1 << iota
	CapMonitorCallback
)

func (c Capabilities) Has(cap Capabilities) bool { return c&cap != 0 }

// EventPublisher is the minimal surface the request plane needs from the
// event plane. Kept narrow, as in package bufferpool and package graph, to
// avoid an import cycle with package event.
type EventPublisher interface {
	PublishPortRegistered(portID int)
	PublishPortUnregistered(portID int)
	PublishPortConnected(source, dest int)
	PublishPortDisconnected(source, dest int)
}

// Metrics is the minimal surface the request plane needs from package
// metric, so handler_test.go can exercise requests without constructing a
// full MetricsRegistry. *metric.Metrics satisfies this directly.
type Metrics interface {
	RecordRequest(reqType string, success bool, duration time.Duration)
}
