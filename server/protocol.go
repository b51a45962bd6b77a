package server

import (
	"github.com/vortexaudio/graphd/porttable"
	"github.com/vortexaudio/graphd/registry"
	"github.com/vortexaudio/graphd/request"
)

// HandshakeRequest is the first frame a client sends on the request
// socket. Unload distinguishes the two handshake flows spec §4.7
// describes: a normal load (the client is registering) or an unload (the
// client — identified by Name — is asking the engine to tear down a
// client already registered, e.g. a supervisor evicting a crashed peer).
type HandshakeRequest struct {
	Name       string
	ClientType registry.ClientType
	PID        int
	Unload     bool

	// PluginPath/PluginSymbol are only meaningful when ClientType is
	// ClientInProcess: the shared object and exported InProcessFunc-typed
	// symbol to load, this engine's rendering of jackd's dlopen step.
	PluginPath   string
	PluginSymbol string
}

// HandshakeReply answers a successful load. ControlBlockName mirrors
// spec §4.7's shared control block name; there is no real shared memory
// segment behind it in this engine (buffer-pool segments are the only
// shared memory that exists), so it is a stable, human-readable per-client
// handle for logging/debugging rather than an attach target.
type HandshakeReply struct {
	Status           int
	Err              string
	ClientID         int
	RealTime         bool
	Priority         int
	ControlBlockName string

	// SessionToken correlates this handshake with the connection's log
	// lines: a fresh UUID is made for every physical connection, before
	// any client id exists, so it also tags the lines of a handshake that
	// fails or of an unload request.
	SessionToken string
}

// AckHandshake is the one frame a client sends on the event-ack socket,
// identifying which already-registered client this connection's acks
// belong to.
type AckHandshake struct {
	ClientID int
}

// RequestEnvelope is one request-plane call, wire-encoded. Not every
// field applies to every Kind; see request.Handler's methods for which.
type RequestEnvelope struct {
	Kind request.Kind

	ClientID int

	PortID     int
	PortName   string
	PortTypeID int
	PortFlags  porttable.Flags

	SourcePort int
	DestPort   int

	Capabilities request.Capabilities

	MonitorEnable bool
}

// ResponseEnvelope is the generic reply to a RequestEnvelope. Spec §4.5:
// every request kind gets this except GetPortConnections, which instead
// writes a GetPortConnectionsReply directly and suppresses this one.
type ResponseEnvelope struct {
	Status int
	Err    string

	// PortID carries RegisterPort's assigned id.
	PortID int
	// NConnections carries GetPortNConnections' count.
	NConnections int
	// RefCount carries SetPortMonitor's resulting reference count.
	RefCount int
}

// GetPortConnectionsReply is GetPortConnections' dedicated reply frame
// (spec §4.5's documented exception to the generic envelope).
type GetPortConnectionsReply struct {
	Status int
	Err    string
	Ports  []int
}
