package server

import (
	"net"
	"time"

	"github.com/vortexaudio/graphd/bufferpool"
	"github.com/vortexaudio/graphd/cycle"
	"github.com/vortexaudio/graphd/porttable"
	"github.com/vortexaudio/graphd/registry"
	"github.com/vortexaudio/graphd/request"
)

// Config tunes the connection server's listeners and handshake dispatch.
type Config struct {
	// Network/RequestAddr/EventAddr describe the two listening endpoints
	// (spec §4.7's request socket and event-ack socket). Network is
	// typically "unix" with filesystem socket paths, but "tcp" works
	// identically for out-of-tree clients.
	Network    string
	RequestAddr string
	EventAddr   string

	// HandshakeWorkers/HandshakeQueueSize size the request-socket
	// connection pool (one worker serves one connection for its entire
	// lifetime: handshake, then the request loop until disconnect).
	HandshakeWorkers   int
	HandshakeQueueSize int

	// RealTime/Priority are echoed back in HandshakeReply, spec §4.7's
	// "reply with realtime flags/priority."
	RealTime bool
	Priority int

	AcceptTimeout time.Duration
}

// DefaultConfig returns reasonable defaults for a single-engine instance.
func DefaultConfig() Config {
	return Config{
		Network:            "unix",
		HandshakeWorkers:   8,
		HandshakeQueueSize: 64,
		Priority:           10,
		AcceptTimeout:      time.Second,
	}
}

// ClientRegistrar is the minimal registry surface the server needs.
type ClientRegistrar interface {
	Register(name string, clientType registry.ClientType, pid int) (int, error)
	GetByName(name string) (registry.Client, error)
	Remove(id int) error
}

// InProcessRegistrar is the minimal cycle.Executor surface needed to wire
// a newly dlopen'd in-process client's callback into the per-cycle
// dispatch table.
type InProcessRegistrar interface {
	RegisterInProcess(clientID int, fn cycle.InProcessFunc)
	UnregisterInProcess(clientID int)
}

// PortTypeSource is the minimal bufferpool surface needed to replay the
// known port type set to a newly-loaded external client.
type PortTypeSource interface {
	Types() []bufferpool.NewPortType
}

// AckInstaller is the minimal event.Registry surface the ack-socket
// accept loop needs.
type AckInstaller interface {
	InstallExternal(clientID int, conn net.Conn)
	Remove(clientID int)
}

// RequestDispatcher is the request.Handler surface the session loop
// dispatches RequestEnvelope frames into. *request.Handler satisfies this
// directly; tests substitute a recording stub.
type RequestDispatcher interface {
	RegisterPort(clientID int, name string, typeID int, flags porttable.Flags) (int, error)
	UnRegisterPort(portID, callerClientID int) error
	ConnectPorts(sourcePort, destPort int) error
	DisconnectPort(sourcePort, destPort int) error
	DisconnectPorts(portID int) error
	ActivateClient(clientID int) error
	DeactivateClient(clientID int) error
	SetTimeBaseClient(clientID int) error
	SetClientCapabilities(clientID int, caps request.Capabilities) error
	GetPortConnections(portID int) ([]int, error)
	GetPortNConnections(portID int) (int, error)
	SetPortMonitor(portID int, enable bool) (int, error)
}
