package request

import (
	"fmt"
	"sync"
	"time"

	"github.com/vortexaudio/graphd/bufferpool"
	"github.com/vortexaudio/graphd/errors"
	"github.com/vortexaudio/graphd/graph"
	"github.com/vortexaudio/graphd/porttable"
	"github.com/vortexaudio/graphd/registry"
)

// Handler is the engine's request plane (spec §4.5): every exported method
// takes the request_lock for its full duration, so structural mutations
// never interleave. It holds no state of its own beyond capability flags —
// port/client/connection state lives in the packages it coordinates.
type Handler struct {
	mu sync.Mutex // the request_lock

	reg   *registry.Registry
	ports *porttable.Table
	pool  *bufferpool.Pool
	g     *graph.Graph

	events  EventPublisher
	metrics Metrics

	caps map[int]Capabilities
}

// New creates a Handler bound to the engine's shared state. events and
// metrics may be nil (tests commonly omit both).
func New(reg *registry.Registry, ports *porttable.Table, pool *bufferpool.Pool, g *graph.Graph, events EventPublisher, metrics Metrics) *Handler {
	return &Handler{
		reg:     reg,
		ports:   ports,
		pool:    pool,
		g:       g,
		events:  events,
		metrics: metrics,
		caps:    make(map[int]Capabilities),
	}
}

// record wraps fn with the request_lock and the RecordRequest metric,
// matching every method below's shape.
func (h *Handler) record(kind Kind, fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	start := time.Now()
	err := fn()
	if h.metrics != nil {
		h.metrics.RecordRequest(string(kind), err == nil, time.Since(start))
	}
	return err
}

// RegisterPort creates a new port owned by clientID. Output ports are
// immediately given a buffer slot from the pool; input ports resolve to
// the type's silent buffer until connected.
func (h *Handler) RegisterPort(clientID int, name string, typeID int, flags porttable.Flags) (portID int, err error) {
	err = h.record(KindRegisterPort, func() error {
		client, gerr := h.reg.Get(clientID)
		if gerr != nil {
			return gerr
		}
		if client.Dead {
			return errors.WrapInvalid(errors.ErrClientNotActive, "request", "RegisterPort",
				fmt.Sprintf("client %d is dead", clientID))
		}
		if !h.pool.TypeExists(typeID) {
			return errors.WrapInvalid(errors.ErrUnknownPortType, "request", "RegisterPort",
				fmt.Sprintf("type %d not registered", typeID))
		}
		if _, exists := h.ports.FindByName(name); exists {
			return errors.WrapInvalid(errors.ErrPortNameTaken, "request", "RegisterPort",
				fmt.Sprintf("port name %q already registered", name))
		}

		id, rerr := h.ports.Register(name, typeID, clientID, flags)
		if rerr != nil {
			return rerr
		}
		portID = id

		if flags.Has(porttable.FlagOutput) {
			slot, aerr := h.pool.Allocate(typeID)
			if aerr != nil {
				h.ports.ForceRemove(id)
				return aerr
			}
			if serr := h.ports.SetBuffer(id, slot.Offset, slot.Size); serr != nil {
				h.ports.ForceRemove(id)
				return serr
			}
		}

		if h.events != nil {
			h.events.PublishPortRegistered(id)
		}
		return nil
	})
	return portID, err
}

// UnRegisterPort removes a port: disconnects it from the graph, releases
// its output buffer slot if it had one, then frees the table slot.
// callerClientID must match the port's owner.
func (h *Handler) UnRegisterPort(portID, callerClientID int) error {
	return h.record(KindUnRegisterPort, func() error {
		port, gerr := h.ports.Get(portID)
		if gerr != nil {
			return gerr
		}
		if port.OwnerClientID != callerClientID {
			return errors.WrapInvalid(errors.ErrOwnerMismatch, "request", "UnRegisterPort",
				fmt.Sprintf("port %d owned by client %d, not %d", portID, port.OwnerClientID, callerClientID))
		}

		removed := h.g.DisconnectAll(portID)
		h.publishDisconnects(removed)

		if port.Flags.Has(porttable.FlagOutput) && port.BufferSize > 0 {
			idx := port.BufferOffset / port.BufferSize
			_ = h.pool.Release(bufferpool.Slot{TypeID: port.TypeID, Index: idx, Offset: port.BufferOffset, Size: port.BufferSize})
		}

		if err := h.ports.Unregister(portID, callerClientID); err != nil {
			return err
		}
		if h.events != nil {
			h.events.PublishPortUnregistered(portID)
		}
		if len(removed) > 0 {
			if _, err := h.g.Rebuild(); err != nil {
				return err
			}
		}
		return nil
	})
}

// ConnectPorts validates every precondition in spec §4.5 before recording
// the edge: both ports exist, dst accepts input and src offers output,
// neither is locked, types match, both owners are known and active, and —
// if dst already has a connection — its type supports mixdown.
func (h *Handler) ConnectPorts(sourcePort, destPort int) error {
	return h.record(KindConnectPorts, func() error {
		src, err := h.ports.Get(sourcePort)
		if err != nil {
			return err
		}
		dst, err := h.ports.Get(destPort)
		if err != nil {
			return err
		}

		if !src.Flags.Has(porttable.FlagOutput) {
			return errors.WrapInvalid(errors.ErrPortFlagMismatch, "request", "ConnectPorts",
				fmt.Sprintf("port %d is not an output", sourcePort))
		}
		if !dst.Flags.Has(porttable.FlagInput) {
			return errors.WrapInvalid(errors.ErrPortFlagMismatch, "request", "ConnectPorts",
				fmt.Sprintf("port %d is not an input", destPort))
		}
		if src.Locked || dst.Locked {
			return errors.WrapInvalid(errors.ErrPortLocked, "request", "ConnectPorts", "port is locked")
		}
		if src.TypeID != dst.TypeID {
			return errors.WrapInvalid(errors.ErrPortTypeMismatch, "request", "ConnectPorts",
				fmt.Sprintf("source type %d, dest type %d", src.TypeID, dst.TypeID))
		}

		srcClient, err := h.reg.Get(src.OwnerClientID)
		if err != nil {
			return err
		}
		dstClient, err := h.reg.Get(dst.OwnerClientID)
		if err != nil {
			return err
		}
		if !srcClient.Active || srcClient.Dead {
			return errors.WrapInvalid(errors.ErrClientNotActive, "request", "ConnectPorts",
				fmt.Sprintf("client %d is not active", srcClient.ID))
		}
		if !dstClient.Active || dstClient.Dead {
			return errors.WrapInvalid(errors.ErrClientNotActive, "request", "ConnectPorts",
				fmt.Sprintf("client %d is not active", dstClient.ID))
		}

		if len(h.g.ConnectionsForPort(destPort)) > 0 {
			mixable, merr := h.pool.HasMixdown(dst.TypeID)
			if merr != nil {
				return merr
			}
			if !mixable {
				return errors.WrapInvalid(errors.ErrDuplicateConnection, "request", "ConnectPorts",
					fmt.Sprintf("dest port %d already connected and type %d has no mixdown", destPort, dst.TypeID))
			}
		}

		h.g.Connect(sourcePort, destPort)
		if h.events != nil {
			h.events.PublishPortConnected(sourcePort, destPort)
		}
		_, err = h.g.Rebuild()
		return err
	})
}

// DisconnectPort removes exactly one connection.
func (h *Handler) DisconnectPort(sourcePort, destPort int) error {
	return h.record(KindDisconnectPort, func() error {
		if _, err := h.ports.Get(sourcePort); err != nil {
			return err
		}
		if _, err := h.ports.Get(destPort); err != nil {
			return err
		}
		if !h.g.Disconnect(sourcePort, destPort) {
			return errors.WrapInvalid(errors.ErrConnectionNotFound, "request", "DisconnectPort",
				fmt.Sprintf("no connection %d -> %d", sourcePort, destPort))
		}
		if h.events != nil {
			h.events.PublishPortDisconnected(sourcePort, destPort)
		}
		_, err := h.g.Rebuild()
		return err
	})
}

// DisconnectPorts atomically removes every connection touching portID.
func (h *Handler) DisconnectPorts(portID int) error {
	return h.record(KindDisconnectPorts, func() error {
		if _, err := h.ports.Get(portID); err != nil {
			return err
		}
		removed := h.g.DisconnectAll(portID)
		h.publishDisconnects(removed)
		if len(removed) == 0 {
			return nil
		}
		_, err := h.g.Rebuild()
		return err
	})
}

func (h *Handler) publishDisconnects(removed []graph.Connection) {
	if h.events == nil {
		return
	}
	for _, c := range removed {
		h.events.PublishPortDisconnected(c.SourcePort, c.DestPort)
	}
}

// ActivateClient marks a client eligible for graph sort inclusion and
// triggers a rebuild, which assigns its execution_order and chain FDs.
func (h *Handler) ActivateClient(clientID int) error {
	return h.record(KindActivateClient, func() error {
		if _, err := h.reg.Get(clientID); err != nil {
			return err
		}
		if err := h.reg.Activate(clientID); err != nil {
			return err
		}
		_, err := h.g.Rebuild()
		return err
	})
}

// DeactivateClient clears every connection on the client's ports, marks it
// inactive, and rebuilds.
func (h *Handler) DeactivateClient(clientID int) error {
	return h.record(KindDeactivateClient, func() error {
		if _, err := h.reg.Get(clientID); err != nil {
			return err
		}
		for _, port := range h.ports.PortsByClient(clientID) {
			removed := h.g.DisconnectAll(port.ID)
			h.publishDisconnects(removed)
		}
		if err := h.reg.Deactivate(clientID); err != nil {
			return err
		}
		_, err := h.g.Rebuild()
		return err
	})
}

// SetTimeBaseClient assigns the timebase role. Rejects if the client never
// declared CapCanBeTimebase via SetClientCapabilities.
func (h *Handler) SetTimeBaseClient(clientID int) error {
	return h.record(KindSetTimeBaseClient, func() error {
		client, err := h.reg.Get(clientID)
		if err != nil {
			return err
		}
		if !client.Active {
			return errors.WrapInvalid(errors.ErrClientNotActive, "request", "SetTimeBaseClient",
				fmt.Sprintf("client %d is not active", clientID))
		}
		if !h.caps[clientID].Has(CapCanBeTimebase) {
			return errors.WrapInvalid(errors.ErrClientNotActive, "request", "SetTimeBaseClient",
				fmt.Sprintf("client %d did not declare timebase capability", clientID))
		}
		return h.reg.SetTimebase(clientID)
	})
}

// SetClientCapabilities records clientID's declared feature flags.
func (h *Handler) SetClientCapabilities(clientID int, caps Capabilities) error {
	return h.record(KindSetClientCapabilities, func() error {
		if _, err := h.reg.Get(clientID); err != nil {
			return err
		}
		h.caps[clientID] = caps
		return nil
	})
}

// GetPortConnections returns the port ids on the other end of every
// connection touching portID.
func (h *Handler) GetPortConnections(portID int) ([]int, error) {
	var out []int
	err := h.record(KindGetPortConnections, func() error {
		if _, err := h.ports.Get(portID); err != nil {
			return err
		}
		for _, c := range h.g.ConnectionsForPort(portID) {
			if c.SourcePort == portID {
				out = append(out, c.DestPort)
			} else {
				out = append(out, c.SourcePort)
			}
		}
		return nil
	})
	return out, err
}

// GetPortNConnections returns the number of connections touching portID.
func (h *Handler) GetPortNConnections(portID int) (int, error) {
	conns, err := h.GetPortConnections(portID)
	return len(conns), err
}

// SetPortMonitor enables or disables a caller's monitor request on portID,
// ref-counted so multiple monitoring clients don't step on each other's
// release (spec §4.12 supplemental).
func (h *Handler) SetPortMonitor(portID int, enable bool) (refCount int, err error) {
	err = h.record(KindSetPortMonitor, func() error {
		if _, gerr := h.ports.Get(portID); gerr != nil {
			return gerr
		}
		var rerr error
		if enable {
			refCount, rerr = h.ports.RequestMonitor(portID)
		} else {
			refCount, rerr = h.ports.ReleaseMonitor(portID)
		}
		return rerr
	})
	return refCount, err
}
