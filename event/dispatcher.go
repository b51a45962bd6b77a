package event

import (
	"log/slog"
	"sync"

	"github.com/vortexaudio/graphd/bufferpool"
	"github.com/vortexaudio/graphd/graph"
	"github.com/vortexaudio/graphd/registry"
)

// InProcessFunc is an in-process client's event callback, called directly
// rather than through the ack-channel protocol external clients use.
type InProcessFunc func(Event) error

// Dispatcher delivers events to every registered client, implementing the
// narrow EventPublisher interfaces bufferpool, graph, and request each
// declare locally, plus cycle.XRunPublisher.
type Dispatcher struct {
	reg  *registry.Registry
	acks *Registry
	cfg  Config

	invokeMu sync.Mutex
	invokers map[int]InProcessFunc
}

// New creates a Dispatcher bound to reg (for client lookup/error counting)
// and acks (the external ack-channel registry).
func New(reg *registry.Registry, acks *Registry, cfg Config) *Dispatcher {
	return &Dispatcher{
		reg:      reg,
		acks:     acks,
		cfg:      cfg,
		invokers: make(map[int]InProcessFunc),
	}
}

// RegisterInProcess installs clientID's event callback, mirroring
// cycle.Executor's invoker map for the process callback.
func (d *Dispatcher) RegisterInProcess(clientID int, fn InProcessFunc) {
	d.invokeMu.Lock()
	defer d.invokeMu.Unlock()
	d.invokers[clientID] = fn
}

// UnregisterInProcess removes clientID's event callback.
func (d *Dispatcher) UnregisterInProcess(clientID int) {
	d.invokeMu.Lock()
	defer d.invokeMu.Unlock()
	delete(d.invokers, clientID)
}

func (d *Dispatcher) invoker(clientID int) (InProcessFunc, bool) {
	d.invokeMu.Lock()
	defer d.invokeMu.Unlock()
	fn, ok := d.invokers[clientID]
	return fn, ok
}

// broadcast delivers evt to every active, non-dead, non-driver client.
func (d *Dispatcher) broadcast(evt Event) {
	for _, c := range d.reg.SortedActive() {
		d.deliver(c, evt)
	}
}

func (d *Dispatcher) deliver(client registry.Client, evt Event) {
	switch client.Type {
	case registry.ClientInProcess:
		d.deliverInProcess(client, evt)
	case registry.ClientExternal:
		d.deliverExternal(client, evt)
	default:
		// the driver client has no generic event callback; xruns and
		// buffer/sample-rate changes reach it through the driver adapter
		// directly, not this path.
	}
}

func (d *Dispatcher) deliverInProcess(client registry.Client, evt Event) {
	fn, ok := d.invoker(client.ID)
	if !ok {
		return
	}
	if err := fn(evt); err != nil {
		slog.Error("in-process event callback failed", "client", client.Name, "event", evt.Type, "error", err)
		d.fault(client.ID)
	}
}

func (d *Dispatcher) deliverExternal(client registry.Client, evt Event) {
	ch, err := d.acks.get(client.ID)
	if err != nil {
		return // no ack channel installed yet (mid-handshake); not a fault
	}

	if err := ch.WriteEvent(evt); err != nil {
		slog.Error("failed to write event to client", "client", client.Name, "event", evt.Type, "error", err)
		d.fault(client.ID)
		return
	}

	status, err := ch.ReadStatus(d.cfg.ackTimeout())
	if err != nil {
		slog.Error("failed to read event ack from client", "client", client.Name, "event", evt.Type, "error", err)
		d.fault(client.ID)
		return
	}
	if status != 0 {
		slog.Warn("client rejected event", "client", client.Name, "event", evt.Type, "status", status)
		d.fault(client.ID)
	}
}

func (d *Dispatcher) fault(clientID int) {
	if _, _, err := d.reg.IncrementErrorCount(clientID); err != nil {
		slog.Error("failed to record event-delivery fault", "client", clientID, "error", err)
	}
}

// PublishPortRegistered implements request.EventPublisher.
func (d *Dispatcher) PublishPortRegistered(portID int) {
	d.broadcast(Event{Type: PortRegistered, PortID: portID})
}

// PublishPortUnregistered implements request.EventPublisher.
func (d *Dispatcher) PublishPortUnregistered(portID int) {
	d.broadcast(Event{Type: PortUnregistered, PortID: portID})
}

// PublishPortConnected implements request.EventPublisher.
func (d *Dispatcher) PublishPortConnected(source, dest int) {
	d.broadcast(Event{Type: PortConnected, SourcePort: source, DestPort: dest})
}

// PublishPortDisconnected implements request.EventPublisher.
func (d *Dispatcher) PublishPortDisconnected(source, dest int) {
	d.broadcast(Event{Type: PortDisconnected, SourcePort: source, DestPort: dest})
}

// PublishBufferSizeChange broadcasts a new period length, for the
// engine-level buffer-size control surface (not itself a request-plane
// operation per spec §4.5's request list).
func (d *Dispatcher) PublishBufferSizeChange(frames int) {
	d.broadcast(Event{Type: BufferSizeChange, BufferFrames: frames})
}

// PublishSampleRateChange broadcasts a new sample rate.
func (d *Dispatcher) PublishSampleRateChange(rate int) {
	d.broadcast(Event{Type: SampleRateChange, SampleRate: rate})
}

// PublishGraphReordered implements graph.EventPublisher. Unlike the other
// events, each recipient gets its own payload (its new execution_order),
// so this delivers individually rather than broadcasting one shared Event.
func (d *Dispatcher) PublishGraphReordered(events []graph.ReorderEvent) {
	for _, re := range events {
		client, err := d.reg.Get(re.ClientID)
		if err != nil {
			continue
		}
		d.deliver(client, Event{Type: GraphReordered, ExecutionOrder: re.ExecutionOrder})
	}
}

// PublishXRun implements cycle.XRunPublisher.
func (d *Dispatcher) PublishXRun() {
	d.broadcast(Event{Type: XRun})
}

// PublishNewPortType implements bufferpool.EventPublisher.
func (d *Dispatcher) PublishNewPortType(evt bufferpool.NewPortType) {
	d.broadcast(Event{
		Type:           NewPortType,
		PortTypeID:     evt.TypeID,
		PortTypeName:   evt.TypeName,
		SegmentName:    evt.SegmentName,
		TypeBufferSize: evt.BufferSize,
		TypeNumBuffers: evt.NumBuffers,
		TypeAttachName: evt.AttachName,
	})
}
