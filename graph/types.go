package graph

// Connection is a single source-port-to-destination-port edge. Precondition
// checks (type match, ownership, locks, mixdown requirement) are the
// request plane's responsibility (spec §4.5); Graph only records and
// indexes already-validated connections.
type Connection struct {
	SourcePort int
	DestPort   int
}

// ChainAssignment is the per-client result of rechain: the FIFO handles a
// client uses for the subgraph start/wait signalling protocol. StartFD/
// WaitFD of -1 mean "not applicable" (in-process clients have no start
// fd; non-terminating externals in a run have no wait fd).
type ChainAssignment struct {
	ClientID       int
	ExecutionOrder int
	StartFD        int
	WaitFD         int
}

// ReorderEvent is the per-client payload of the GraphReordered broadcast
// fired after every sort (spec §4.3 "deliver a GraphReordered event to
// every active client carrying the client's new execution_order").
type ReorderEvent struct {
	ClientID       int
	ExecutionOrder int
}

// EventPublisher is the minimal surface Graph needs from the event plane.
// Kept narrow here, as in package bufferpool, to avoid an import cycle.
type EventPublisher interface {
	PublishGraphReordered(events []ReorderEvent)
}

// FIFOAllocator lets the graph package pre-create the next subgraph FIFO
// before the reorder event referencing it goes out, per spec §4.3 ("FIFO
// execution_order+1 is pre-created before the reorder event is
// delivered"). Implemented by package wakeup.
type FIFOAllocator interface {
	PreCreate(fifoIndex int) error
}
