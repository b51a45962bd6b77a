// Package event implements the event plane (spec §4.6): the engine's
// one-way, then-one-status-byte notification protocol. In-process clients
// are dispatched by a direct function call; external clients receive an
// encoded Event over their installed ack channel and must write back a
// single status byte, which the engine reads with a bounded timeout. A
// failed write, failed read, or non-zero status counts as a fault against
// the client, the same error-counting path the cycle executor uses for a
// lost subgraph run.
//
// Dispatcher implements the narrow EventPublisher interfaces that
// bufferpool, graph, and request each declare locally to avoid importing
// this package, plus cycle.XRunPublisher.
package event
