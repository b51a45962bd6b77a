// Package engine is the composition root for the coordination core: it
// wires registry, porttable, bufferpool, wakeup, graph, event, cycle,
// request, driver, watchdog and server into one running instance and
// supervises their goroutines for the lifetime of a process.
//
// # Wiring order
//
// Construction follows the dependency order the packages themselves
// impose: the client registry and port table have no dependencies of
// their own; the buffer pool needs the event dispatcher to announce new
// port types; the graph needs the registry, port table, a pre-registered
// driver client id, the event dispatcher and the wakeup FIFO allocator;
// the cycle executor needs all of the above plus the driver adapter; the
// request handler needs the graph, registry, port table, buffer pool and
// event dispatcher; the driver adapter is wired to the executor after
// both exist, since each holds a reference to the other; the watchdog
// and connection server are the last layer, each depending only on
// narrow interfaces (see the respective types.go in each package) so
// this package is the only place that ever imports every concrete type.
//
// # Supervision
//
// Run starts the cycle-driving goroutine, the connection server's accept
// loops, the watchdog's liveness loop and the metrics HTTP server (when
// configured) under one errgroup.Group: the first one to return an error
// cancels the shared context and Run waits for the rest to unwind before
// returning that error, mirroring how jackd tears down a run on the
// first fatal condition rather than leaving stray goroutines behind.
package engine
