// Package cycle implements the per-period execution protocol: the ten-step
// sequence the driver callback runs every period (spec §4.4), plus the
// external-subgraph start/wait signalling protocol that lets the engine
// hand off a contiguous run of out-of-process clients to themselves and
// resume once the last one in the run reports back.
//
// Executor owns no client code. In-process clients are represented purely
// as a registered callback (RegisterInProcess); external clients are
// represented by the wakeup.Registry FIFO pair graph.Rebuild assigned them.
// Everything else — ordering, timeouts, fault bookkeeping, the graph
// lock — lives here.
package cycle
