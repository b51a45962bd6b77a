// Package registry holds the Client Registry: every client record known to
// the engine, keyed by both its monotonically-assigned id and its unique
// name, plus the handful of per-client fields (state, fds, error count,
// timebase role) that the request plane, cycle executor, and watchdog all
// need to read and mutate under the graph lock.
//
// The registry does not itself compute fed_by, execution_order, or the
// topological sort — those are the graph package's responsibility, against
// the accessors this package exposes.
package registry
