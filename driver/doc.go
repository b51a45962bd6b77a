// Package driver implements the Driver Adapter (spec §4.9): the thin shim
// between one physical or virtual audio Backend and the Cycle Executor.
// Adapter's Read/Write/Stop/Start/NullCycle satisfy cycle.Driver by
// delegating straight to Backend; Run owns the wait loop that turns each
// Backend.Wait() into either an XRun broadcast, a fatal abort, or a call
// into cycle.Executor.RunOnce.
package driver
