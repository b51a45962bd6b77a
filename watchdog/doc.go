// Package watchdog implements the Watchdog & Fault Isolator (spec §4.8):
// a dedicated goroutine that wakes on a fixed cadence and checks that at
// least one cycle has run since its last wake. A missed liveness check
// means the engine itself is presumed stalled — distinct from the
// per-client zombify/remove fault path in package registry/cycle, which
// handles a single misbehaving client without the engine ever losing
// liveness. The watchdog's job is narrower and more drastic: isolate
// whichever client was running when the stall was detected, then bring
// the engine down.
package watchdog
