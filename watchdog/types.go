package watchdog

import (
	"time"

	"github.com/vortexaudio/graphd/registry"
)

// LivenessChecker is the minimal surface the watchdog needs from the
// cycle executor, kept narrow so tests can substitute a stub instead of
// building a full Executor. *cycle.Executor satisfies this directly.
type LivenessChecker interface {
	// ConsumeWatchdogCheck reads and clears the liveness flag set once
	// per cycle. A false return means no cycle has run since the last
	// call — the stall condition this package exists to detect.
	ConsumeWatchdogCheck() bool
	// CurrentClientID returns whoever step 7 most recently dispatched
	// to, or -1 if no cycle has dispatched yet.
	CurrentClientID() int
}

// ClientLookup is the minimal registry surface needed to resolve a
// stalled client's OS process for isolation.
type ClientLookup interface {
	Get(id int) (registry.Client, error)
}

// ProcessKiller isolates a single client's OS process on a confirmed
// stall. The default implementation (SyscallKiller) sends SIGKILL to the
// client's process group, mirroring jackd's watchdog_thread; tests
// substitute a recording stub.
type ProcessKiller interface {
	// Kill terminates pid's entire process group. pid <= 0 (an
	// in-process client, or no client was ever dispatched) is a no-op.
	Kill(pid int) error
}

// Metrics is the minimal metric.Metrics surface the watchdog needs.
type Metrics interface {
	RecordWatchdogFailure()
}

// Config tunes the watchdog's liveness cadence.
type Config struct {
	// CheckInterval is the liveness check period — 5 seconds per spec
	// §4.8.
	CheckInterval time.Duration
}

// DefaultConfig matches spec §4.8's 5-second cadence.
func DefaultConfig() Config {
	return Config{CheckInterval: 5 * time.Second}
}
