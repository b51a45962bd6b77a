package cycle

import "time"

// Driver is the narrow surface the cycle executor needs from the driver
// adapter (spec §4.9). Defined here, not imported from package driver, so
// driver can depend on cycle's types without an import cycle; driver.Adapter
// satisfies this structurally.
type Driver interface {
	Read(nframes uint32) error
	Write(nframes uint32) error
	NullCycle(nframes uint32) error
	Stop() error
	Start() error
}

// XRunPublisher is the minimal event-plane surface the executor needs to
// broadcast an XRun, per spec §4.4 step 2 and §4.6.
type XRunPublisher interface {
	PublishXRun()
}

// InProcessFunc is an in-process client's process callback, invoked
// synchronously once per cycle with the period's frame count.
type InProcessFunc func(nframes uint32) error

// Config holds the executor's per-engine tunables, set once at construction
// from the engine's configuration (spec §6).
type Config struct {
	// RealTime gates the delayed-callback/WORK_SCALE check (step 2) and
	// selects which of PeriodUsecs/ClientTimeoutMsecs bounds the external
	// subgraph wait (spec §4.4's "real-time vs. non-RT" distinction).
	RealTime bool

	// PeriodUsecs is one period's budget in microseconds, derived from
	// frames_per_period/sample_rate. Feeds the rolling spare_usecs/cpu_load
	// computation (see cpuload.go) and, divided by 1000, the real-time
	// subgraph-wait timeout.
	PeriodUsecs float64

	// ClientTimeoutMsecs bounds the subgraph wait when RealTime is false.
	ClientTimeoutMsecs int

	// WorkScale multiplies spare_usecs in step 2's delayed-callback test.
	// The spec names the constant but not its value; 0.25 matches the
	// conventional reading that a callback delayed past a quarter of the
	// period's budget already risks an audible glitch. spare_usecs itself
	// is the rolling-max-derived quantity cpuload.go maintains, per
	// original_source/jackd/engine.c's jack_calc_cpu_load — not PeriodUsecs
	// directly.
	WorkScale float64

	// MaxConsecutiveDelays bounds the counter in step 2; the delay that
	// takes the counter past this value (the 11th, with the default of 10)
	// exits the main loop.
	MaxConsecutiveDelays int

	// RollingIntervalMs is ROLLING_INTERVAL_MS (spec §4.9): converted to a
	// cycle count (rollingInterval, in cpuload.go) the same way
	// package driver's Adapter.Attach does, gating how often the rolling
	// window recomputes spare_usecs and cpu_load (spec §4.11).
	RollingIntervalMs int
}

// DefaultConfig returns the tunables used when the caller doesn't override
// them, matching the values called out above.
func DefaultConfig() Config {
	return Config{
		WorkScale:            0.25,
		MaxConsecutiveDelays: 10,
		ClientTimeoutMsecs:   500,
		RollingIntervalMs:    1000,
	}
}

func (c Config) waitTimeout() time.Duration {
	if c.RealTime {
		return time.Duration(c.PeriodUsecs/1000) * time.Millisecond
	}
	return time.Duration(c.ClientTimeoutMsecs) * time.Millisecond
}
