package driver

import "time"

// Backend is the actual audio I/O device (ALSA, CoreAudio, a virtual/null
// device for testing) the Adapter wraps. Spec §4.9's "attach/detach" are
// split here into construction (the caller builds a Backend already
// attached to its device) and Adapter.Attach, which only does the
// engine-side rolling_interval bookkeeping the spec assigns to attach
// time — the Backend itself owns device-level attach/detach.
type Backend interface {
	Start() error
	Stop() error
	Read(nframes uint32) error
	Write(nframes uint32) error

	// Wait blocks for the next period. nframes == 0 signals a
	// driver-internal restart (the caller should broadcast XRun and
	// continue); status < 0 is fatal; delayedUsecs is how late this
	// wakeup arrived relative to the expected period boundary.
	Wait() (nframes uint32, status int, delayedUsecs int64)

	NullCycle(nframes uint32) error

	PeriodFrames() uint32
	SampleRate() int
}

// Config tunes the Adapter's rolling-average bookkeeping.
type Config struct {
	// RollingIntervalMs is ROLLING_INTERVAL_MS from spec §4.9/§6: the
	// window, in milliseconds, the rolling_interval cycle count is
	// derived from at attach time.
	RollingIntervalMs int

	// MinRestartIntervalMs bounds how often Start may be invoked
	// end-to-end (across separate restart events, not within one call's
	// internal retry backoff) — the rate.Limiter guard against
	// hot-looping on a driver that fails immediately on every attempt.
	MinRestartIntervalMs int
}

// DefaultConfig matches cycle's own default rolling window.
func DefaultConfig() Config {
	return Config{RollingIntervalMs: 1000, MinRestartIntervalMs: 1000}
}

func (c Config) restartInterval() time.Duration {
	return time.Duration(c.MinRestartIntervalMs) * time.Millisecond
}
