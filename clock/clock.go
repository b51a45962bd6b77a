// Package clock maintains the engine's frame counter and wall-clock time
// record using a two-guard-word sequence lock, so the cycle executor can
// publish a new (frame, stamp) pair without blocking any reader and readers
// never observe a torn update.
//
// The protocol: the writer bumps guard1 to an odd value (write in progress),
// writes every field, then stores the next even value into guard2 and then
// into guard1, so both guards match again. A reader
// reads guard2, then the fields, then guard1, and retries unless guard1 ==
// guard2 and the value is even — odd means a writer is mid-update, and an
// inequality means the reader straddled a write.
package clock

import (
	"sync/atomic"

	"github.com/vortexaudio/graphd/pkg/timestamp"
)

// Time is the shared, lock-free-readable time record. FrameRate,
// UsecsAtStart, Frame and Usecs are preserved by RotatePending; every other
// field is subject to being overwritten by the timebase client between
// rotations.
type Time struct {
	Frame        uint64
	UsecsAtStart int64 // engine start time, milliseconds since epoch
	Usecs        int64 // microseconds elapsed since UsecsAtStart
	FrameRate    int
	BBT          BBTPosition
}

// BBTPosition is the transport position fields only the timebase client may
// mutate (bar/beat/tick and derived musical-time fields).
type BBTPosition struct {
	Bar            int32
	Beat           int32
	Tick           int32
	BarStartTick   float64
	BeatsPerBar    float64
	BeatType       float64
	TicksPerBeat   float64
	BeatsPerMinute float64
	Valid          bool
}

// Clock publishes a current Time record guarded by the two-guard-word
// protocol, plus a separate pending record the timebase client may stage
// changes into ahead of the next rotation.
type Clock struct {
	guard1 atomic.Uint64
	guard2 atomic.Uint64
	frame  atomic.Uint64

	current Time
	pending Time

	sampleRate int
	startedAt  int64
}

// New creates a Clock ticking at the given sample rate. startedAt is
// recorded as the engine-epoch reference point in milliseconds.
func New(sampleRate int) *Clock {
	c := &Clock{
		sampleRate: sampleRate,
		startedAt:  timestamp.Now(),
	}
	c.current = Time{FrameRate: sampleRate, UsecsAtStart: c.startedAt}
	c.pending = c.current
	return c
}

// publish applies mutate to the current record under the guard-word
// protocol: the even-odd-even dance every writer goes through.
func (c *Clock) publish(mutate func(*Time)) {
	seq := c.guard1.Add(1) // odd: write in progress
	mutate(&c.current)
	c.guard2.Store(seq + 1) // even: write complete, matches next guard1 bump
	c.guard1.Store(seq + 1)
}

// Advance moves the frame counter forward by nframes and republishes the
// current Time record under the guard-word protocol. Called once per cycle
// by the cycle executor, never concurrently with itself.
func (c *Clock) Advance(nframes uint32) {
	newFrame := c.frame.Add(uint64(nframes))
	elapsedUsecs := (timestamp.Now() - c.startedAt) * 1000
	c.publish(func(t *Time) {
		t.Frame = newFrame
		t.Usecs = elapsedUsecs
	})
}

// Read returns a consistent snapshot of the current Time record, retrying
// internally until it observes a stable (even, matching) pair of guards.
func (c *Clock) Read() Time {
	for {
		g2 := c.guard2.Load()
		snap := c.current
		g1 := c.guard1.Load()
		if g1 == g2 && g1%2 == 0 {
			return snap
		}
	}
}

// Frame returns the current frame count without taking the full Time
// snapshot; safe for hot-path callers that only need the counter.
func (c *Clock) Frame() uint64 {
	return c.frame.Load()
}

// RotatePending copies the pending record (as staged by the timebase
// client) into the current record, preserving FrameRate, UsecsAtStart,
// Frame and Usecs from the current record rather than letting the timebase
// client override them; the frame counter and elapsed time stay owned by
// Advance.
func (c *Clock) RotatePending() {
	pending := c.pending
	c.publish(func(t *Time) {
		frameRate := t.FrameRate
		usecsAtStart := t.UsecsAtStart
		frame := t.Frame
		usecs := t.Usecs
		*t = pending
		t.FrameRate = frameRate
		t.UsecsAtStart = usecsAtStart
		t.Frame = frame
		t.Usecs = usecs
	})
}

// PendingBBT returns a copy of the staged pending transport position, for
// the timebase client to read-modify-write.
func (c *Clock) PendingBBT() BBTPosition {
	return c.pending.BBT
}

// SetPendingBBT stages a new transport position. Only the registry's
// recorded timebase client is permitted to call this; enforcement lives in
// the request plane, not here, since the clock has no notion of client
// identity.
func (c *Clock) SetPendingBBT(bbt BBTPosition) {
	c.pending.BBT = bbt
}

// SampleRate returns the configured sample rate.
func (c *Clock) SampleRate() int {
	return c.sampleRate
}
