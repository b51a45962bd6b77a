package driver

import "time"

// TimerBackend is a software Backend with no real hardware behind it: Wait
// blocks for one nominal period duration and then reports a fixed-size
// period, the same role jackd's "dummy" driver plays when no audio
// interface is attached. It exists so the engine can run end-to-end
// (composition root, connection server, request plane) without real
// hardware — development, demos, and anywhere the driver in spec §1's
// external-collaborator sense genuinely isn't available.
type TimerBackend struct {
	periodFrames uint32
	sampleRate   int
	period       time.Duration
}

// NewTimerBackend builds a TimerBackend for the given period size and
// sample rate; the wait period is derived from the two so the reported
// cycle rate matches what PeriodFrames()/SampleRate() imply.
func NewTimerBackend(periodFrames uint32, sampleRate int) *TimerBackend {
	periodSecs := float64(periodFrames) / float64(sampleRate)
	return &TimerBackend{
		periodFrames: periodFrames,
		sampleRate:   sampleRate,
		period:       time.Duration(periodSecs * float64(time.Second)),
	}
}

func (b *TimerBackend) Start() error { return nil }
func (b *TimerBackend) Stop() error  { return nil }

func (b *TimerBackend) Read(nframes uint32) error  { return nil }
func (b *TimerBackend) Write(nframes uint32) error { return nil }

func (b *TimerBackend) Wait() (nframes uint32, status int, delayedUsecs int64) {
	time.Sleep(b.period)
	return b.periodFrames, 0, 0
}

func (b *TimerBackend) NullCycle(nframes uint32) error { return nil }

func (b *TimerBackend) PeriodFrames() uint32 { return b.periodFrames }
func (b *TimerBackend) SampleRate() int      { return b.sampleRate }
