package driver

import "sync/atomic"

// scriptedBackend is a Backend test double driven by a fixed sequence of
// Wait() results. Once the script is exhausted it returns a fatal status,
// so Run terminates deterministically instead of spinning forever on a
// repeated last entry.
type scriptedBackend struct {
	periodFrames uint32
	sampleRate   int

	waits []waitResult
	idx   atomic.Int32

	startCount atomic.Int32
	stopCount  atomic.Int32
	readCount  atomic.Int32
	writeCount atomic.Int32
	nullCount  atomic.Int32

	startErr error
	readErr  error
	writeErr error
}

type waitResult struct {
	nframes      uint32
	status       int
	delayedUsecs int64
}

func (b *scriptedBackend) Start() error {
	b.startCount.Add(1)
	return b.startErr
}

func (b *scriptedBackend) Stop() error {
	b.stopCount.Add(1)
	return nil
}

func (b *scriptedBackend) Read(nframes uint32) error {
	b.readCount.Add(1)
	return b.readErr
}

func (b *scriptedBackend) Write(nframes uint32) error {
	b.writeCount.Add(1)
	return b.writeErr
}

func (b *scriptedBackend) NullCycle(nframes uint32) error {
	b.nullCount.Add(1)
	return nil
}

// Wait returns the next scripted result; once the script is exhausted it
// returns a fatal status so Run terminates deterministically instead of
// spinning on a repeated last entry.
func (b *scriptedBackend) Wait() (uint32, int, int64) {
	i := b.idx.Add(1) - 1
	if int(i) >= len(b.waits) {
		return 128, -1, 0
	}
	w := b.waits[i]
	return w.nframes, w.status, w.delayedUsecs
}

func (b *scriptedBackend) PeriodFrames() uint32 { return b.periodFrames }
func (b *scriptedBackend) SampleRate() int      { return b.sampleRate }
