package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerBackend_ReportsConfiguredPeriodAndRate(t *testing.T) {
	b := NewTimerBackend(128, 48000)
	assert.Equal(t, uint32(128), b.PeriodFrames())
	assert.Equal(t, 48000, b.SampleRate())
}

func TestTimerBackend_WaitBlocksApproximatelyOnePeriod(t *testing.T) {
	b := NewTimerBackend(4800, 48000) // 100ms period
	start := time.Now()
	nframes, status, delayed := b.Wait()
	elapsed := time.Since(start)

	assert.Equal(t, uint32(4800), nframes)
	assert.Equal(t, 0, status)
	assert.Equal(t, int64(0), delayed)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestTimerBackend_LifecycleMethodsNeverError(t *testing.T) {
	b := NewTimerBackend(128, 48000)
	assert.NoError(t, b.Start())
	assert.NoError(t, b.Read(128))
	assert.NoError(t, b.Write(128))
	assert.NoError(t, b.NullCycle(128))
	assert.NoError(t, b.Stop())
}
