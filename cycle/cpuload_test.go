package cycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vortexaudio/graphd/clock"
	"github.com/vortexaudio/graphd/graph"
	"github.com/vortexaudio/graphd/porttable"
	"github.com/vortexaudio/graphd/registry"
	"github.com/vortexaudio/graphd/wakeup"
)

func newBareExecutor(cfg Config) *Executor {
	reg := registry.New(nil)
	ports := porttable.New(4)
	wake := wakeup.New()
	g := graph.New(reg, ports, -1, nil, wake)
	return New(clock.New(48000), g, reg, ports, wake, &fakeDriver{}, nil, cfg)
}

func TestRecordCPUSample_RecomputesOnEveryCycleWhenIntervalIsOne(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeriodUsecs = 1000
	cfg.RollingIntervalMs = 1 // floor(1*1000/1000) == 1: recompute every cycle
	e := newBareExecutor(cfg)

	e.recordCPUSample(250, 1000) // a quarter of the period used
	assert.InDelta(t, 750, e.spareUsecs, 1e-9)
	assert.InDelta(t, (1-750.0/1000)*50, e.CPULoad(), 1e-9)
}

func TestRecordCPUSample_OnlyRecomputesEveryRollingInterval(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeriodUsecs = 1000
	cfg.RollingIntervalMs = 4 // floor(4*1000/1000) == 4
	e := newBareExecutor(cfg)

	e.recordCPUSample(900, 1000) // 1st of 4: not a recompute boundary
	assert.InDelta(t, 1000, e.spareUsecs, 1e-9)
	e.recordCPUSample(100, 1000) // 2nd
	e.recordCPUSample(100, 1000) // 3rd
	assert.InDelta(t, 1000, e.spareUsecs, 1e-9)

	e.recordCPUSample(100, 1000) // 4th: recompute over the rolling window
	assert.InDelta(t, 100, e.spareUsecs, 1e-9) // period - max(900,100,100,100)
}

func TestRecordCPUSample_MaxOverPeriodClampsSpareToZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeriodUsecs = 1000
	cfg.RollingIntervalMs = 1
	e := newBareExecutor(cfg)

	e.recordCPUSample(1500, 1000) // cycle overran the period
	assert.Zero(t, e.spareUsecs)
	assert.InDelta(t, 50, e.CPULoad(), 1e-9) // (1-0/1000)*50 + 0*0.5
}

func TestRecordCPUSample_RollsOverAfterWindowFills(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PeriodUsecs = 1000
	cfg.RollingIntervalMs = 1
	e := newBareExecutor(cfg)

	// Write one high-water sample, then enough low samples to fill the
	// rest of the window without quite wrapping back around to it: the
	// old sample is still counted in the rolling max.
	e.recordCPUSample(900, 1000)
	for i := 0; i < rollingWindowSize-1; i++ {
		e.recordCPUSample(100, 1000)
	}
	assert.InDelta(t, 100, e.spareUsecs, 1e-9) // period - max(900, 100, ...)

	// One more sample wraps the circular index back to the 900 entry and
	// overwrites it: the rolling max now reflects only recent usecs.
	e.recordCPUSample(100, 1000)
	assert.InDelta(t, 900, e.spareUsecs, 1e-9) // period - max(100, ...) == 900
}

func TestUpdateCPULoad_DerivesPeriodFromSampleRateWhenUnset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RollingIntervalMs = 1
	e := newBareExecutor(cfg)
	e.cfg.PeriodUsecs = 0 // force derivation from clk.SampleRate()

	// 128 frames at 48kHz is one period of ~2666us; a 1333us cycle leaves
	// about half the period spare.
	e.updateCPULoad(128, 1333)
	assert.InDelta(t, 1333, e.spareUsecs, 5)
}
