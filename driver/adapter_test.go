package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexaudio/graphd/clock"
	"github.com/vortexaudio/graphd/cycle"
	"github.com/vortexaudio/graphd/graph"
	"github.com/vortexaudio/graphd/porttable"
	"github.com/vortexaudio/graphd/registry"
	"github.com/vortexaudio/graphd/wakeup"
)

func newTestAdapter(t *testing.T, backend *scriptedBackend) (*Adapter, *fakeXRunPublisher) {
	t.Helper()

	reg := registry.New(nil)
	ports := porttable.New(16)
	wake := wakeup.New()
	g := graph.New(reg, ports, -1, nil, nil)

	xrun := &fakeXRunPublisher{}
	a := New(backend, xrun, DefaultConfig())

	exec := cycle.New(clock.New(48000), g, reg, ports, wake, a, nil, cycle.DefaultConfig())
	a.SetExecutor(exec)

	return a, xrun
}

type fakeXRunPublisher struct {
	count int
}

func (f *fakeXRunPublisher) PublishXRun() { f.count++ }

func TestAttach_ComputesRollingInterval(t *testing.T) {
	backend := &scriptedBackend{periodFrames: 128, sampleRate: 48000}
	a, _ := newTestAdapter(t, backend)

	require.NoError(t, a.Attach())

	// period_usecs = 128 * 1e6 / 48000 ≈ 2666.67; rolling_interval =
	// floor(1000 * 1000 / 2666.67) = 375.
	assert.Equal(t, 375, a.RollingInterval())
}

func TestAttach_ZeroPeriod_Rejected(t *testing.T) {
	backend := &scriptedBackend{periodFrames: 0, sampleRate: 48000}
	a, _ := newTestAdapter(t, backend)

	err := a.Attach()
	require.Error(t, err)
}

func TestRun_NFramesZero_BroadcastsXRunAndContinues(t *testing.T) {
	backend := &scriptedBackend{
		periodFrames: 128,
		sampleRate:   48000,
		waits: []waitResult{
			{nframes: 0, status: 0},
			{nframes: 128, status: 0},
		},
	}
	a, xrun := newTestAdapter(t, backend)

	err := a.Run(context.Background())
	require.Error(t, err) // scripted exhaustion ends in a fatal status
	assert.Equal(t, 1, xrun.count)
	assert.Equal(t, int32(1), backend.readCount.Load())
}

func TestRun_FatalStatus_ReturnsError(t *testing.T) {
	backend := &scriptedBackend{
		periodFrames: 128,
		sampleRate:   48000,
		waits:        []waitResult{{nframes: 128, status: -1}},
	}
	a, _ := newTestAdapter(t, backend)

	err := a.Run(context.Background())
	require.Error(t, err)
}

func TestRun_ContextCancelled_ReturnsContextError(t *testing.T) {
	backend := &scriptedBackend{
		periodFrames: 128,
		sampleRate:   48000,
		waits:        []waitResult{{nframes: 128, status: 0}},
	}
	a, _ := newTestAdapter(t, backend)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_WithoutExecutor_Rejected(t *testing.T) {
	backend := &scriptedBackend{periodFrames: 128, sampleRate: 48000}
	a := New(backend, nil, DefaultConfig())

	err := a.Run(context.Background())
	require.Error(t, err)
}
