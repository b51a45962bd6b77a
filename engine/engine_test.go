package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexaudio/graphd/config"
	"github.com/vortexaudio/graphd/driver"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.ServerDir = t.TempDir()
	cfg.FramesPerPeriod = 64
	cfg.SampleRate = 48000
	cfg.MetricsAddr = "" // no HTTP listener needed for these tests
	return cfg
}

func TestNew_WiresEveryComponent(t *testing.T) {
	cfg := testConfig(t)
	backend := driver.NewTimerBackend(uint32(cfg.FramesPerPeriod), cfg.SampleRate)

	e, err := New(cfg, backend, nil, nil, nil)
	require.NoError(t, err)

	assert.NotNil(t, e.clients)
	assert.NotNil(t, e.graph)
	assert.NotNil(t, e.exec)
	assert.NotNil(t, e.adapter)
	assert.NotNil(t, e.watchdog)
	assert.NotNil(t, e.server)
	assert.Equal(t, 0, e.driverClientID)

	client, err := e.clients.Get(e.driverClientID)
	require.NoError(t, err)
	assert.Equal(t, "driver", client.Name)

	types := e.pool.Types()
	require.Len(t, types, 1)
	assert.Equal(t, audioPortTypeName, types[0].TypeName)
}

func TestNew_RejectsNilConfig(t *testing.T) {
	_, err := New(nil, driver.NewTimerBackend(64, 48000), nil, nil, nil)
	assert.Error(t, err)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.SampleRate = 0

	_, err := New(cfg, driver.NewTimerBackend(64, 48000), nil, nil, nil)
	assert.Error(t, err)
}

func TestRun_CancelledContext_ReturnsCleanly(t *testing.T) {
	cfg := testConfig(t)
	backend := driver.NewTimerBackend(uint32(cfg.FramesPerPeriod), cfg.SampleRate)

	e, err := New(cfg, backend, nil, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = e.Run(ctx)
	assert.NoError(t, err)
}

func TestNew_MetricsServerOnlyWhenAddrConfigured(t *testing.T) {
	cfg := testConfig(t)
	backend := driver.NewTimerBackend(uint32(cfg.FramesPerPeriod), cfg.SampleRate)

	e, err := New(cfg, backend, nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, e.metricsServer)

	cfg.MetricsAddr = ":0"
	e, err = New(cfg, backend, nil, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, e.metricsServer)
}

func TestMetricsPort_ParsesHostPortAddr(t *testing.T) {
	port, err := metricsPort(":9090")
	require.NoError(t, err)
	assert.Equal(t, 9090, port)

	_, err = metricsPort("no-colon")
	assert.Error(t, err)
}
