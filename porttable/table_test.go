package porttable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_FindsFirstFreeSlot(t *testing.T) {
	tbl := New(4)

	a, err := tbl.Register("in:a", 0, 1, FlagOutput)
	require.NoError(t, err)
	b, err := tbl.Register("in:b", 0, 1, FlagOutput)
	require.NoError(t, err)
	require.NoError(t, tbl.Unregister(a, 1))

	c, err := tbl.Register("in:c", 0, 1, FlagOutput)
	require.NoError(t, err)

	assert.Equal(t, a, c, "freed slot should be reused before growing further")
	assert.NotEqual(t, a, b)
}

func TestRegister_RejectsWhenFull(t *testing.T) {
	tbl := New(1)
	_, err := tbl.Register("p1", 0, 1, FlagOutput)
	require.NoError(t, err)

	_, err = tbl.Register("p2", 0, 1, FlagOutput)
	assert.Error(t, err)
}

func TestUnregister_RejectsWrongOwner(t *testing.T) {
	tbl := New(2)
	id, err := tbl.Register("p1", 0, 1, FlagOutput)
	require.NoError(t, err)

	err = tbl.Unregister(id, 2)
	assert.Error(t, err)

	port, err := tbl.Get(id)
	require.NoError(t, err)
	assert.True(t, port.InUse)
}

func TestFindByName_LinearLookup(t *testing.T) {
	tbl := New(4)
	_, err := tbl.Register("alpha", 0, 1, FlagOutput)
	require.NoError(t, err)
	_, err = tbl.Register("beta", 0, 1, FlagInput)
	require.NoError(t, err)

	found, ok := tbl.FindByName("beta")
	require.True(t, ok)
	assert.Equal(t, "beta", found.Name)

	_, ok = tbl.FindByName("gamma")
	assert.False(t, ok)
}

func TestPortsByClient_ReturnsOnlyOwnedPorts(t *testing.T) {
	tbl := New(4)
	_, err := tbl.Register("p1", 0, 1, FlagOutput)
	require.NoError(t, err)
	_, err = tbl.Register("p2", 0, 2, FlagOutput)
	require.NoError(t, err)
	_, err = tbl.Register("p3", 0, 1, FlagInput)
	require.NoError(t, err)

	ports := tbl.PortsByClient(1)
	assert.Len(t, ports, 2)
}

func TestSetBuffer_AndSetLatency(t *testing.T) {
	tbl := New(2)
	id, err := tbl.Register("p1", 0, 1, FlagOutput)
	require.NoError(t, err)

	require.NoError(t, tbl.SetBuffer(id, 1024, 256))
	require.NoError(t, tbl.SetLatency(id, 5, 20))

	port, err := tbl.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 1024, port.BufferOffset)
	assert.Equal(t, 256, port.BufferSize)
	assert.Equal(t, 5, port.Latency)
	assert.Equal(t, 20, port.TotalLatency)
}

func TestMonitorRequests_IncrementAndDecrement(t *testing.T) {
	tbl := New(2)
	id, err := tbl.Register("p1", 0, 1, FlagOutput)
	require.NoError(t, err)

	count, err := tbl.RequestMonitor(id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = tbl.RequestMonitor(id)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = tbl.ReleaseMonitor(id)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMonitorRequests_DoesNotGoNegative(t *testing.T) {
	tbl := New(2)
	id, err := tbl.Register("p1", 0, 1, FlagOutput)
	require.NoError(t, err)

	count, err := tbl.ReleaseMonitor(id)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGet_UnknownPortErrors(t *testing.T) {
	tbl := New(2)
	_, err := tbl.Get(0)
	assert.Error(t, err)
}

func TestForceRemove_ClearsSlotRegardlessOfOwner(t *testing.T) {
	tbl := New(2)
	id, err := tbl.Register("p1", 0, 1, FlagOutput)
	require.NoError(t, err)

	tbl.ForceRemove(id)

	_, err = tbl.Get(id)
	assert.Error(t, err)
}
