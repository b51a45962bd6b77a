package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexaudio/graphd/bufferpool"
	"github.com/vortexaudio/graphd/errors"
	"github.com/vortexaudio/graphd/graph"
	"github.com/vortexaudio/graphd/porttable"
	"github.com/vortexaudio/graphd/registry"
)

const (
	typeAudio = 0 // primary, no mixdown
	typeMIDI  = 1 // mixdown-capable
)

func newTestHandler(t *testing.T) (*Handler, *registry.Registry, *porttable.Table, *bufferpool.Pool, *graph.Graph) {
	t.Helper()

	reg := registry.New(nil)
	ports := porttable.New(32)
	pool := bufferpool.New(128, 32, nil)
	require.NoError(t, pool.RegisterType(typeAudio, "audio", bufferpool.SizePolicy{ScaleFactor: 1, SampleElement: 4}, true))
	require.NoError(t, pool.RegisterType(typeMIDI, "midi", bufferpool.SizePolicy{FixedBytes: 256, Mixdown: true}, false))

	g := graph.New(reg, ports, -1, nil, nil)
	h := New(reg, ports, pool, g, nil, nil)
	return h, reg, ports, pool, g
}

func registerActiveClient(t *testing.T, reg *registry.Registry, g *graph.Graph, name string) int {
	t.Helper()
	id, err := reg.Register(name, registry.ClientExternal, 0)
	require.NoError(t, err)
	require.NoError(t, reg.Activate(id))
	_, err = g.Rebuild()
	require.NoError(t, err)
	return id
}

func TestRegisterPort_OutputGetsBufferSlot(t *testing.T) {
	h, reg, ports, _, g := newTestHandler(t)
	clientID := registerActiveClient(t, reg, g, "synth")

	portID, err := h.RegisterPort(clientID, "synth:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)

	port, err := ports.Get(portID)
	require.NoError(t, err)
	assert.Greater(t, port.BufferSize, 0)
	assert.Equal(t, clientID, port.OwnerClientID)
}

func TestRegisterPort_UnknownType_Rejected(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	clientID := registerActiveClient(t, reg, g, "client")

	_, err := h.RegisterPort(clientID, "client:out", 99, porttable.FlagOutput)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownPortType)
}

func TestRegisterPort_DuplicateName_Rejected(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	clientID := registerActiveClient(t, reg, g, "client")

	_, err := h.RegisterPort(clientID, "client:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)

	_, err = h.RegisterPort(clientID, "client:out", typeAudio, porttable.FlagOutput)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortNameTaken)
}

func TestConnectPorts_HappyPath_RecordsEdgeAndRebuilds(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	src := registerActiveClient(t, reg, g, "source")
	dst := registerActiveClient(t, reg, g, "sink")

	outPort, err := h.RegisterPort(src, "source:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	inPort, err := h.RegisterPort(dst, "sink:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)

	require.NoError(t, h.ConnectPorts(outPort, inPort))

	conns, err := h.GetPortConnections(inPort)
	require.NoError(t, err)
	assert.Equal(t, []int{outPort}, conns)

	n, err := h.GetPortNConnections(outPort)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConnectPorts_TypeMismatch_Rejected(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	src := registerActiveClient(t, reg, g, "source")
	dst := registerActiveClient(t, reg, g, "sink")

	outPort, err := h.RegisterPort(src, "source:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	inPort, err := h.RegisterPort(dst, "sink:in", typeMIDI, porttable.FlagInput)
	require.NoError(t, err)

	err = h.ConnectPorts(outPort, inPort)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortTypeMismatch)
}

func TestConnectPorts_NotOutputOrNotInput_Rejected(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	a := registerActiveClient(t, reg, g, "a")
	b := registerActiveClient(t, reg, g, "b")

	aIn, err := h.RegisterPort(a, "a:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)
	bIn, err := h.RegisterPort(b, "b:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)

	err = h.ConnectPorts(aIn, bIn)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortFlagMismatch)
}

func TestConnectPorts_LockedPort_Rejected(t *testing.T) {
	h, reg, ports, _, g := newTestHandler(t)
	src := registerActiveClient(t, reg, g, "source")
	dst := registerActiveClient(t, reg, g, "sink")

	outPort, err := h.RegisterPort(src, "source:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	inPort, err := h.RegisterPort(dst, "sink:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)

	require.NoError(t, ports.SetLocked(inPort, true))

	err = h.ConnectPorts(outPort, inPort)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortLocked)
}

func TestConnectPorts_SecondConnectionWithoutMixdown_Rejected(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	srcA := registerActiveClient(t, reg, g, "srcA")
	srcB := registerActiveClient(t, reg, g, "srcB")
	dst := registerActiveClient(t, reg, g, "sink")

	outA, err := h.RegisterPort(srcA, "srcA:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	outB, err := h.RegisterPort(srcB, "srcB:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	in, err := h.RegisterPort(dst, "sink:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)

	require.NoError(t, h.ConnectPorts(outA, in))

	err = h.ConnectPorts(outB, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDuplicateConnection)
}

func TestConnectPorts_SecondConnectionWithMixdown_Allowed(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	srcA := registerActiveClient(t, reg, g, "srcA")
	srcB := registerActiveClient(t, reg, g, "srcB")
	dst := registerActiveClient(t, reg, g, "sink")

	outA, err := h.RegisterPort(srcA, "srcA:out", typeMIDI, porttable.FlagOutput)
	require.NoError(t, err)
	outB, err := h.RegisterPort(srcB, "srcB:out", typeMIDI, porttable.FlagOutput)
	require.NoError(t, err)
	in, err := h.RegisterPort(dst, "sink:in", typeMIDI, porttable.FlagInput)
	require.NoError(t, err)

	require.NoError(t, h.ConnectPorts(outA, in))
	require.NoError(t, h.ConnectPorts(outB, in))

	n, err := h.GetPortNConnections(in)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestConnectPorts_InactiveOwner_Rejected(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	src := registerActiveClient(t, reg, g, "source")
	dst := registerActiveClient(t, reg, g, "sink")

	outPort, err := h.RegisterPort(src, "source:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	inPort, err := h.RegisterPort(dst, "sink:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)

	require.NoError(t, reg.Deactivate(dst))

	err = h.ConnectPorts(outPort, inPort)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrClientNotActive)
}

func TestDisconnectPort_RemovesEdge(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	src := registerActiveClient(t, reg, g, "source")
	dst := registerActiveClient(t, reg, g, "sink")

	outPort, err := h.RegisterPort(src, "source:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	inPort, err := h.RegisterPort(dst, "sink:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)
	require.NoError(t, h.ConnectPorts(outPort, inPort))

	require.NoError(t, h.DisconnectPort(outPort, inPort))

	n, err := h.GetPortNConnections(inPort)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDisconnectPort_NoSuchConnection_Rejected(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	src := registerActiveClient(t, reg, g, "source")
	dst := registerActiveClient(t, reg, g, "sink")

	outPort, err := h.RegisterPort(src, "source:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	inPort, err := h.RegisterPort(dst, "sink:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)

	err = h.DisconnectPort(outPort, inPort)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConnectionNotFound)
}

func TestUnRegisterPort_ReleasesBufferAndDisconnects(t *testing.T) {
	h, reg, ports, pool, g := newTestHandler(t)
	src := registerActiveClient(t, reg, g, "source")
	dst := registerActiveClient(t, reg, g, "sink")

	outPort, err := h.RegisterPort(src, "source:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	inPort, err := h.RegisterPort(dst, "sink:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)
	require.NoError(t, h.ConnectPorts(outPort, inPort))

	utilBefore, err := pool.Utilization(typeAudio)
	require.NoError(t, err)
	require.Greater(t, utilBefore, 0.0)

	require.NoError(t, h.UnRegisterPort(outPort, src))

	_, err = ports.Get(outPort)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortDoesNotExist)

	n, err := h.GetPortNConnections(inPort)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUnRegisterPort_WrongOwner_Rejected(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	owner := registerActiveClient(t, reg, g, "owner")
	intruder := registerActiveClient(t, reg, g, "intruder")

	portID, err := h.RegisterPort(owner, "owner:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)

	err = h.UnRegisterPort(portID, intruder)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOwnerMismatch)
}

func TestDeactivateClient_ClearsConnections(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	src := registerActiveClient(t, reg, g, "source")
	dst := registerActiveClient(t, reg, g, "sink")

	outPort, err := h.RegisterPort(src, "source:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)
	inPort, err := h.RegisterPort(dst, "sink:in", typeAudio, porttable.FlagInput)
	require.NoError(t, err)
	require.NoError(t, h.ConnectPorts(outPort, inPort))

	require.NoError(t, h.DeactivateClient(src))

	n, err := h.GetPortNConnections(inPort)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	client, err := reg.Get(src)
	require.NoError(t, err)
	assert.False(t, client.Active)
}

func TestSetTimeBaseClient_RequiresDeclaredCapability(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	clientID := registerActiveClient(t, reg, g, "tb")

	err := h.SetTimeBaseClient(clientID)
	require.Error(t, err)

	require.NoError(t, h.SetClientCapabilities(clientID, CapCanBeTimebase))
	require.NoError(t, h.SetTimeBaseClient(clientID))

	client, err := reg.Get(clientID)
	require.NoError(t, err)
	assert.True(t, client.IsTimebase)
}

func TestSetPortMonitor_RefCounts(t *testing.T) {
	h, reg, _, _, g := newTestHandler(t)
	clientID := registerActiveClient(t, reg, g, "monitor-target")

	portID, err := h.RegisterPort(clientID, "monitor-target:out", typeAudio, porttable.FlagOutput)
	require.NoError(t, err)

	count, err := h.SetPortMonitor(portID, true)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = h.SetPortMonitor(portID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = h.SetPortMonitor(portID, false)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
