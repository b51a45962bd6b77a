package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vortexaudio/graphd/registry"
)

// TestRunSubgraph_MultiClientRun_OnlyTerminatorIsAwaited exercises a run of
// two external clients sharing one start fifo (rechain's contiguous-run
// assignment, graph/graph.go's rechain): the first member should be
// signalled and marked Finished without the engine ever polling it
// directly, and only the terminator's wait fifo resolves the run.
func TestRunSubgraph_MultiClientRun_OnlyTerminatorIsAwaited(t *testing.T) {
	exec, reg, _, _, wake, _ := newTestExecutor(t, DefaultConfig())

	leaderID, err := reg.Register("leader", registry.ClientExternal, 1)
	require.NoError(t, err)
	termID, err := reg.Register("terminator", registry.ClientExternal, 2)
	require.NoError(t, err)

	require.NoError(t, reg.Activate(leaderID))
	require.NoError(t, reg.Activate(termID))
	require.NoError(t, reg.SetExecutionOrder(leaderID, 1))
	require.NoError(t, reg.SetExecutionOrder(termID, 2))
	require.NoError(t, reg.SetFDs(leaderID, 0, -1, -1, -1))
	require.NoError(t, reg.SetFDs(termID, 0, 0, -1, -1))
	require.NoError(t, wake.PreCreate(0))

	pair, err := wake.Pair(0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, pair.Start.Await(time.Second))
		require.NoError(t, pair.Wait.Signal())
	}()

	exit, err := exec.RunOnce(128, 0)
	require.NoError(t, err)
	assert.False(t, exit)
	<-done

	leader, err := reg.Get(leaderID)
	require.NoError(t, err)
	assert.Equal(t, registry.Finished, leader.State) // signalled, never individually awaited

	terminator, err := reg.Get(termID)
	require.NoError(t, err)
	assert.Equal(t, registry.Finished, terminator.State)
}
