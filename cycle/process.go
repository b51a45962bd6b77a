package cycle

import (
	"errors"
	"log/slog"

	"github.com/vortexaudio/graphd/registry"
	"github.com/vortexaudio/graphd/wakeup"
)

// processClients is step 7: iterate the sorted, active client list once,
// running in-process callbacks synchronously and the external-subgraph
// protocol for out-of-process runs. It returns the number of clients
// whose processing failed this cycle; a non-zero count means step 8
// skips driver.write and restarts the driver.
func (e *Executor) processClients(nframes uint32) int {
	sorted := e.reg.SortedActive()

	startedRuns := make(map[int]bool)
	processErrors := 0

	for _, client := range sorted {
		if processErrors > 0 {
			break
		}

		e.currentClient.Store(int64(client.ID))
		_ = e.reg.SetState(client.ID, registry.NotTriggered)

		switch client.Type {
		case registry.ClientInProcess, registry.ClientDriver:
			_ = e.reg.SetState(client.ID, registry.Running)
			if err := e.invoke(client.ID, nframes); err != nil {
				slog.Error("in-process client failed", "client", client.Name, "error", err)
				_, over, _ := e.reg.IncrementErrorCount(client.ID)
				e.queueFault(client.ID, over)
				processErrors++
				continue
			}
			_ = e.reg.SetState(client.ID, registry.Finished)

		default:
			processErrors += e.runSubgraph(client, startedRuns)
		}
	}

	return processErrors
}

// runSubgraph implements the external-subgraph protocol for one client in
// a run. It signals the run's start fd at most once (the first member
// reached triggers it for the whole run) and, if client is the run's
// terminator (WaitFD >= 0), polls the wait fd and resolves the outcome.
func (e *Executor) runSubgraph(client registry.Client, startedRuns map[int]bool) int {
	if !startedRuns[client.SubgraphStartFD] {
		_ = e.reg.SetState(client.ID, registry.Triggered)
		_ = e.reg.RecordSignalled(client.ID)

		if err := e.wake.Start(client.SubgraphStartFD); err != nil {
			slog.Error("failed to signal subgraph start", "client", client.Name, "error", err)
			_, over, _ := e.reg.IncrementErrorCount(client.ID)
			e.queueFault(client.ID, over)
			return 1
		}
		// We have evidence the client was signalled; awake_at > 0 from
		// here on means "given the chance to run," distinguishing a slow
		// or stuck client (counts toward timed_out/error below) from one
		// the engine never reached at all (forgiven, per spec §4.4).
		_ = e.reg.RecordAwake(client.ID)
		startedRuns[client.SubgraphStartFD] = true
	}

	if client.SubgraphWaitFD < 0 {
		// Not the run's terminator: the engine's involvement ends at the
		// signal (or, if it wasn't the one that signalled, nothing at
		// all). Mark it Finished so post-process's lingering-state sweep
		// doesn't mistake "the engine has no more steps for this client"
		// for "this client never responded."
		_ = e.reg.SetState(client.ID, registry.Finished)
		return 0
	}

	err := e.wake.Await(client.SubgraphWaitFD, e.cfg.waitTimeout())
	switch {
	case err == nil:
		_ = e.reg.SetState(client.ID, registry.Finished)
		return 0

	case errors.Is(err, wakeup.ErrTimeout):
		// Leave state as Triggered and stop here: post-process's sweep
		// (spec §4.4 step 9) re-examines every client still Triggered/
		// Running with awake_at > 0 and owns the entire timed_out/error
		// rule, including the counter increment. Bumping it here too
		// would count this single bad cycle twice, crossing the
		// two-consecutive-cycles threshold (spec §8 scenario 4) on the
		// very first timeout.
		return 0

	default:
		slog.Error("lost client", "client", client.Name, "error", err)
		_, over, _ := e.reg.IncrementErrorCount(client.ID)
		e.queueFault(client.ID, over)
		return 1
	}
}
