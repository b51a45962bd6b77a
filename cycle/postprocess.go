package cycle

import (
	"log/slog"

	"github.com/vortexaudio/graphd/registry"
)

// postProcess is step 9: roll the frame clock's pending fields into
// current, sweep for clients left dangling in Triggered/Running, and feed
// this cycle's processing time into the rolling spare_usecs/cpu_load
// computation (cpuload.go).
//
// The spec's step 9 attributes the zombify/remove rule to "§4.10", but
// §4.10 defines the silent buffer, not client fault states — those live
// in §4.8. queueFault/finalizeFaults below implement §4.8's thresholds; this is
// presumed a cross-reference slip in the source text, not a distinct
// third rule.
func (e *Executor) postProcess(nframes uint32, cycleUsecs int64) {
	e.clk.RotatePending()

	for _, client := range e.reg.SortedActive() {
		if client.Dead {
			continue
		}
		if client.State != registry.Triggered && client.State != registry.Running {
			continue
		}
		if client.AwakeAt == 0 {
			continue // scheduler-fault timeout the engine never reached; forgiven
		}

		// This sweep owns the entire timed_out/error rule: a client still
		// Triggered/Running here missed its subgraph wait this cycle
		// (runSubgraph leaves it Triggered on timeout without touching the
		// counter itself). One increment per cycle a client is caught here
		// means the threshold below is crossed only after two separate
		// consecutive cycles, per spec §8 scenario 4.
		count, _ := e.reg.IncrementTimedOut(client.ID)
		if count < 2 {
			continue
		}
		_, over, _ := e.reg.IncrementErrorCount(client.ID)
		e.queueFault(client.ID, over)
	}

	e.updateCPULoad(nframes, cycleUsecs)
}

// faultRecord is one client's pending zombify/remove, queued while the
// graph lock is held and applied once it is released (see queueFault).
type faultRecord struct {
	clientID            int
	overSocketThreshold bool
}

// queueFault records that clientID has crossed a fault threshold (spec
// §4.8). It cannot act immediately: disconnecting the client's ports
// needs the graph lock, which RunOnce is already holding when this runs
// (inside step 7/9). finalizeFaults applies every queued record once
// RunOnce releases the lock.
func (e *Executor) queueFault(clientID int, overSocketThreshold bool) {
	e.pendingFaults = append(e.pendingFaults, faultRecord{clientID: clientID, overSocketThreshold: overSocketThreshold})
}

// finalizeFaults applies every fault queued this cycle, then resorts the
// graph once to reflect the removed/zombified clients. Called after
// RunOnce has released the graph lock.
func (e *Executor) finalizeFaults() {
	if len(e.pendingFaults) == 0 {
		return
	}
	faults := e.pendingFaults
	e.pendingFaults = nil

	for _, f := range faults {
		client, err := e.reg.Get(f.clientID)
		if err != nil {
			continue // already removed by an earlier fault this same batch
		}

		for _, port := range e.ports.PortsByClient(f.clientID) {
			e.g.DisconnectAll(port.ID)
			if f.overSocketThreshold {
				e.ports.ForceRemove(port.ID)
			}
		}

		if f.overSocketThreshold {
			slog.Warn("removing client over socket-failure threshold", "client", client.Name)
			if err := e.reg.Remove(f.clientID); err != nil {
				slog.Error("failed to remove faulted client", "client", client.Name, "error", err)
			}
		} else {
			slog.Warn("zombifying faulted client", "client", client.Name)
			if err := e.reg.Zombify(f.clientID); err != nil {
				slog.Error("failed to zombify faulted client", "client", client.Name, "error", err)
			}
		}

		e.UnregisterInProcess(f.clientID)
	}

	if _, err := e.g.Rebuild(); err != nil {
		slog.Error("graph rebuild after fault failed", "error", err)
	}
}

func (e *Executor) updateCPULoad(nframes uint32, cycleUsecs int64) {
	periodUsecs := e.cfg.PeriodUsecs
	if periodUsecs <= 0 {
		if sampleRate := e.clk.SampleRate(); sampleRate > 0 {
			periodUsecs = float64(nframes) * 1e6 / float64(sampleRate)
		}
	}
	if periodUsecs <= 0 {
		return
	}
	e.recordCPUSample(cycleUsecs, periodUsecs)
}
