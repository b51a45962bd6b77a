package cycle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vortexaudio/graphd/clock"
	"github.com/vortexaudio/graphd/errors"
	"github.com/vortexaudio/graphd/graph"
	"github.com/vortexaudio/graphd/metric"
	"github.com/vortexaudio/graphd/porttable"
	"github.com/vortexaudio/graphd/registry"
	"github.com/vortexaudio/graphd/wakeup"
)

// Executor runs the per-period protocol of spec §4.4. One Executor serves
// one engine instance; it is not safe for concurrent calls to RunOnce
// (the driver thread is expected to call it serially, one period at a
// time).
type Executor struct {
	clk   *clock.Clock
	g     *graph.Graph
	reg   *registry.Registry
	ports *porttable.Table
	wake  *wakeup.Registry

	driver  Driver
	xrun    XRunPublisher
	metrics *metric.Metrics

	cfg Config

	invokeMu sync.Mutex
	invokers map[int]InProcessFunc

	consecutiveDelays int

	// spare_usecs/cpu_load rolling state, per original_source/jackd/
	// engine.c's jack_calc_cpu_load (see cpuload.go).
	rollingUsecs  [rollingWindowSize]float64
	rollingIndex  int
	rollingCount  int64
	spareUsecs    float64
	cpuLoad       float64

	pendingFaults []faultRecord

	watchdogCheck atomic.Bool
	currentClient atomic.Int64
}

// New creates an Executor wired to the engine's shared subsystems.
// metrics may be nil; xrun may be nil (the event plane is not wired yet
// in engine construction order, since it depends on the executor for its
// own graph-lock access — engine resolves this by setting it post-hoc via
// SetXRunPublisher).
func New(clk *clock.Clock, g *graph.Graph, reg *registry.Registry, ports *porttable.Table, wake *wakeup.Registry, driver Driver, metrics *metric.Metrics, cfg Config) *Executor {
	e := &Executor{
		clk:      clk,
		g:        g,
		reg:      reg,
		ports:    ports,
		wake:     wake,
		driver:   driver,
		metrics:  metrics,
		cfg:      cfg,
		invokers: make(map[int]InProcessFunc),
	}
	e.currentClient.Store(-1)
	// Before the first rolling recompute there's no load sample yet;
	// assume the full period is spare rather than jack_calc_cpu_load's
	// raw zero-initialized spare_usecs, which would otherwise report zero
	// spare time (and so trip step 2's delayed-callback check on every
	// cycle) until rollingInterval cycles have elapsed.
	e.spareUsecs = cfg.PeriodUsecs
	return e
}

// SetXRunPublisher wires the event plane after construction, breaking the
// engine's event-plane/executor initialization cycle.
func (e *Executor) SetXRunPublisher(xrun XRunPublisher) { e.xrun = xrun }

// RegisterInProcess associates clientID with the callback the executor
// invokes synchronously in step 7, for an in-process client.
func (e *Executor) RegisterInProcess(clientID int, fn InProcessFunc) {
	e.invokeMu.Lock()
	defer e.invokeMu.Unlock()
	e.invokers[clientID] = fn
}

// UnregisterInProcess drops clientID's callback, for client teardown.
func (e *Executor) UnregisterInProcess(clientID int) {
	e.invokeMu.Lock()
	defer e.invokeMu.Unlock()
	delete(e.invokers, clientID)
}

func (e *Executor) invoke(clientID int, nframes uint32) error {
	e.invokeMu.Lock()
	fn := e.invokers[clientID]
	e.invokeMu.Unlock()
	if fn == nil {
		return errors.WrapFatal(errors.ErrClientNotFound, "cycle", "invoke",
			"in-process client has no registered callback")
	}
	return fn(nframes)
}

// CPULoad returns the current rolling-average CPU load percentage (spec
// §4.11), 0-100.
func (e *Executor) CPULoad() float64 { return e.cpuLoad }

// ConsecutiveDelays returns the current delayed-callback streak (step 2).
func (e *Executor) ConsecutiveDelays() int { return e.consecutiveDelays }

// RunOnce executes one driver period, per spec §4.4's ten steps. It
// returns (exitMainLoop, err): exitMainLoop is true once the consecutive-
// delay counter has passed its configured limit, signalling the caller
// (package driver) to stop calling Wait/RunOnce altogether. err is
// returned only for driver failures (read, null cycle, or a stop/restart
// that fails);
// ordinary per-cycle faults (a stuck client, a lost socket) are absorbed
// into the client's own fault bookkeeping and never surface here.
func (e *Executor) RunOnce(nframes uint32, delayedUsecs int64) (exitMainLoop bool, err error) {
	e.setWatchdogLiveness()

	if e.cfg.RealTime && e.cfg.WorkScale*e.spareUsecs <= float64(delayedUsecs) {
		e.consecutiveDelays++
		if e.consecutiveDelays >= e.cfg.MaxConsecutiveDelays+1 {
			return true, nil
		}
		return false, e.recoverFromDelay(nframes)
	}
	e.consecutiveDelays = 0

	cycleStart := time.Now()
	e.clk.Advance(nframes)

	if !e.g.TryLock() {
		if e.metrics != nil {
			e.metrics.RecordCycle(0, false)
		}
		return false, e.driver.NullCycle(nframes)
	}

	if err := e.driver.Read(nframes); err != nil {
		e.g.Unlock()
		return false, errors.WrapFatal(err, "cycle", "RunOnce", "driver read failed")
	}

	processErrors := e.processClients(nframes)

	restart := false
	if processErrors > 0 {
		_ = e.driver.Stop()
		restart = true
	} else if err := e.driver.Write(nframes); err != nil {
		_ = e.driver.Stop()
		restart = true
	}

	cycleUsecs := time.Since(cycleStart).Microseconds()
	e.postProcess(nframes, cycleUsecs)
	if e.metrics != nil {
		e.metrics.RecordCycle(time.Since(cycleStart), processErrors > 0 || restart)
	}

	// Faults queued during step 7/9 need the graph lock to clean up
	// (disconnecting ports, resorting); apply them now that the cycle's
	// own hold on the lock is released, per spec §4.4 step 10.
	e.g.Unlock()
	e.finalizeFaults()

	if restart {
		if err := e.driver.Start(); err != nil {
			return false, errors.WrapFatal(err, "cycle", "RunOnce", "driver restart failed")
		}
	}
	return false, nil
}

// recoverFromDelay implements step 2's "otherwise" branch: stop the
// driver, broadcast an XRun, restart it, and return success for this
// tick — the period itself is sacrificed, not the session.
func (e *Executor) recoverFromDelay(nframes uint32) error {
	if err := e.driver.Stop(); err != nil {
		return errors.WrapFatal(err, "cycle", "recoverFromDelay", "driver stop failed")
	}
	if e.metrics != nil {
		e.metrics.RecordXRun()
	}
	if e.xrun != nil {
		e.xrun.PublishXRun()
	}
	if err := e.driver.Start(); err != nil {
		return errors.WrapFatal(err, "cycle", "recoverFromDelay", "driver restart failed")
	}
	return nil
}

// setWatchdogLiveness is step 1: raise the flag package watchdog checks
// (and clears) on its 5-second tick, per spec §4.8.
func (e *Executor) setWatchdogLiveness() {
	e.watchdogCheck.Store(true)
}

// ConsumeWatchdogCheck reads and clears the liveness flag, called by
// package watchdog once per wake. A false return means no cycle has run
// since the last wake — the engine is presumed stalled.
func (e *Executor) ConsumeWatchdogCheck() bool {
	return e.watchdogCheck.Swap(false)
}

// CurrentClientID returns the id of whichever client step 7 most recently
// began dispatching to, or -1 if no cycle has dispatched to a client yet.
// If the engine is stalled, this is whoever was running (or about to run)
// when it froze — the watchdog's target for an isolated kill before it
// brings down the engine itself (spec §4.8).
func (e *Executor) CurrentClientID() int {
	return int(e.currentClient.Load())
}
