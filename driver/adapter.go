package driver

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/time/rate"

	"github.com/vortexaudio/graphd/cycle"
	"github.com/vortexaudio/graphd/errors"
	"github.com/vortexaudio/graphd/pkg/retry"
)

// Adapter is the engine's single Driver Adapter instance (spec §4.9). It
// satisfies cycle.Driver by delegating to Backend and owns the Run loop
// that converts Backend.Wait() results into cycle.Executor.RunOnce calls.
type Adapter struct {
	backend Backend
	exec    *cycle.Executor
	xrun    cycle.XRunPublisher

	cfg             Config
	rollingInterval int

	restartCfg     retry.Config
	restartLimiter *rate.Limiter
}

// New creates an Adapter wrapping backend. exec is wired later via
// SetExecutor, mirroring cycle.Executor.SetXRunPublisher's post-
// construction pattern — Adapter and Executor each need a reference to
// the other's interface, so neither can be fully built first.
func New(backend Backend, xrun cycle.XRunPublisher, cfg Config) *Adapter {
	return &Adapter{
		backend:        backend,
		xrun:           xrun,
		cfg:            cfg,
		restartCfg:     retry.Quick(),
		restartLimiter: rate.NewLimiter(rate.Every(cfg.restartInterval()), 1),
	}
}

// SetExecutor wires the Cycle Executor the Run loop invokes per period.
func (a *Adapter) SetExecutor(exec *cycle.Executor) { a.exec = exec }

// Attach recomputes rolling_interval = floor(ROLLING_INTERVAL_MS × 1000 /
// period_usecs), per spec §4.9. period_usecs is derived from the
// backend's own period/sample-rate rather than passed in, since those are
// exactly the two quantities a real audio backend fixes at device-open
// time.
func (a *Adapter) Attach() error {
	periodFrames := a.backend.PeriodFrames()
	sampleRate := a.backend.SampleRate()
	if periodFrames == 0 || sampleRate == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "driver", "Attach",
			"backend must report a non-zero period and sample rate")
	}

	periodUsecs := float64(periodFrames) * 1e6 / float64(sampleRate)
	a.rollingInterval = int(math.Floor(float64(a.cfg.RollingIntervalMs) * 1000 / periodUsecs))
	return nil
}

// RollingInterval returns the cycle count spanning cfg.RollingIntervalMs,
// as computed by the last Attach call.
func (a *Adapter) RollingInterval() int { return a.rollingInterval }

// Read implements cycle.Driver.
func (a *Adapter) Read(nframes uint32) error { return a.backend.Read(nframes) }

// Write implements cycle.Driver.
func (a *Adapter) Write(nframes uint32) error { return a.backend.Write(nframes) }

// NullCycle implements cycle.Driver.
func (a *Adapter) NullCycle(nframes uint32) error { return a.backend.NullCycle(nframes) }

// Stop implements cycle.Driver.
func (a *Adapter) Stop() error { return a.backend.Stop() }

// Start implements cycle.Driver. Unlike Read/Write/NullCycle/Stop, a
// restart is retried with backoff (spec §4.4 step 2, §8 scenario 5): the
// device may need a moment to recover after an xrun-triggered stop.
// restartLimiter bounds how often Start may be called at all, so repeated
// restart events (each running its own retry.Do backoff internally) can't
// still hot-loop the driver back-to-back.
func (a *Adapter) Start() error {
	ctx := context.Background()
	if err := a.restartLimiter.Wait(ctx); err != nil {
		return err
	}
	return retry.Do(ctx, a.restartCfg, a.backend.Start)
}

// Run owns the driver wait loop (spec §4.9): each Backend.Wait() either
// signals a driver-internal restart (nframes == 0, broadcast XRun and
// continue), a fatal backend status (status < 0), or a period ready to
// process, which is handed to the Cycle Executor. Run returns when the
// context is cancelled, the executor signals it should exit the main
// loop, or a fatal error occurs.
func (a *Adapter) Run(ctx context.Context) error {
	if a.exec == nil {
		return errors.WrapFatal(errors.ErrInvalidConfig, "driver", "Run", "no executor wired via SetExecutor")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		nframes, status, delayedUsecs := a.backend.Wait()
		if nframes == 0 {
			if a.xrun != nil {
				a.xrun.PublishXRun()
			}
			continue
		}
		if status < 0 {
			return errors.WrapFatal(fmt.Errorf("driver wait returned fatal status %d", status),
				"driver", "Run", "backend reported a fatal condition")
		}

		exitMainLoop, err := a.exec.RunOnce(nframes, delayedUsecs)
		if err != nil {
			return err
		}
		if exitMainLoop {
			return nil
		}
	}
}
