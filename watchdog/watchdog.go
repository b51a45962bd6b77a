package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/vortexaudio/graphd/errors"
)

// Watchdog is the engine's single liveness checker (spec §4.8). One
// instance supervises one Executor; Run is meant to be the only
// goroutine that ever calls it, started alongside the cycle-driving
// goroutine and the connection server under the composition root's
// errgroup.
type Watchdog struct {
	checker LivenessChecker
	clients ClientLookup
	killer  ProcessKiller
	metrics Metrics

	limiter *rate.Limiter
}

// New creates a Watchdog. metrics may be nil. killer defaults to
// SyscallKiller if nil, so tests can substitute a recording stub without
// every caller needing to know that.
func New(checker LivenessChecker, clients ClientLookup, killer ProcessKiller, metrics Metrics, cfg Config) *Watchdog {
	if killer == nil {
		killer = SyscallKiller{}
	}
	limiter := rate.NewLimiter(rate.Every(cfg.CheckInterval), 1)
	limiter.Allow() // consume the initial burst token: the first check should wait a full interval, not fire immediately
	return &Watchdog{
		checker: checker,
		clients: clients,
		killer:  killer,
		metrics: metrics,
		limiter: limiter,
	}
}

// Run blocks, waking on cfg.CheckInterval to test liveness, until ctx is
// cancelled or a stall is confirmed. A confirmed stall isolates whichever
// client was executing (SIGKILL to its process group, per spec §4.8) and
// returns a fatal error — the caller (composition root) is expected to
// tear the rest of the engine down on that error, standing in for
// jackd's own "kill our process group, exit(1)."
func (w *Watchdog) Run(ctx context.Context) error {
	for {
		r := w.limiter.Reserve()
		timer := time.NewTimer(r.Delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			r.Cancel()
			return ctx.Err()
		case <-timer.C:
		}

		if w.checker.ConsumeWatchdogCheck() {
			continue
		}

		return w.fireStall()
	}
}

func (w *Watchdog) fireStall() error {
	clientID := w.checker.CurrentClientID()

	var pid int
	if clientID >= 0 {
		if c, err := w.clients.Get(clientID); err == nil {
			pid = c.PID
		}
	}

	slog.Error("watchdog: no cycle completed within the liveness window, killing stalled client and shutting down",
		"client_id", clientID, "pid", pid)

	if err := w.killer.Kill(pid); err != nil {
		slog.Error("watchdog: failed to kill stalled client's process group", "pid", pid, "error", err)
	}

	if w.metrics != nil {
		w.metrics.RecordWatchdogFailure()
	}

	return errors.WrapFatal(fmt.Errorf("watchdog timeout: no cycle in the last liveness window"),
		"watchdog", "Run", "engine presumed stalled")
}
