package engine

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vortexaudio/graphd/bufferpool"
	"github.com/vortexaudio/graphd/clock"
	"github.com/vortexaudio/graphd/config"
	"github.com/vortexaudio/graphd/cycle"
	"github.com/vortexaudio/graphd/driver"
	"github.com/vortexaudio/graphd/errors"
	"github.com/vortexaudio/graphd/event"
	"github.com/vortexaudio/graphd/graph"
	"github.com/vortexaudio/graphd/health"
	"github.com/vortexaudio/graphd/metric"
	"github.com/vortexaudio/graphd/porttable"
	"github.com/vortexaudio/graphd/registry"
	"github.com/vortexaudio/graphd/request"
	"github.com/vortexaudio/graphd/server"
	"github.com/vortexaudio/graphd/wakeup"
	"github.com/vortexaudio/graphd/watchdog"
)

// audioPortType is the primary, variable-width port type every instance
// registers at startup, matching JACK's built-in "32 bit float mono
// audio" default type: one float sample per frame, scaled to the period
// size.
const (
	audioPortType      = 0
	audioPortTypeName  = "32 bit float mono audio"
	sampleElementBytes = 4 // float32
)

// PluginLoader is re-exported from package server so cmd/graphd doesn't
// need to import both packages just to build one.
type PluginLoader = server.PluginLoader

// Engine owns every long-lived component of one coordination-core
// instance: the client/port registries, the connection graph, the cycle
// executor, the driver adapter, the watchdog and the connection server.
// Construction wires them bottom-up; Run supervises their goroutines.
type Engine struct {
	cfg    *config.Config
	logger *slog.Logger

	clock    *clock.Clock
	ports    *porttable.Table
	pool     *bufferpool.Pool
	clients  *registry.Registry
	fifos    *wakeup.Registry
	acks     *event.Registry
	events   *event.Dispatcher
	graph    *graph.Graph
	handler  *request.Handler
	exec     *cycle.Executor
	adapter  *driver.Adapter
	watchdog *watchdog.Watchdog
	server   *server.Server

	monitor         *health.Monitor
	metrics         *metric.Metrics
	metricsRegistry *metric.MetricsRegistry
	metricsServer   *metric.Server

	driverClientID int
}

// New builds an Engine from cfg and backend, ready for Run. loader
// installs in-process plugin clients (spec §4.2's dlopen path); a nil
// loader makes the connection server fall back to server.StdPluginLoader.
func New(cfg *config.Config, backend driver.Backend, loader PluginLoader, logger *slog.Logger, metricsRegistry *metric.MetricsRegistry) (*Engine, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "engine", "New", "config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "engine", "New", "invalid configuration")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if metricsRegistry == nil {
		metricsRegistry = metric.NewMetricsRegistry()
	}

	metrics := metricsRegistry.CoreMetrics()
	monitor := health.NewMonitor()

	clients := registry.New(monitor)
	ports := porttable.New(cfg.PortMax)

	// The driver's own pseudo-client is registered first: graph.New needs
	// its id up front to break fed_by ties in the driver's favor (spec
	// §4.3).
	driverClientID, err := clients.Register("driver", registry.ClientDriver, 0)
	if err != nil {
		return nil, errors.Wrap(err, "engine", "New", "registering driver client")
	}
	if err := clients.Activate(driverClientID); err != nil {
		return nil, errors.Wrap(err, "engine", "New", "activating driver client")
	}

	acks := event.NewRegistry()
	events := event.New(clients, acks, event.DefaultConfig())
	pool := bufferpool.New(cfg.FramesPerPeriod, cfg.PortMax, events)

	if err := pool.RegisterType(audioPortType, audioPortTypeName, bufferpool.SizePolicy{
		ScaleFactor:   1,
		SampleElement: sampleElementBytes,
	}, true); err != nil {
		return nil, errors.Wrap(err, "engine", "New", "registering default audio port type")
	}

	fifos := wakeup.New()
	g := graph.New(clients, ports, driverClientID, events, fifos)

	handler := request.New(clients, ports, pool, g, events, metrics)

	clk := clock.New(cfg.SampleRate)
	cycleCfg := cycle.DefaultConfig()
	cycleCfg.RealTime = cfg.Realtime
	cycleCfg.PeriodUsecs = cfg.PeriodUsecs()
	cycleCfg.ClientTimeoutMsecs = cfg.ClientTimeoutMsecs

	driverCfg := driver.DefaultConfig()
	driverCfg.RollingIntervalMs = cfg.WatchdogIntervalMs
	adapter := driver.New(backend, events, driverCfg)

	exec := cycle.New(clk, g, clients, ports, fifos, adapter, metrics, cycleCfg)
	adapter.SetExecutor(exec)
	if err := adapter.Attach(); err != nil {
		return nil, errors.Wrap(err, "engine", "New", "attaching driver backend")
	}

	wd := watchdog.New(exec, clients, watchdog.SyscallKiller{}, metrics, watchdog.DefaultConfig())

	serverCfg := server.DefaultConfig()
	serverCfg.RealTime = cfg.Realtime
	serverCfg.Priority = cfg.RealtimePriority
	serverCfg.RequestAddr = cfg.ServerDir + "/" + cfg.ServerName + "_request"
	serverCfg.EventAddr = cfg.ServerDir + "/" + cfg.ServerName + "_event"
	srv := server.New(clients, pool, handler, acks, exec, loader, monitor, serverCfg)

	var metricsServer *metric.Server
	if cfg.MetricsAddr != "" {
		port, perr := metricsPort(cfg.MetricsAddr)
		if perr != nil {
			return nil, errors.WrapInvalid(perr, "engine", "New", "invalid metrics_addr")
		}
		metricsServer = metric.NewServer(port, "/metrics", metricsRegistry)
	}

	return &Engine{
		cfg:             cfg,
		logger:          logger,
		clock:           clk,
		ports:           ports,
		pool:            pool,
		clients:         clients,
		fifos:           fifos,
		acks:            acks,
		events:          events,
		graph:           g,
		handler:         handler,
		exec:            exec,
		adapter:         adapter,
		watchdog:        wd,
		server:          srv,
		monitor:         monitor,
		metrics:         metrics,
		metricsRegistry: metricsRegistry,
		metricsServer:   metricsServer,
		driverClientID:  driverClientID,
	}, nil
}

// Run starts the driver's cycle loop, the connection server and the
// watchdog under one errgroup, plus the metrics HTTP server if
// configured. The first goroutine to return an error cancels the rest;
// Run blocks until every goroutine has unwound and returns that first
// error. A clean cancellation of ctx is not reported as an error.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine: starting",
		"server_name", e.cfg.ServerName,
		"sample_rate", e.cfg.SampleRate,
		"frames_per_period", e.cfg.FramesPerPeriod,
		"realtime", e.cfg.Realtime)

	group, gctx := errgroup.WithContext(ctx)

	if e.metricsServer != nil {
		e.logger.Info("engine: metrics server listening", "addr", e.metricsServer.Address())
		group.Go(func() error {
			go func() { <-gctx.Done(); _ = e.metricsServer.Stop() }()
			return errors.Wrap(e.metricsServer.Start(), "engine", "Run", "starting metrics server")
		})
	}

	group.Go(func() error {
		return e.adapter.Run(gctx)
	})
	group.Go(func() error {
		return e.server.Serve(gctx)
	})
	group.Go(func() error {
		return e.watchdog.Run(gctx)
	})

	err := group.Wait()
	if err != nil && ctx.Err() != nil {
		e.logger.Info("engine: shutting down", "cause", ctx.Err())
		return nil
	}
	return err
}

// HealthMonitor exposes the shared health.Monitor so cmd/graphd can wire
// an HTTP /health endpoint without reaching past this package into every
// component individually.
func (e *Engine) HealthMonitor() *health.Monitor { return e.monitor }

// MetricsRegistry exposes the shared metrics registry for the same reason.
func (e *Engine) MetricsRegistry() *metric.MetricsRegistry { return e.metricsRegistry }

// metricsPort extracts the numeric port from a ":9090"-style address, the
// only form metric.NewServer accepts.
func metricsPort(addr string) (int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0, errors.WrapInvalid(errors.ErrInvalidConfig, "engine", "metricsPort", "address has no port")
	}
	return strconv.Atoi(addr[idx+1:])
}
