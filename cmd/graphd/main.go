// Package main implements the entry point for graphd, the low-latency
// audio coordination core: a directed-graph engine that connects clients'
// ports across one shared periodic cycle, in the tradition of JACK.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/vortexaudio/graphd/config"
	"github.com/vortexaudio/graphd/driver"
	"github.com/vortexaudio/graphd/engine"
	"github.com/vortexaudio/graphd/metric"
	"github.com/vortexaudio/graphd/server"
)

// Build information constants.
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "graphd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("graphd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg)
	if err != nil {
		return err
	}
	if cfg.Verbose && cliCfg.LogLevel != "debug" {
		logger = setupLogger("debug", cliCfg.LogFormat)
		slog.SetDefault(logger)
	}

	if cliCfg.Validate {
		logger.Info("configuration is valid")
		fmt.Println(cfg.String())
		return nil
	}

	backend := driver.NewTimerBackend(uint32(cfg.FramesPerPeriod), cfg.SampleRate)
	metricsRegistry := metric.NewMetricsRegistry()

	e, err := engine.New(cfg, backend, server.StdPluginLoader{}, logger, metricsRegistry)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("graphd starting",
		"version", Version,
		"build_time", BuildTime,
		"server_name", cfg.ServerName,
		"sample_rate", cfg.SampleRate,
		"frames_per_period", cfg.FramesPerPeriod)

	if err := e.Run(ctx); err != nil {
		return fmt.Errorf("engine run: %w", err)
	}

	logger.Info("graphd shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging.
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	return cliCfg, logger, false, nil
}

// loadConfig builds the engine configuration from defaults, an optional
// JSON layer named on the command line, and GRAPHD_-prefixed environment
// overrides, in that precedence order (config.Loader.Load).
func loadConfig(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func printHelp() {
	printDetailedHelp()
}
