package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
)

// Config holds the tunables a server process reads at startup. Fields mirror
// the command-line flags and environment overrides a running instance
// accepts; nothing here is renegotiated mid-session except through a fresh
// Loader.Load.
type Config struct {
	Realtime            bool   `json:"realtime"`               // run the cycle executor at elevated scheduling priority
	RealtimePriority    int    `json:"realtime_priority"`      // priority to request when Realtime is set
	Verbose             bool   `json:"verbose"`                // emit debug-level logging
	ClientTimeoutMsecs  int    `json:"client_timeout_msecs"`   // bound on the external-subgraph wait when Realtime is off
	PortMax             int    `json:"port_max"`                // upper bound on concurrently registered ports
	ServerName          string `json:"server_name"`             // socket/FIFO namespace this instance listens under
	ServerDir           string `json:"server_dir"`               // directory holding the server's Unix sockets
	TemporaryDir        string `json:"temporary_dir"`            // directory holding per-client FIFOs
	FramesPerPeriod     int    `json:"frames_per_period"`
	SampleRate          int    `json:"sample_rate"`
	MaxDelayedUsecs     int    `json:"max_delayed_usecs"`       // loaded and printed only; no component reads it
	WatchdogIntervalMs  int    `json:"watchdog_interval_ms"`
	MetricsAddr         string `json:"metrics_addr"`             // empty disables the metrics HTTP endpoint
}

// SafeConfig provides thread-safe access to a loaded configuration so the
// cycle executor, watchdog and connection server can each read a consistent
// snapshot without racing a concurrent reload.
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig wraps cfg for concurrent access. A nil cfg is replaced with
// defaults so callers never have to nil-check the wrapper itself.
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = Defaults()
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration.
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation.
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg.Clone()
	return nil
}

// Clone deep-copies the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return Defaults()
	}
	copied := *c
	return &copied
}

// Defaults returns the configuration a freshly installed server starts with.
func Defaults() *Config {
	return &Config{
		Realtime:           true,
		RealtimePriority:   10,
		ClientTimeoutMsecs: 500,
		PortMax:            2048,
		ServerName:         "default",
		ServerDir:          "/tmp/graphd",
		TemporaryDir:       "/tmp/graphd/clients",
		FramesPerPeriod:    1024,
		SampleRate:         48000,
		MaxDelayedUsecs:    0,
		WatchdogIntervalMs: 5000,
		MetricsAddr:        ":9090",
	}
}

// Validate checks the invariants the rest of the engine assumes hold:
// strictly positive period sizes, port ceiling and client timeout, a
// non-empty server name, and a positive priority when realtime is on. The
// client timeout is not compared against the period length.
func (c *Config) Validate() error {
	if c.PortMax <= 0 {
		return errors.New("port_max must be positive")
	}
	if c.FramesPerPeriod <= 0 {
		return errors.New("frames_per_period must be positive")
	}
	if c.SampleRate <= 0 {
		return errors.New("sample_rate must be positive")
	}
	if c.ClientTimeoutMsecs <= 0 {
		return errors.New("client_timeout_msecs must be positive")
	}
	if c.ServerName == "" {
		return errors.New("server_name is required")
	}
	if c.Realtime && c.RealtimePriority <= 0 {
		return errors.New("realtime_priority must be positive when realtime is enabled")
	}
	return nil
}

// PeriodUsecs returns the nominal period duration implied by the sample rate
// and period size, the quantity the driver adapter reports to clients.
func (c *Config) PeriodUsecs() float64 {
	return float64(c.FramesPerPeriod) / float64(c.SampleRate) * 1e6
}

// String renders the configuration as indented JSON, useful for startup logs.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Loader assembles a Config from defaults, layered JSON files, and
// environment overrides, in that precedence order.
type Loader struct {
	layers    []string
	envPrefix string
}

// NewLoader creates a loader that overrides with GRAPHD_-prefixed environment
// variables by default.
func NewLoader() *Loader {
	return &Loader{envPrefix: "GRAPHD"}
}

// AddLayer registers a JSON file to merge on top of the current layers, in
// the order added.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// Load builds the final Config: defaults, then each layer file in order,
// then environment overrides, then validation.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var override map[string]any
		if err := json.Unmarshal(raw, &override); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg, err = l.mergeFromMap(cfg, override)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", path, err)
		}
	}

	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFromMap overlays override onto base by round-tripping through JSON, so
// only fields actually present in override replace the base's values.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base, err
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base, err
	}

	for k, v := range override {
		baseMap[k] = v
	}

	mergedJSON, err := json.Marshal(baseMap)
	if err != nil {
		return base, err
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base, err
	}
	return &merged, nil
}

// applyEnvOverrides lets operators override individual fields without a
// config file, primarily for container deployments.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(l.envPrefix + "_SERVER_NAME"); v != "" {
		cfg.ServerName = v
	}
	if v := os.Getenv(l.envPrefix + "_SERVER_DIR"); v != "" {
		cfg.ServerDir = v
	}
	if v := os.Getenv(l.envPrefix + "_REALTIME"); v != "" {
		cfg.Realtime = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv(l.envPrefix + "_PORT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PortMax = n
		}
	}
	if v := os.Getenv(l.envPrefix + "_CLIENT_TIMEOUT_MSECS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClientTimeoutMsecs = n
		}
	}
	if v := os.Getenv(l.envPrefix + "_SAMPLE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SampleRate = n
		}
	}
	if v := os.Getenv(l.envPrefix + "_FRAMES_PER_PERIOD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FramesPerPeriod = n
		}
	}
	if v := os.Getenv(l.envPrefix + "_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
}
