// Package config loads and validates the tunables a graphd server reads at
// startup: realtime scheduling, client timeouts, the port table ceiling, and
// the socket/FIFO directories external clients dial into.
//
// # Basic Usage
//
//	loader := config.NewLoader()
//	loader.AddLayer("/etc/graphd/config.json")
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Thread-Safe Access
//
// SafeConfig lets the watchdog and connection server each read a stable
// snapshot while a reload is in flight:
//
//	safe := config.NewSafeConfig(cfg)
//	current := safe.Get() // deep copy, safe to retain
//
// # Environment Variable Overrides
//
// Individual fields can be overridden without touching the config file,
// primarily for container deployments:
//
//	export GRAPHD_SERVER_NAME="default"
//	export GRAPHD_PORT_MAX="4096"
package config
