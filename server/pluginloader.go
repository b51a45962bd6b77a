package server

import (
	"fmt"
	"plugin"

	"github.com/vortexaudio/graphd/cycle"
	"github.com/vortexaudio/graphd/errors"
)

// PluginLoader resolves an in-process client's callback from a shared
// object on disk — this engine's rendering of jackd's dlopen step for
// in-process clients (spec §4.7). Kept as an interface, as in package
// driver/watchdog, so tests can substitute a canned callback instead of
// building a real .so.
type PluginLoader interface {
	Load(path, symbol string) (cycle.InProcessFunc, error)
}

// StdPluginLoader is the production PluginLoader, built on the standard
// library's plugin package — the one primitive in the Go ecosystem that
// actually does what dlopen does (load a shared object at runtime and
// resolve an exported symbol by name). No third-party library in the
// example pack offers this; it is an OS-level capability the standard
// library already exposes directly.
type StdPluginLoader struct{}

func (StdPluginLoader) Load(path, symbol string) (cycle.InProcessFunc, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "server", "PluginLoader.Load",
			fmt.Sprintf("open plugin %q", path))
	}
	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, errors.WrapFatal(err, "server", "PluginLoader.Load",
			fmt.Sprintf("lookup symbol %q in %q", symbol, path))
	}
	fn, ok := sym.(func(uint32) error)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInternalLoadFailure, "server", "PluginLoader.Load",
			fmt.Sprintf("symbol %q is not a func(uint32) error", symbol))
	}
	return cycle.InProcessFunc(fn), nil
}
