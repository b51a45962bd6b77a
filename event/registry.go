package event

import (
	"fmt"
	"net"
	"sync"

	"github.com/vortexaudio/graphd/errors"
)

// Registry owns one ack Channel per external client, keyed directly by
// client id. Unlike wakeup's FIFO registry, there is no index sharing
// across a run: each client has exactly one event-ack channel of its own.
type Registry struct {
	mu       sync.Mutex
	channels map[int]Channel
}

// NewRegistry creates an empty ack-channel Registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[int]Channel)}
}

// Install registers ch as clientID's ack channel, replacing any previous
// one (closing it first).
func (r *Registry) Install(clientID int, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.channels[clientID]; ok {
		_ = old.Close()
	}
	r.channels[clientID] = ch
}

// InstallExternal wraps conn in a connChannel and installs it, for the
// connection server once a client's event-ack socket connects.
func (r *Registry) InstallExternal(clientID int, conn net.Conn) {
	r.Install(clientID, newConnChannel(conn))
}

// Remove closes and forgets clientID's channel, if any.
func (r *Registry) Remove(clientID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.channels[clientID]; ok {
		_ = ch.Close()
		delete(r.channels, clientID)
	}
}

func (r *Registry) get(clientID int) (Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[clientID]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrClientNotFound, "event", "get",
			fmt.Sprintf("no ack channel installed for client %d", clientID))
	}
	return ch, nil
}
