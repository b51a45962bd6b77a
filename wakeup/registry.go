package wakeup

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vortexaudio/graphd/errors"
)

// Pair is one FIFO index's two channels: Start (engine writes, client
// reads) and Wait (terminator client writes, engine reads).
type Pair struct {
	Start Channel
	Wait  Channel
}

// Registry owns every active FIFO pair, keyed by the index graph.Rebuild
// assigns via ChainAssignment.StartFD/WaitFD.
type Registry struct {
	mu    sync.Mutex
	pairs map[int]*Pair
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{pairs: make(map[int]*Pair)}
}

// PreCreate ensures a pair exists at index, defaulting to the in-memory
// backend. Implements graph.FIFOAllocator. Safe to call more than once for
// the same index.
func (r *Registry) PreCreate(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pairs[index]; exists {
		return nil
	}
	r.pairs[index] = &Pair{Start: newMemChannel(), Wait: newMemChannel()}
	return nil
}

// InstallExternal replaces index's pair with net.Conn-backed channels, for
// a real out-of-process client. Outside the tests nothing in this module
// calls it: the connection server installs only event-ack connections,
// into package event's registry.
func (r *Registry) InstallExternal(index int, startConn, waitConn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pairs[index] = &Pair{Start: newConnChannel(startConn), Wait: newConnChannel(waitConn)}
}

// Pair returns index's current channel pair, for callers that need to act
// as the peer side directly, such as tests simulating an external client.
func (r *Registry) Pair(index int) (Pair, error) {
	pair, err := r.get(index)
	if err != nil {
		return Pair{}, err
	}
	return *pair, nil
}

func (r *Registry) get(index int) (*Pair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pair, ok := r.pairs[index]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrIOFailure, "wakeup", "get",
			fmt.Sprintf("no fifo pair at index %d", index))
	}
	return pair, nil
}

// Start writes one byte to index's start channel, waking the first
// external client of a subgraph run.
func (r *Registry) Start(index int) error {
	pair, err := r.get(index)
	if err != nil {
		return err
	}
	return pair.Start.Signal()
}

// Await blocks on index's wait channel until the terminator client drains
// it or timeout elapses.
func (r *Registry) Await(index int, timeout time.Duration) error {
	pair, err := r.get(index)
	if err != nil {
		return err
	}
	return pair.Wait.Await(timeout)
}

// Release closes and discards index's pair, once no client references it
// (the FIFO's owning chain position has been reassigned away).
func (r *Registry) Release(index int) error {
	r.mu.Lock()
	pair, ok := r.pairs[index]
	if ok {
		delete(r.pairs, index)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	_ = pair.Start.Close()
	_ = pair.Wait.Close()
	return nil
}
