package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vortexaudio/graphd/errors"
	"github.com/vortexaudio/graphd/health"
	"github.com/vortexaudio/graphd/pkg/timestamp"
)

// Registry is the engine's client table, keyed by id and by name.
type Registry struct {
	mu sync.Mutex // part of the graph lock's domain; callers serialize via the request/cycle lock order

	byID     map[int]*Client
	byName   map[string]int
	nextID   int
	timebase int // client id of the timebase client, or -1

	health *health.Monitor
}

// New creates an empty Registry.
func New(monitor *health.Monitor) *Registry {
	if monitor == nil {
		monitor = health.NewMonitor()
	}
	return &Registry{
		byID:     make(map[int]*Client),
		byName:   make(map[string]int),
		timebase: -1,
		health:   monitor,
	}
}

// Register assigns a new monotonically-increasing id to a client, failing
// if the name is already taken. New clients start inactive; the caller
// activates them once handshake/setup completes.
func (r *Registry) Register(name string, clientType ClientType, pid int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return -1, errors.WrapInvalid(errors.ErrDuplicateConnection, "registry", "Register",
			fmt.Sprintf("client name %q already registered", name))
	}

	id := r.nextID
	r.nextID++

	client := &Client{
		ID:              id,
		Name:            name,
		Type:            clientType,
		PID:             pid,
		FedBy:           make(map[int]struct{}),
		SubgraphStartFD: -1,
		SubgraphWaitFD:  -1,
		RequestFD:       -1,
		EventFD:         -1,
		LastSeenMs:      timestamp.Now(),
	}
	r.byID[id] = client
	r.byName[name] = id
	r.health.UpdateHealthy(name, "registered")

	return id, nil
}

func (r *Registry) getLocked(id int) (*Client, error) {
	c, ok := r.byID[id]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrClientNotFound, "registry", "Get",
			fmt.Sprintf("client %d not found", id))
	}
	return c, nil
}

// Get returns a copy of client id's record.
func (r *Registry) Get(id int) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.getLocked(id)
	if err != nil {
		return Client{}, err
	}
	return *c, nil
}

// GetByName resolves a client by its unique name.
func (r *Registry) GetByName(name string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byName[name]
	if !ok {
		return Client{}, errors.WrapInvalid(errors.ErrClientNotFound, "registry", "GetByName",
			fmt.Sprintf("client %q not found", name))
	}
	return *r.byID[id], nil
}

// All returns a copy of every client record, in no particular order; the
// graph package is responsible for sorting.
func (r *Registry) All() []Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Client, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, *c)
	}
	return out
}

// mutate applies fn to id's record under the registry lock.
func (r *Registry) mutate(id int, fn func(*Client)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.getLocked(id)
	if err != nil {
		return err
	}
	fn(c)
	return nil
}

// Activate marks a client active, available for graph sort inclusion.
func (r *Registry) Activate(id int) error {
	return r.mutate(id, func(c *Client) { c.Active = true })
}

// Deactivate marks a client inactive; the request plane is responsible for
// clearing its port connections first.
func (r *Registry) Deactivate(id int) error {
	return r.mutate(id, func(c *Client) { c.Active = false })
}

// SetState transitions a client's per-cycle trigger state.
func (r *Registry) SetState(id int, state State) error {
	return r.mutate(id, func(c *Client) { c.State = state })
}

// SetFDs records an external client's subgraph and request/event file
// descriptors (or, for this Go rendering, transport handles) as assigned
// by the connection server and graph rechain.
func (r *Registry) SetFDs(id int, startFD, waitFD, requestFD, eventFD int) error {
	return r.mutate(id, func(c *Client) {
		c.SubgraphStartFD = startFD
		c.SubgraphWaitFD = waitFD
		c.RequestFD = requestFD
		c.EventFD = eventFD
	})
}

// SetExecutionOrder records the slot a client was assigned by the most
// recent rechain.
func (r *Registry) SetExecutionOrder(id, order int) error {
	return r.mutate(id, func(c *Client) { c.ExecutionOrder = order })
}

// SetFedBy replaces a client's fed_by set with the result of the graph
// package's latest transitive closure.
func (r *Registry) SetFedBy(id int, fedBy map[int]struct{}) error {
	return r.mutate(id, func(c *Client) { c.FedBy = fedBy })
}

// RecordSignalled stamps signalled_at and clears awake/finished markers,
// at the start of the external-subgraph signalling protocol.
func (r *Registry) RecordSignalled(id int) error {
	now := timestamp.Now()
	return r.mutate(id, func(c *Client) {
		c.SignalledAt = now
		c.AwakeAt = 0
		c.FinishedAt = 0
	})
}

// RecordAwake stamps awake_at, for a client whose subgraph wait fd became
// readable (used to distinguish a genuine scheduler-fault timeout from a
// forgiven one, per spec §4.4).
func (r *Registry) RecordAwake(id int) error {
	now := timestamp.Now()
	return r.mutate(id, func(c *Client) { c.AwakeAt = now })
}

// IncrementTimedOut bumps a client's timed_out counter, returning the new
// value so callers can decide whether a second consecutive timeout should
// be treated as an error (spec §4.4 step 9).
func (r *Registry) IncrementTimedOut(id int) (int, error) {
	var count int
	err := r.mutate(id, func(c *Client) {
		c.TimedOut++
		count = c.TimedOut
	})
	return count, err
}

// IncrementErrorCount bumps a client's error counter and reports whether it
// has crossed ErrorWithSockets, the zombify-vs-remove threshold.
func (r *Registry) IncrementErrorCount(id int) (count int, overSocketThreshold bool, err error) {
	err = r.mutate(id, func(c *Client) {
		c.ErrorCount++
		count = c.ErrorCount
	})
	if err != nil {
		return 0, false, err
	}
	return count, count >= ErrorWithSockets, nil
}

// Zombify marks a client dead and inactive, clearing its timebase role if
// held. The caller is responsible for disconnecting its ports first.
func (r *Registry) Zombify(id int) error {
	err := r.mutate(id, func(c *Client) {
		c.Dead = true
		c.Active = false
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.timebase == id {
		r.timebase = -1
	}
	name := r.byID[id].Name
	r.mu.Unlock()

	r.health.UpdateUnhealthy(name, "zombified")
	return nil
}

// Remove deletes a client from the registry outright, for the socket-
// failure fault path.
func (r *Registry) Remove(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.getLocked(id)
	if err != nil {
		return err
	}
	delete(r.byID, id)
	delete(r.byName, c.Name)
	if r.timebase == id {
		r.timebase = -1
	}
	r.health.Remove(c.Name)
	return nil
}

// SetTimebase assigns the timebase role to id, clearing it from whoever
// held it before. Only one client may be timebase at a time (spec §3).
func (r *Registry) SetTimebase(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.getLocked(id); err != nil {
		return err
	}
	if r.timebase >= 0 {
		if prev, ok := r.byID[r.timebase]; ok {
			prev.IsTimebase = false
		}
	}
	r.byID[id].IsTimebase = true
	r.timebase = id
	return nil
}

// Timebase returns the current timebase client's id, or -1 if none.
func (r *Registry) Timebase() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timebase
}

// Touch refreshes a client's last-seen timestamp, called whenever the
// engine observes forward progress from it (a completed subgraph cycle,
// a request). The watchdog and registry health both read this.
func (r *Registry) Touch(id int) error {
	now := timestamp.Now()
	err := r.mutate(id, func(c *Client) { c.LastSeenMs = now })
	if err != nil {
		return err
	}
	r.mu.Lock()
	name := r.byID[id].Name
	r.mu.Unlock()
	r.health.UpdateHealthy(name, "alive")
	return nil
}

// Health exposes the underlying monitor for the metrics/health endpoints.
func (r *Registry) Health() *health.Monitor {
	return r.health
}

// SortedActive returns every active, non-dead client ordered by
// execution_order ascending, as assigned by the most recent graph.Rebuild.
func (r *Registry) SortedActive() []Client {
	r.mu.Lock()
	out := make([]Client, 0, len(r.byID))
	for _, c := range r.byID {
		if c.Active && !c.Dead {
			out = append(out, *c)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ExecutionOrder < out[j].ExecutionOrder })
	return out
}

// Counts returns the number of active and zombie (dead) clients, for the
// registry_active_clients / registry_zombie_clients gauges.
func (r *Registry) Counts() (active, zombie int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.byID {
		if c.Dead {
			zombie++
		} else if c.Active {
			active++
		}
	}
	return active, zombie
}
