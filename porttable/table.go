package porttable

import (
	"fmt"
	"sync"

	"github.com/vortexaudio/graphd/errors"
)

// Table is the fixed-capacity port descriptor array. The zero value is not
// usable; construct with New.
type Table struct {
	mu    sync.Mutex // the port-lock, distinct from the graph lock
	slots []Port
}

// New creates a Table with room for portMax ports (spec §6 port_max).
func New(portMax int) *Table {
	return &Table{slots: make([]Port, portMax)}
}

// Register finds the first free slot by linear scan and installs a new
// port descriptor there. Rejects if the table is full; type validity is
// the caller's responsibility (the request plane checks against the
// bufferpool's registered types before calling this).
func (t *Table) Register(name string, typeID, ownerClientID int, flags Flags) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if !t.slots[i].InUse {
			t.slots[i] = Port{
				ID:            i,
				TypeID:        typeID,
				OwnerClientID: ownerClientID,
				Name:          name,
				Flags:         flags,
				InUse:         true,
			}
			return i, nil
		}
	}
	return -1, errors.WrapInvalid(errors.ErrNoFreePortSlot, "porttable", "Register", "port table full")
}

// Unregister frees portID's slot. callerClientID must match the port's
// owner, matching the spec's ownership-enforcement rule.
func (t *Table) Unregister(portID, callerClientID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	port, err := t.getLocked(portID)
	if err != nil {
		return err
	}
	if port.OwnerClientID != callerClientID {
		return errors.WrapInvalid(errors.ErrOwnerMismatch, "porttable", "Unregister",
			fmt.Sprintf("port %d owned by client %d, not %d", portID, port.OwnerClientID, callerClientID))
	}
	t.slots[portID] = Port{}
	return nil
}

// ForceRemove frees portID's slot unconditionally, for use when the
// owning client itself is being removed (watchdog/fault-isolation path).
func (t *Table) ForceRemove(portID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if portID >= 0 && portID < len(t.slots) {
		t.slots[portID] = Port{}
	}
}

func (t *Table) getLocked(portID int) (Port, error) {
	if portID < 0 || portID >= len(t.slots) || !t.slots[portID].InUse {
		return Port{}, errors.WrapInvalid(errors.ErrPortDoesNotExist, "porttable", "Get",
			fmt.Sprintf("port %d does not exist", portID))
	}
	return t.slots[portID], nil
}

// Get returns a copy of portID's descriptor.
func (t *Table) Get(portID int) (Port, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getLocked(portID)
}

// FindByName performs the table's linear name lookup, matching the
// spec's explicit statement that name lookup is O(n), not indexed.
func (t *Table) FindByName(name string) (Port, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.slots {
		if t.slots[i].InUse && t.slots[i].Name == name {
			return t.slots[i], true
		}
	}
	return Port{}, false
}

// AllInUse returns a copy of every in-use port, in slot order.
func (t *Table) AllInUse() []Port {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Port
	for i := range t.slots {
		if t.slots[i].InUse {
			out = append(out, t.slots[i])
		}
	}
	return out
}

// PortsByClient returns every in-use port owned by clientID, in slot order.
func (t *Table) PortsByClient(clientID int) []Port {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Port
	for i := range t.slots {
		if t.slots[i].InUse && t.slots[i].OwnerClientID == clientID {
			out = append(out, t.slots[i])
		}
	}
	return out
}

// mutate applies fn to portID's descriptor under the port-lock.
func (t *Table) mutate(portID int, fn func(*Port)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, err := t.getLocked(portID); err != nil {
		return err
	}
	fn(&t.slots[portID])
	return nil
}

// SetBuffer records the buffer slot assigned to an output port.
func (t *Table) SetBuffer(portID, offset, size int) error {
	return t.mutate(portID, func(p *Port) {
		p.BufferOffset = offset
		p.BufferSize = size
	})
}

// SetLatency records the port's own and total (DFS-propagated) latency.
func (t *Table) SetLatency(portID, latency, totalLatency int) error {
	return t.mutate(portID, func(p *Port) {
		p.Latency = latency
		p.TotalLatency = totalLatency
	})
}

// SetLocked toggles the port's locked flag; a locked port rejects new
// connections and cannot be the source or destination of DisconnectPorts.
func (t *Table) SetLocked(portID int, locked bool) error {
	return t.mutate(portID, func(p *Port) { p.Locked = locked })
}

// RequestMonitor increments portID's monitor_requests refcount (spec §4.12
// supplemental SetPortMonitor request, enable case) and returns the new
// count.
func (t *Table) RequestMonitor(portID int) (int, error) {
	var count int
	err := t.mutate(portID, func(p *Port) {
		p.MonitorRequests++
		count = p.MonitorRequests
	})
	return count, err
}

// ReleaseMonitor decrements portID's monitor_requests refcount (SetPortMonitor
// disable case), floored at zero, and returns the new count.
func (t *Table) ReleaseMonitor(portID int) (int, error) {
	var count int
	err := t.mutate(portID, func(p *Port) {
		if p.MonitorRequests > 0 {
			p.MonitorRequests--
		}
		count = p.MonitorRequests
	})
	return count, err
}
