package graph

import (
	"sort"
	"sync"

	"github.com/vortexaudio/graphd/errors"
	"github.com/vortexaudio/graphd/porttable"
	"github.com/vortexaudio/graphd/registry"
)

// Graph owns the connection list and drives the sort/rechain/latency
// recomputation that spec §4.3 assigns to it. It reads and writes client
// state through Registry and port state through Table, but neither of
// those packages knows about Graph.
type Graph struct {
	mu sync.Mutex

	reg   *registry.Registry
	ports *porttable.Table

	driverClientID int
	connections    []Connection

	publisher EventPublisher
	fifos     FIFOAllocator

	nextFIFO int
}

// New creates a Graph bound to reg and ports. driverClientID identifies
// the driver client for cycle-breaking tie resolution.
func New(reg *registry.Registry, ports *porttable.Table, driverClientID int, publisher EventPublisher, fifos FIFOAllocator) *Graph {
	return &Graph{
		reg:            reg,
		ports:          ports,
		driverClientID: driverClientID,
		publisher:      publisher,
		fifos:          fifos,
	}
}

// TryLock attempts to acquire the graph lock without blocking, for the
// cycle executor's step 5 (spec §4.4): a cycle that cannot get the lock
// runs driver.null_cycle instead of stalling on a request-plane mutation.
func (g *Graph) TryLock() bool { return g.mu.TryLock() }

// Unlock releases the graph lock acquired by TryLock.
func (g *Graph) Unlock() { g.mu.Unlock() }

// Connect records a validated connection. Callers (the request plane) must
// have already checked spec §4.5's preconditions.
func (g *Graph) Connect(source, dest int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connections = append(g.connections, Connection{SourcePort: source, DestPort: dest})
}

// Disconnect removes one connection. Returns false if no matching
// connection was found.
func (g *Graph) Disconnect(source, dest int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, c := range g.connections {
		if c.SourcePort == source && c.DestPort == dest {
			g.connections = append(g.connections[:i], g.connections[i+1:]...)
			return true
		}
	}
	return false
}

// DisconnectAll atomically removes every connection touching portID
// (either as source or destination), for spec §4.5's disconnect-all and
// port-unregister paths.
func (g *Graph) DisconnectAll(portID int) []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()

	var removed []Connection
	kept := g.connections[:0]
	for _, c := range g.connections {
		if c.SourcePort == portID || c.DestPort == portID {
			removed = append(removed, c)
		} else {
			kept = append(kept, c)
		}
	}
	g.connections = kept
	return removed
}

// Connections returns a copy of the full connection list.
func (g *Graph) Connections() []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Connection, len(g.connections))
	copy(out, g.connections)
	return out
}

// ConnectionsForPort returns every connection touching portID.
func (g *Graph) ConnectionsForPort(portID int) []Connection {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []Connection
	for _, c := range g.connections {
		if c.SourcePort == portID || c.DestPort == portID {
			out = append(out, c)
		}
	}
	return out
}

// directFeeds returns, for every client, the set of clients it directly
// feeds (an output port of A connects to an input port of B).
func (g *Graph) directFeeds() map[int]map[int]struct{} {
	feeds := make(map[int]map[int]struct{})
	for _, c := range g.connections {
		srcPort, err := g.ports.Get(c.SourcePort)
		if err != nil {
			continue
		}
		dstPort, err := g.ports.Get(c.DestPort)
		if err != nil {
			continue
		}
		a, b := srcPort.OwnerClientID, dstPort.OwnerClientID
		if a == b {
			continue
		}
		if feeds[a] == nil {
			feeds[a] = make(map[int]struct{})
		}
		feeds[a][b] = struct{}{}
	}
	return feeds
}

// fedByClosure implements jack_trace_terminal: for each client C, the set
// of clients that feed it, directly or transitively, found by walking
// backward through direct-feeds edges. The visited-on-this-root guard
// both prevents non-termination and implicitly leaves feedback loops
// broken, per spec §4.3.
func fedByClosure(clientIDs []int, feeds map[int]map[int]struct{}) map[int]map[int]struct{} {
	feeders := make(map[int][]int) // reverse adjacency: feeders[B] = clients that directly feed B
	for a, bs := range feeds {
		for b := range bs {
			feeders[b] = append(feeders[b], a)
		}
	}

	result := make(map[int]map[int]struct{}, len(clientIDs))
	for _, root := range clientIDs {
		visited := map[int]struct{}{root: {}}
		fedBy := make(map[int]struct{})

		var walk func(id int)
		walk = func(id int) {
			for _, feeder := range feeders[id] {
				if _, seen := visited[feeder]; seen {
					continue
				}
				visited[feeder] = struct{}{}
				fedBy[feeder] = struct{}{}
				walk(feeder)
			}
		}
		walk(root)
		result[root] = fedBy
	}
	return result
}

// less implements the spec's comparator: A < B if A feeds B transitively
// and B does not feed A; if both feed each other (a cycle), the driver
// client wins the earlier slot, otherwise they compare equal.
func less(a, b registry.Client, driverClientID int) bool {
	aFeedsB := b.IsFedBy(a.ID)
	bFeedsA := a.IsFedBy(b.ID)

	if aFeedsB && bFeedsA {
		return a.ID == driverClientID
	}
	return aFeedsB && !bFeedsA
}

// Rebuild recomputes fed_by for every registered client, re-sorts the client
// list, reassigns the subgraph chain (rechain), recomputes port
// total_latency, and broadcasts GraphReordered. This is the single entry
// point the request plane calls after any structural mutation (spec §4.3).
func (g *Graph) Rebuild() ([]ChainAssignment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	all := g.reg.All()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID }) // stable baseline order

	ids := make([]int, len(all))
	for i, c := range all {
		ids[i] = c.ID
	}

	feeds := g.directFeeds()
	fedBy := fedByClosure(ids, feeds)
	for _, c := range all {
		if err := g.reg.SetFedBy(c.ID, fedBy[c.ID]); err != nil {
			return nil, errors.Wrap(err, "graph", "Rebuild", "write fed_by")
		}
	}

	// re-read with fed_by populated for the comparator
	byID := make(map[int]registry.Client, len(all))
	for _, c := range all {
		c.FedBy = fedBy[c.ID]
		byID[c.ID] = c
	}
	sorted := make([]registry.Client, len(all))
	for i, id := range ids {
		sorted[i] = byID[id]
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j], g.driverClientID)
	})

	assignments := g.rechain(sorted)

	if err := g.recomputeLatencies(); err != nil {
		return nil, errors.Wrap(err, "graph", "Rebuild", "recompute latencies")
	}

	var reorder []ReorderEvent
	for _, a := range assignments {
		if err := g.reg.SetExecutionOrder(a.ClientID, a.ExecutionOrder); err != nil {
			return nil, errors.Wrap(err, "graph", "Rebuild", "write execution_order")
		}
		if err := g.reg.SetFDs(a.ClientID, a.StartFD, a.WaitFD, -1, -1); err != nil {
			return nil, errors.Wrap(err, "graph", "Rebuild", "write chain fds")
		}
		reorder = append(reorder, ReorderEvent{ClientID: a.ClientID, ExecutionOrder: a.ExecutionOrder})
	}

	if g.fifos != nil {
		if err := g.fifos.PreCreate(g.nextFIFO); err != nil {
			return nil, errors.Wrap(err, "graph", "Rebuild", "pre-create next fifo")
		}
	}
	if g.publisher != nil {
		g.publisher.PublishGraphReordered(reorder)
	}

	out := make([]ChainAssignment, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, a)
	}
	return out, nil
}

// rechain walks the sorted, active client list and assigns execution_order
// plus subgraph start/wait FIFO handles, per spec §4.3. A run of
// contiguous external clients shares one start fifo; the last client in
// the run drains it as the wait fifo, terminating the subgraph. An
// in-process (or driver) client always gets a fresh wait fifo of its own
// and has no start fifo, since the engine invokes it directly rather than
// signalling it.
func (g *Graph) rechain(sorted []registry.Client) map[int]ChainAssignment {
	assignments := make(map[int]ChainAssignment)
	order := 0
	n := 0
	var run []int

	flushRun := func() {
		if len(run) == 0 {
			return
		}
		startFD := n
		n++
		for i, cid := range run {
			a := assignments[cid]
			a.StartFD = startFD
			if i == len(run)-1 {
				a.WaitFD = startFD
			} else {
				a.WaitFD = -1
			}
			assignments[cid] = a
		}
		run = nil
	}

	for _, c := range sorted {
		if !c.Active {
			continue
		}
		order++

		switch c.Type {
		case registry.ClientInProcess, registry.ClientDriver:
			flushRun()
			wait := n
			n++
			assignments[c.ID] = ChainAssignment{ClientID: c.ID, ExecutionOrder: order, StartFD: -1, WaitFD: wait}
		default:
			a := assignments[c.ID]
			a.ClientID = c.ID
			a.ExecutionOrder = order
			assignments[c.ID] = a
			run = append(run, c.ID)
		}
	}
	flushRun()

	g.nextFIFO = n
	return assignments
}

// recomputeLatencies recomputes total_latency for every in-use port by a
// depth-bounded DFS: outputs propagate toward sinks (following
// connections, then through to a client's other inputs as a pass-through
// stage), inputs propagate toward sources (following connections
// backward, then through to a client's other outputs). Depth is capped at
// 8 hops to guarantee termination on malformed cycles, per spec §4.3.
func (g *Graph) recomputeLatencies() error {
	const maxDepth = 8

	ports := g.ports.AllInUse()

	outAdj := make(map[int][]int)
	inAdj := make(map[int][]int)
	for _, c := range g.connections {
		outAdj[c.SourcePort] = append(outAdj[c.SourcePort], c.DestPort)
		inAdj[c.DestPort] = append(inAdj[c.DestPort], c.SourcePort)
	}

	byClient := make(map[int][]porttable.Port)
	for _, p := range ports {
		byClient[p.OwnerClientID] = append(byClient[p.OwnerClientID], p)
	}
	for _, cports := range byClient {
		var ins, outs []int
		for _, p := range cports {
			if p.Flags.Has(porttable.FlagInput) {
				ins = append(ins, p.ID)
			}
			if p.Flags.Has(porttable.FlagOutput) {
				outs = append(outs, p.ID)
			}
		}
		for _, i := range ins {
			outAdj[i] = append(outAdj[i], outs...)
		}
		for _, o := range outs {
			inAdj[o] = append(inAdj[o], ins...)
		}
	}

	portByID := make(map[int]porttable.Port, len(ports))
	for _, p := range ports {
		portByID[p.ID] = p
	}

	var dfs func(portID int, adjacency map[int][]int, depth int, visited map[int]bool) int
	dfs = func(portID int, adjacency map[int][]int, depth int, visited map[int]bool) int {
		if depth >= maxDepth {
			return 0
		}
		best := 0
		for _, next := range adjacency[portID] {
			if visited[next] {
				continue
			}
			p, ok := portByID[next]
			if !ok {
				continue
			}
			visited[next] = true
			if candidate := p.Latency + dfs(next, adjacency, depth+1, visited); candidate > best {
				best = candidate
			}
			delete(visited, next)
		}
		return best
	}

	for _, p := range ports {
		adjacency := inAdj
		if p.Flags.Has(porttable.FlagOutput) {
			adjacency = outAdj
		}
		visited := map[int]bool{p.ID: true}
		total := p.Latency + dfs(p.ID, adjacency, 0, visited)
		if err := g.ports.SetLatency(p.ID, p.Latency, total); err != nil {
			return err
		}
	}
	return nil
}
