// Package graph implements the Graph Builder/Sorter: direct feeding,
// transitive fed_by closure, the stable topological sort with driver-wins
// cycle-breaking, subgraph chain assignment (rechain), and total-latency
// recomputation, per spec §4.3.
package graph
