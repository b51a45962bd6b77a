// Package porttable implements the Port Table: a fixed-capacity, dense
// array of port descriptors indexed by port id, per spec §4.2. Allocation
// is a linear scan for the first free slot under a dedicated mutex
// distinct from the graph lock; name lookup is likewise linear, matching
// the spec's explicit call-out that this table does not index by name.
package porttable
