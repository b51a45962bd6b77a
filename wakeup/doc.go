// Package wakeup implements the one-byte subgraph start/wait signalling
// primitive described in spec §4.4 and §6/§9: the engine writes a single
// byte to wake the first external client of a subgraph run, then polls
// the terminator's wait channel with a timeout, reading one byte to drain
// it on success.
//
// Each FIFO index from graph.ChainAssignment identifies a Pair — a start
// side the engine writes and the client reads, and a wait side the
// terminator client writes and the engine reads. Two backends implement
// Channel: an in-memory, channel-backed one for in-process clients and
// tests, and a net.Conn-backed one, installed through
// Registry.InstallExternal, for genuine out-of-process clients, per SPEC_FULL.md's §6 rendering of
// the original filesystem-rendezvous FIFO contract.
package wakeup
