// Package request implements the serialized request plane (spec §4.5): every
// structural mutation a client can ask for — port registration, connection,
// activation — is funneled through Handler's single request_lock so the
// engine never has two requests racing over the port table, buffer pool, and
// graph at once. A Handler method either fully applies its mutation and
// triggers a graph.Rebuild, or rejects it with one of the package errors'
// reason codes and touches nothing.
package request
