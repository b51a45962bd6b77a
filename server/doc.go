// Package server implements the Connection Server (spec §4.7): the
// engine's two listening endpoints (a request socket and an event-ack
// socket) and the handshake/session protocol external clients speak over
// them. A dedicated goroutine pool accepts and serves request-socket
// connections — handshake, then a long-lived request loop dispatching
// into package request's Handler — while a lighter accept loop matches
// each event-ack connection to its client id and installs it into
// package event's ack Registry.
package server
