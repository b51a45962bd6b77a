package wakeup

import (
	"io"
	"net"
	"time"

	"github.com/vortexaudio/graphd/errors"
)

// Channel is one direction of a FIFO: a single-byte signal written by one
// side and read by the other.
type Channel interface {
	// Signal writes one byte. Failure is always a fatal abort-the-cycle
	// condition per spec §4.4's external-subgraph protocol.
	Signal() error

	// Await blocks until a byte is readable or timeout elapses. Returns
	// ErrTimeout on timeout, ErrHangup if the peer closed the channel,
	// or nil once one byte has been read and discarded.
	Await(timeout time.Duration) error

	Close() error
}

// ErrTimeout and ErrHangup classify Await's failure modes so the cycle
// executor can tell a forgiven scheduler-fault timeout from a lost client.
var (
	ErrTimeout = errors.ErrConnectionTimeout
	ErrHangup  = errors.ErrConnectionLost
)

// memChannel is the in-memory backend used by in-process clients and
// tests: a capacity-1 byte channel standing in for a FIFO.
type memChannel struct {
	ch     chan struct{}
	closed chan struct{}
}

func newMemChannel() *memChannel {
	return &memChannel{ch: make(chan struct{}, 1), closed: make(chan struct{})}
}

func (m *memChannel) Signal() error {
	select {
	case m.ch <- struct{}{}:
		return nil
	case <-m.closed:
		return errors.WrapTransient(ErrHangup, "wakeup", "Signal", "channel closed")
	default:
		return nil // already signalled and not yet drained; a no-op, not an error
	}
}

func (m *memChannel) Await(timeout time.Duration) error {
	select {
	case <-m.ch:
		return nil
	case <-m.closed:
		return errors.WrapTransient(ErrHangup, "wakeup", "Await", "channel closed")
	case <-time.After(timeout):
		return errors.WrapTransient(ErrTimeout, "wakeup", "Await", "timed out waiting for signal")
	}
}

func (m *memChannel) Close() error {
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	return nil
}

// connChannel is the net.Conn-backed implementation for out-of-process
// clients, writing/reading a single byte per signal.
type connChannel struct {
	conn net.Conn
}

func newConnChannel(conn net.Conn) *connChannel {
	return &connChannel{conn: conn}
}

func (c *connChannel) Signal() error {
	if _, err := c.conn.Write([]byte{1}); err != nil {
		return errors.WrapFatal(err, "wakeup", "Signal", "write to subgraph fd")
	}
	return nil
}

func (c *connChannel) Await(timeout time.Duration) error {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return errors.WrapFatal(err, "wakeup", "Await", "set read deadline")
	}
	buf := make([]byte, 1)
	_, err := c.conn.Read(buf)
	switch {
	case err == nil:
		return nil
	case err == io.EOF:
		return errors.WrapTransient(ErrHangup, "wakeup", "Await", "peer closed subgraph fd")
	default:
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return errors.WrapTransient(ErrTimeout, "wakeup", "Await", "timed out waiting for signal")
		}
		return errors.WrapTransient(ErrHangup, "wakeup", "Await", "read failed")
	}
}

func (c *connChannel) Close() error {
	return c.conn.Close()
}
