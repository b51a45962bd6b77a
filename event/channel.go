package event

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"net"
	"time"

	"github.com/vortexaudio/graphd/errors"
)

// Channel is one external client's event-ack transport: the engine writes
// an encoded Event, then reads back a single status byte. Unlike
// wakeup.Channel's one-byte signal, an Event payload carries variable-
// length fields (type names, segment names), so framing and encoding are
// this package's own concern rather than a shared primitive with wakeup.
type Channel interface {
	WriteEvent(evt Event) error
	ReadStatus(timeout time.Duration) (byte, error)
	Close() error
}

// encode gob-encodes evt with a 4-byte big-endian length prefix. gob is
// used rather than a fixed-width struct because Event carries strings
// (type/segment names) that a raw binary.Write layout can't hold, and
// nothing in the example pack supplies a lighter framed-message codec for
// an internal, Go-to-Go-only channel like this one.
func encode(evt Event) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(evt); err != nil {
		return nil, errors.WrapInvalid(err, "event", "encode", "gob-encode event")
	}

	framed := make([]byte, 4+body.Len())
	binary.BigEndian.PutUint32(framed, uint32(body.Len()))
	copy(framed[4:], body.Bytes())
	return framed, nil
}

// decode reads one framed Event from r, for the client side of the
// protocol (tests simulating an external client).
func decode(r io.Reader) (Event, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Event{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Event{}, err
	}
	var evt Event
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&evt); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// memChannel is the in-process/test backend: a capacity-1 event channel
// paired with a capacity-1 status channel.
type memChannel struct {
	events chan Event
	status chan byte
	closed chan struct{}
}

func newMemChannel() *memChannel {
	return &memChannel{
		events: make(chan Event, 1),
		status: make(chan byte, 1),
		closed: make(chan struct{}),
	}
}

func (m *memChannel) WriteEvent(evt Event) error {
	select {
	case m.events <- evt:
		return nil
	case <-m.closed:
		return errors.WrapTransient(errors.ErrConnectionLost, "event", "WriteEvent", "channel closed")
	default:
		return errors.WrapTransient(errors.ErrConnectionLost, "event", "WriteEvent", "peer has not drained previous event")
	}
}

func (m *memChannel) ReadStatus(timeout time.Duration) (byte, error) {
	select {
	case s := <-m.status:
		return s, nil
	case <-m.closed:
		return 0, errors.WrapTransient(errors.ErrConnectionLost, "event", "ReadStatus", "channel closed")
	case <-time.After(timeout):
		return 0, errors.WrapTransient(errors.ErrConnectionTimeout, "event", "ReadStatus", "timed out waiting for ack")
	}
}

// Await blocks until an event is written, for a test simulating the
// client side directly.
func (m *memChannel) Await(timeout time.Duration) (Event, error) {
	select {
	case evt := <-m.events:
		return evt, nil
	case <-m.closed:
		return Event{}, errors.WrapTransient(errors.ErrConnectionLost, "event", "Await", "channel closed")
	case <-time.After(timeout):
		return Event{}, errors.WrapTransient(errors.ErrConnectionTimeout, "event", "Await", "timed out waiting for event")
	}
}

// Ack writes the client's status byte back, for the same test double.
func (m *memChannel) Ack(status byte) error {
	select {
	case m.status <- status:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrConnectionLost, "event", "Ack", "status already pending")
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

// connChannel is the net.Conn-backed implementation for genuine
// out-of-process clients.
type connChannel struct {
	conn net.Conn
}

func newConnChannel(conn net.Conn) *connChannel {
	return &connChannel{conn: conn}
}

func (c *connChannel) WriteEvent(evt Event) error {
	framed, err := encode(evt)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(framed); err != nil {
		return errors.WrapFatal(err, "event", "WriteEvent", "write to event fd")
	}
	return nil
}

func (c *connChannel) ReadStatus(timeout time.Duration) (byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, errors.WrapFatal(err, "event", "ReadStatus", "set read deadline")
	}
	var buf [1]byte
	_, err := c.conn.Read(buf[:])
	switch {
	case err == nil:
		return buf[0], nil
	case err == io.EOF:
		return 0, errors.WrapTransient(errors.ErrConnectionLost, "event", "ReadStatus", "peer closed event fd")
	default:
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, errors.WrapTransient(errors.ErrConnectionTimeout, "event", "ReadStatus", "timed out waiting for ack")
		}
		return 0, errors.WrapTransient(errors.ErrConnectionLost, "event", "ReadStatus", "read failed")
	}
}

func (c *connChannel) Close() error {
	return c.conn.Close()
}
