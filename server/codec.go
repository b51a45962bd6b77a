package server

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"

	"github.com/vortexaudio/graphd/errors"
)

// writeFrame gob-encodes v and writes it as a 4-byte big-endian
// length-prefixed frame, the same wire shape package event uses for
// Event — grounded on the same reasoning: the protocol's payloads carry
// variable-length strings (client/port names) no fixed layout can hold.
func writeFrame(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return errors.WrapInvalid(err, "server", "writeFrame", "gob encode")
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(buf.Len()))
	if _, err := w.Write(hdr[:]); err != nil {
		return errors.WrapTransient(err, "server", "writeFrame", "write length prefix")
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return errors.WrapTransient(err, "server", "writeFrame", "write payload")
	}
	return nil
}

// readFrame reads one length-prefixed gob frame into v.
func readFrame(r io.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return errors.WrapTransient(err, "server", "readFrame", "read length prefix")
	}
	n := binary.BigEndian.Uint32(hdr[:])
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return errors.WrapTransient(err, "server", "readFrame", "read payload")
	}
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(v)
}
