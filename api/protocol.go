package api

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
)

// MaxMessageSize is the default frame limit (50MB).
const MaxMessageSize = 50 * 1024 * 1024

// frameHeader is the length prefix: a big-endian uint32.
const frameHeader = 4

// ErrMessageTooLarge is returned when a frame exceeds the framer limit.
var ErrMessageTooLarge = errors.New("message size exceeds maximum allowed size")

// Framer reads and writes length-prefixed frames up to a size limit. The
// zero value uses MaxMessageSize.
type Framer struct {
	Max int
}

func (f Framer) limit() int {
	if f.Max <= 0 || f.Max > math.MaxUint32 {
		return MaxMessageSize
	}
	return f.Max
}

// Read reads one frame. The body buffer grows with the bytes actually
// received, so a peer announcing a large frame and then stalling does not
// pin the whole announced size.
func (f Framer) Read(r io.Reader) ([]byte, error) {
	var hdr [frameHeader]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := int64(binary.BigEndian.Uint32(hdr[:]))
	if length > int64(f.limit()) {
		return nil, fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, length, f.limit())
	}

	var body bytes.Buffer
	body.Grow(int(min(length, 64*1024)))
	if _, err := io.CopyN(&body, r, length); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	return body.Bytes(), nil
}

// Write writes data as one frame, header and body in a single vectored write
// when w is a connection.
func (f Framer) Write(w io.Writer, data []byte) error {
	if len(data) > f.limit() {
		return fmt.Errorf("%w: %d bytes (max: %d)", ErrMessageTooLarge, len(data), f.limit())
	}

	var hdr [frameHeader]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data))) // #nosec G115 - bounded by limit
	bufs := net.Buffers{hdr[:], data}
	if _, err := bufs.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// ReadMessage reads one frame with the default limit.
func ReadMessage(r io.Reader) ([]byte, error) {
	return Framer{}.Read(r)
}

// WriteMessage writes one frame with the default limit.
func WriteMessage(w io.Writer, data []byte) error {
	return Framer{}.Write(w, data)
}
