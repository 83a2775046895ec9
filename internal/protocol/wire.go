package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic bytes identify phpembed-wire protocol frames.
var Magic = [2]byte{0x50, 0x45} // "PE"

// Version is the current protocol version.
const Version uint8 = 0x01

// FrameHeaderSize is the fixed size of a frame header in bytes.
const FrameHeaderSize = 14

// Size limits. Header sizes are carried in 24 bits.
const (
	MaxHeaderSize  = 1<<24 - 1
	MaxPayloadSize = 64 << 20
)

// ErrFrameTooLarge is returned for frames over the size limits.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// Message types define the purpose of each frame.
const (
	TypeEval   uint8 = 0x01 // client → engine: evaluate an expression
	TypeCall   uint8 = 0x02 // client → engine: call a function
	TypeRun    uint8 = 0x03 // client → engine: execute a script file
	TypeResult uint8 = 0x04 // engine → client: value and captured output
	TypeError  uint8 = 0x05 // engine → client: the job could not run
	TypePing   uint8 = 0x06 // Health check (ping/pong)
)

// Flags modify frame behavior.
const (
	FlagNoOutput uint8 = 1 << 0 // Result omits captured output
)

// Frame represents a single phpembed-wire protocol frame.
type Frame struct {
	Type     uint8
	Flags    uint8
	StreamID uint16
	Headers  []byte // msgpack encoded
	Payload  []byte // raw bytes
}

// AppendFrame appends the encoding of f to dst.
func AppendFrame(dst []byte, f *Frame) ([]byte, error) {
	if len(f.Headers) > MaxHeaderSize || len(f.Payload) > MaxPayloadSize {
		return dst, fmt.Errorf("%w: %d header bytes, %d payload bytes", ErrFrameTooLarge, len(f.Headers), len(f.Payload))
	}

	hdrSize := len(f.Headers)
	dst = append(dst, Magic[0], Magic[1], Version, f.Type, f.Flags)
	dst = binary.BigEndian.AppendUint16(dst, f.StreamID)
	dst = append(dst, byte(hdrSize>>16), byte(hdrSize>>8), byte(hdrSize)) // uint24
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Payload)))
	dst = append(dst, f.Headers...)
	return append(dst, f.Payload...), nil
}

// WriteFrame encodes f and writes it with a single Write call.
func WriteFrame(w io.Writer, f *Frame) error {
	buf, err := AppendFrame(make([]byte, 0, FrameHeaderSize+len(f.Headers)+len(f.Payload)), f)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads and decodes one frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	switch {
	case header[0] != Magic[0] || header[1] != Magic[1]:
		return nil, fmt.Errorf("invalid magic bytes: 0x%02x%02x", header[0], header[1])
	case header[2] != Version:
		return nil, fmt.Errorf("unsupported protocol version: %d", header[2])
	}

	f := &Frame{
		Type:     header[3],
		Flags:    header[4],
		StreamID: binary.BigEndian.Uint16(header[5:7]),
	}
	hdrSize := int(header[7])<<16 | int(header[8])<<8 | int(header[9])
	payloadSize := binary.BigEndian.Uint32(header[10:14])
	if payloadSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d payload bytes", ErrFrameTooLarge, payloadSize)
	}

	var err error
	if f.Headers, err = readSection(r, "headers", hdrSize); err != nil {
		return nil, err
	}
	if f.Payload, err = readSection(r, "payload", int(payloadSize)); err != nil {
		return nil, err
	}
	return f, nil
}

func readSection(r io.Reader, name string, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, fmt.Errorf("reading frame %s (%d bytes): %w", name, n, err)
	}
	return b, nil
}

// NewPingFrame creates a PING health check frame.
func NewPingFrame() *Frame {
	return &Frame{Type: TypePing, Payload: []byte("ping")}
}

// NewPongFrame creates a PONG response frame.
func NewPongFrame() *Frame {
	return &Frame{Type: TypePing, Payload: []byte("pong")}
}

// NewErrorFrame creates an ERROR frame answering streamID.
func NewErrorFrame(streamID uint16, msg string) *Frame {
	return &Frame{Type: TypeError, StreamID: streamID, Payload: []byte(msg)}
}

// IsPing reports whether f is a ping (not a pong).
func IsPing(f *Frame) bool {
	return f.Type == TypePing && string(f.Payload) == "ping"
}
