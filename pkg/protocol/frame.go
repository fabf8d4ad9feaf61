package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// Frame constants.
const (
	// FrameHeaderSize is the size of the frame header in bytes.
	FrameHeaderSize = 6

	// MaxPayloadSize is the hard ceiling for a frame payload (16MB).
	MaxPayloadSize = 16 * 1024 * 1024
)

// FrameType identifies the type of frame.
type FrameType uint8

const (
	FrameHello   FrameType = 0x00 // Server hello
	FramePublish FrameType = 0x01 // Topic publication
	FrameCall    FrameType = 0x02 // Trigger invocation
	FrameResult  FrameType = 0x03 // Trigger result
	FrameError   FrameType = 0x04 // Error response
	FrameControl FrameType = 0x05 // Control messages (ping, resync, close)
)

// String returns the string representation of the frame type.
func (ft FrameType) String() string {
	switch ft {
	case FrameHello:
		return "Hello"
	case FramePublish:
		return "Publish"
	case FrameCall:
		return "Call"
	case FrameResult:
		return "Result"
	case FrameError:
		return "Error"
	case FrameControl:
		return "Control"
	default:
		return "Unknown"
	}
}

// Valid reports whether ft is a known frame type.
func (ft FrameType) Valid() bool {
	return ft <= FrameControl
}

// FrameFlags are optional flags for frame processing.
type FrameFlags uint8

const (
	FlagSnapshot FrameFlags = 0x01 // Publish carries the full state
	FlagFatal    FrameFlags = 0x02 // Error closes the connection
)

// Has returns true if the flags contain the specified flag.
func (ff FrameFlags) Has(flag FrameFlags) bool {
	return ff&flag != 0
}

// Frame errors.
var (
	ErrFrameTooLarge    = errors.New("protocol: frame payload too large")
	ErrInvalidFrameType = errors.New("protocol: invalid frame type")
	ErrTrailingData     = errors.New("protocol: trailing data after frame")
)

// Frame is a protocol frame with header and payload.
type Frame struct {
	Type    FrameType
	Flags   FrameFlags
	Payload []byte
}

// NewFrame creates a new frame with the given type and payload.
func NewFrame(ft FrameType, payload []byte) *Frame {
	return &Frame{Type: ft, Payload: payload}
}

// Encode encodes the frame to bytes including the header.
func (f *Frame) Encode() []byte {
	buf := make([]byte, FrameHeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	buf[1] = byte(f.Flags)
	binary.BigEndian.PutUint32(buf[2:FrameHeaderSize], uint32(len(f.Payload)))
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf
}

// DecodeFrame decodes exactly one frame from data. Payloads above limit are
// rejected; a limit <= 0 means MaxPayloadSize.
func DecodeFrame(data []byte, limit int) (*Frame, error) {
	if limit <= 0 || limit > MaxPayloadSize {
		limit = MaxPayloadSize
	}
	if len(data) < FrameHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}

	ft := FrameType(data[0])
	if !ft.Valid() {
		return nil, ErrInvalidFrameType
	}
	length := binary.BigEndian.Uint32(data[2:FrameHeaderSize])
	if uint64(length) > uint64(limit) {
		return nil, ErrFrameTooLarge
	}

	end := FrameHeaderSize + int(length)
	switch {
	case len(data) < end:
		return nil, io.ErrUnexpectedEOF
	case len(data) > end:
		return nil, ErrTrailingData
	}

	payload := make([]byte, length)
	copy(payload, data[FrameHeaderSize:end])
	return &Frame{
		Type:    ft,
		Flags:   FrameFlags(data[1]),
		Payload: payload,
	}, nil
}
