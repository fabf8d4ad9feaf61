package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version announced in Hello.
const Version = 1

// Hello is sent by the server right after the upgrade.
type Hello struct {
	Version  int    `json:"version"`
	ClientID string `json:"client_id"`
	Server   string `json:"server,omitempty"`
}

// Publish carries one topic payload.
type Publish struct {
	Seq     uint64          `json:"seq"`
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// Call invokes a trigger. ID correlates the Result or Error.
type Call struct {
	ID     uint64                     `json:"id"`
	Name   string                     `json:"name"`
	Args   []json.RawMessage          `json:"args,omitempty"`
	Kwargs map[string]json.RawMessage `json:"kwargs,omitempty"`
}

// Result answers a Call.
type Result struct {
	ID    uint64          `json:"id"`
	Value json.RawMessage `json:"value"`
}

// ErrorMessage answers a Call that failed, or reports a protocol error
// (ID 0).
type ErrorMessage struct {
	ID       uint64 `json:"id,omitempty"`
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
	Fatal    bool   `json:"fatal,omitempty"`
}

// Error implements the error interface.
func (em *ErrorMessage) Error() string {
	if em.Fatal {
		return "fatal: " + em.Code + ": " + em.Message
	}
	return em.Code + ": " + em.Message
}

// EncodeMessage wraps msg in a frame of type ft.
func EncodeMessage(ft FrameType, msg any) (*Frame, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", ft, err)
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	f := NewFrame(ft, payload)
	if em, ok := msg.(*ErrorMessage); ok && em.Fatal {
		f.Flags |= FlagFatal
	}
	return f, nil
}

// EncodePublish builds a Publish frame. Snapshots are flagged.
func EncodePublish(seq uint64, topic string, payload []byte, snapshot bool) (*Frame, error) {
	f, err := EncodeMessage(FramePublish, &Publish{Seq: seq, Topic: topic, Payload: payload})
	if err != nil {
		return nil, err
	}
	if snapshot {
		f.Flags |= FlagSnapshot
	}
	return f, nil
}

// DecodeMessage decodes the payload of f into a T after checking the frame
// type.
//
// Example:
//
//	call, err := protocol.DecodeMessage[protocol.Call](frame, protocol.FrameCall)
func DecodeMessage[T any](f *Frame, want FrameType) (*T, error) {
	if f.Type != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrInvalidFrameType, f.Type, want)
	}
	var msg T
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		return nil, fmt.Errorf("protocol: decode %s: %w", f.Type, err)
	}
	return &msg, nil
}
