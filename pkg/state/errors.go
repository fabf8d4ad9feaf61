package state

import (
	"errors"
	"fmt"
)

var (
	// ErrNotSerializable is returned when a value cannot be encoded for the
	// transport.
	ErrNotSerializable = errors.New("state: value is not serializable")

	// ErrClosed is returned when mutating a store after Close.
	ErrClosed = errors.New("state: store closed")
)

// ValidationError reports a value rejected for a state key.
type ValidationError struct {
	Key string
	Err error // encoder error
}

// Error returns the error message with the offending key.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("state: key %q: value is not serializable: %v", e.Key, e.Err)
}

// Unwrap exposes both ErrNotSerializable and the encoder error.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrNotSerializable, e.Err}
}
