package trigger

import (
	"errors"
	"fmt"
)

// Sentinel errors for trigger registration and invocation.
var (
	// ErrNotFound is returned when invoking an unknown trigger name.
	ErrNotFound = errors.New("trigger: not found")

	// ErrAlreadyRegistered is returned in strict mode when a name is already
	// bound.
	ErrAlreadyRegistered = errors.New("trigger: already registered")

	// ErrInvalidArgument is returned when a call argument cannot be decoded.
	ErrInvalidArgument = errors.New("trigger: invalid argument")

	// ErrInvalidName is returned when registering an empty name or nil handler.
	ErrInvalidName = errors.New("trigger: invalid registration")
)

// LookupError reports an invocation of an unknown trigger.
type LookupError struct {
	Name string
}

// Error returns the error message.
func (e *LookupError) Error() string {
	return fmt.Sprintf("trigger: %q not registered", e.Name)
}

// Unwrap returns ErrNotFound.
func (e *LookupError) Unwrap() error {
	return ErrNotFound
}

// ExecutionError wraps a failure raised by a trigger handler, either a
// returned error or a recovered panic.
type ExecutionError struct {
	Name  string
	Err   error  // returned error, nil on panic
	Panic any    // recovered panic value
	Stack []byte // stack at panic
}

// Error returns the error message.
func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("trigger: %q panicked: %v", e.Name, e.Panic)
	}
	return fmt.Sprintf("trigger: %q failed: %v", e.Name, e.Err)
}

// Unwrap returns the handler error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ArgumentError reports a positional or keyword argument that could not be
// encoded or decoded.
type ArgumentError struct {
	Trigger  string
	Position int    // positional index, when Keyword is empty
	Keyword  string // keyword name
	Err      error
}

// Error returns the error message.
func (e *ArgumentError) Error() string {
	if e.Keyword != "" {
		return fmt.Sprintf("trigger: %q keyword %q: %v", e.Trigger, e.Keyword, e.Err)
	}
	return fmt.Sprintf("trigger: %q argument %d: %v", e.Trigger, e.Position, e.Err)
}

// Unwrap exposes ErrInvalidArgument and the underlying decode error.
func (e *ArgumentError) Unwrap() []error {
	return []error{ErrInvalidArgument, e.Err}
}
