package server

import (
	"errors"
	"fmt"
)

// Sentinel errors for server operations.
var (
	// ErrLifecycle matches every *LifecycleError.
	ErrLifecycle = errors.New("server: invalid lifecycle state")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("server: invalid config")

	// ErrNoTransport is returned when starting without a transport.
	ErrNoTransport = errors.New("server: no transport")
)

// LifecycleError reports an operation attempted in the wrong lifecycle state.
type LifecycleError struct {
	Op    string
	State Lifecycle
}

// Error returns the error message.
func (e *LifecycleError) Error() string {
	return fmt.Sprintf("server: %s not allowed while %s", e.Op, e.State)
}

// Unwrap returns ErrLifecycle.
func (e *LifecycleError) Unwrap() error {
	return ErrLifecycle
}

// HookError wraps a panic raised by a hook.
type HookError struct {
	Hook  string
	Index int
	Panic any
	Stack []byte
}

// Error returns the error message.
func (e *HookError) Error() string {
	return fmt.Sprintf("server: hook %s[%d] panicked: %v", e.Hook, e.Index, e.Panic)
}
