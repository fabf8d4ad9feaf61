// Package controller provides a registry of named, overridable callbacks.
//
// Controllers are internal extension points: business logic registers a
// function under a name and other code calls it by name without a
// compile-time dependency. Registering the same name again replaces the
// previous function.
//
// Lookups never fail. Get returns a stand-in that resolves the name each time
// it is invoked, so callers can bind to a controller before it is registered.
// Invoking a name that is still unregistered returns a *LookupError.
//
//	reg := controller.New()
//	reset := reg.Get("reset")           // fine, nothing registered yet
//	reg.Register("reset", func(ctx context.Context, args ...any) (any, error) {
//	    return nil, st.Set("count", 0)
//	})
//	reset(ctx)                          // calls the registered function
package controller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
)

// ErrNotFound is returned when invoking an unregistered controller.
var ErrNotFound = errors.New("controller: not found")

// LookupError reports an invocation of an unregistered controller.
type LookupError struct {
	Name string
}

// Error returns the error message.
func (e *LookupError) Error() string {
	return fmt.Sprintf("controller: %q not registered", e.Name)
}

// Unwrap returns ErrNotFound.
func (e *LookupError) Unwrap() error {
	return ErrNotFound
}

// PanicError wraps a panic raised by a controller.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

// Error returns the error message.
func (e *PanicError) Error() string {
	return fmt.Sprintf("controller: %q panicked: %v", e.Name, e.Value)
}

// Func is a controller callback.
type Func func(ctx context.Context, args ...any) (any, error)

// Registry maps controller names to functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Register binds fn to name, replacing any previous registration.
// Registering a nil fn removes the name.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.funcs, name)
		return
	}
	r.funcs[name] = fn
}

// Unregister removes name.
func (r *Registry) Unregister(name string) {
	r.Register(name, nil)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns a function that calls whatever is registered under name at the
// time of the call.
func (r *Registry) Get(name string) Func {
	return func(ctx context.Context, args ...any) (any, error) {
		return r.Call(ctx, name, args...)
	}
}

// Call invokes the controller registered under name. Controllers run
// synchronously on the caller's goroutine; a panic is returned as a
// *PanicError.
func (r *Registry) Call(ctx context.Context, name string, args ...any) (result any, err error) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &LookupError{Name: name}
	}

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = &PanicError{Name: name, Value: p, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, args...)
}
