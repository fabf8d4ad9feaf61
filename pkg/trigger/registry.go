// Package trigger maps externally invokable names to handlers.
//
// A remote client calls a trigger by name through the transport; the server
// resolves the name here and runs the handler inside a state episode, so any
// state the handler mutates is flushed once when it returns, whether it
// succeeded or not.
//
// # Collision policy
//
// By default registering an existing name replaces the handler (and logs a
// warning), matching controller semantics. Triggers are addressable from the
// outside, so independently loaded modules can collide; WithStrict makes
// Register fail with ErrAlreadyRegistered whenever the name is already
// bound. Replace swaps a handler explicitly in either mode.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
)

// Handler runs a trigger invocation.
type Handler func(ctx context.Context, call *Call) (any, error)

// Episoder opens a state episode around fn. *state.Store implements it.
type Episoder interface {
	Episode(fn func() error) error
}

// Registry maps trigger names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	strict   bool
	episodes Episoder
	anon     atomic.Uint64
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithStrict makes Register reject names that are already bound.
func WithStrict() Option {
	return func(r *Registry) {
		r.strict = true
	}
}

// WithEpisodes runs every invocation inside e.Episode.
func WithEpisodes(e Episoder) Option {
	return func(r *Registry) {
		r.episodes = e
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		logger:   slog.Default().With("component", "trigger"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strict reports whether the registry rejects conflicting registrations.
func (r *Registry) Strict() bool {
	return r.strict
}

// Register binds fn to name.
func (r *Registry) Register(name string, fn Handler) error {
	if name == "" || fn == nil {
		return fmt.Errorf("%w: name %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[name]; ok {
		if r.strict {
			return fmt.Errorf("%w: %q", ErrAlreadyRegistered, name)
		}
		r.logger.Warn("trigger overwritten", "trigger", name)
	}
	r.handlers[name] = fn
	return nil
}

// Replace binds fn to name whether or not it is already bound, and reports
// whether a previous handler was replaced. Strict mode does not apply.
func (r *Registry) Replace(name string, fn Handler) (bool, error) {
	if name == "" || fn == nil {
		return false, fmt.Errorf("%w: name %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, replaced := r.handlers[name]
	r.handlers[name] = fn
	return replaced, nil
}

// RegisterFunc registers fn under a generated name and returns it.
func (r *Registry) RegisterFunc(fn Handler) (string, error) {
	name := fmt.Sprintf("trigger__%d", r.anon.Add(1))
	if err := r.Register(name, fn); err != nil {
		return "", err
	}
	return name, nil
}

// Unregister removes name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, name)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the handler bound to name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Invoke resolves call.Name and runs the handler.
//
// An unknown name returns a *LookupError without running anything. Handler
// failures, returned or panicked, come back as *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, call *Call) (any, error) {
	fn, ok := r.Lookup(call.Name)
	if !ok {
		return nil, &LookupError{Name: call.Name}
	}

	var result any
	run := func() error {
		var err error
		result, err = r.run(ctx, fn, call)
		return err
	}

	var err error
	if r.episodes != nil {
		err = r.episodes.Episode(run)
	} else {
		err = run()
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Call invokes name with Go values as positional arguments.
func (r *Registry) Call(ctx context.Context, name string, args ...any) (any, error) {
	call, err := NewCall(name, args, nil)
	if err != nil {
		return nil, err
	}
	return r.Invoke(ctx, call)
}

func (r *Registry) run(ctx context.Context, fn Handler, call *Call) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = &ExecutionError{Name: call.Name, Panic: p, Stack: debug.Stack()}
		}
	}()

	result, err = fn(ctx, call)
	if err != nil {
		return nil, &ExecutionError{Name: call.Name, Err: err}
	}
	return result, nil
}
