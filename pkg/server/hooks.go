package server

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/vango-dev/tether/pkg/link"
)

// Hook names, used in logs and the hook_failures_total metric.
const (
	HookServerBind      = "on_server_bind"
	HookServerReady     = "on_server_ready"
	HookServerExit      = "on_server_exit"
	HookClientConnected = "on_client_connected"
	HookClientExited    = "on_client_exited"
)

// Hook is a server lifecycle subscriber.
type Hook func(ctx context.Context) error

// ClientHook is a client lifecycle subscriber.
type ClientHook func(ctx context.Context, client link.ClientID) error

type hooks struct {
	bind      []Hook
	ready     []Hook
	exit      []Hook
	connected []ClientHook
	exited    []ClientHook
}

// OnServerBind registers fn to run when the server is initialized.
func (s *Server) OnServerBind(fn Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.bind = append(s.hooks.bind, fn)
}

// OnServerReady registers fn to run once the server is Running.
func (s *Server) OnServerReady(fn Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.ready = append(s.hooks.ready, fn)
}

// OnServerExit registers fn to run during shutdown, after in-flight calls
// completed and before the state store closes.
func (s *Server) OnServerExit(fn Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.exit = append(s.hooks.exit, fn)
}

// OnClientConnected registers fn to run after a client received its
// snapshot.
func (s *Server) OnClientConnected(fn ClientHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.connected = append(s.hooks.connected, fn)
}

// OnClientExited registers fn to run after a client disconnected.
func (s *Server) OnClientExited(fn ClientHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks.exited = append(s.hooks.exited, fn)
}

// runHooks calls every hook in registration order. Failures are logged and
// counted, never returned.
func (s *Server) runHooks(ctx context.Context, name string, list []Hook) {
	for i, fn := range list {
		if err := s.callHook(name, i, func() error { return fn(ctx) }); err != nil {
			s.hookFailed(name, i, err)
		}
	}
}

func (s *Server) runClientHooks(ctx context.Context, name string, client link.ClientID, list []ClientHook) {
	for i, fn := range list {
		if err := s.callHook(name, i, func() error { return fn(ctx, client) }); err != nil {
			s.hookFailed(name, i, err, "client", client)
		}
	}
}

func (s *Server) callHook(name string, index int, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Hook: name, Index: index, Panic: r, Stack: debug.Stack()}
		}
	}()
	return fn()
}

func (s *Server) hookFailed(name string, index int, err error, attrs ...any) {
	s.metrics.recordHookFailure(name)
	args := append([]any{"hook", name, "index", index, "error", err}, attrs...)
	if he, ok := err.(*HookError); ok && s.config.Debug {
		args = append(args, "stack", string(he.Stack))
	}
	s.logger.Error("hook failed", args...)
}

// snapshotHooks copies a hook list under the server lock.
func snapshotHooks[T any](s *Server, list *[]T) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(*list))
	copy(out, *list)
	return out
}

func (h hooks) String() string {
	return fmt.Sprintf("bind=%d ready=%d exit=%d connected=%d exited=%d",
		len(h.bind), len(h.ready), len(h.exit), len(h.connected), len(h.exited))
}
