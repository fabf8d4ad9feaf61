package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/tether/pkg/controller"
	"github.com/vango-dev/tether/pkg/link"
	"github.com/vango-dev/tether/pkg/state"
	"github.com/vango-dev/tether/pkg/trigger"
)

// TracerName is the OpenTelemetry instrumentation name used for spans.
const TracerName = "github.com/vango-dev/tether"

// Server binds a state store and its registries to a transport.
type Server struct {
	config  *Config
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	filter  ClientFilter
	strict  bool

	state       *state.Store
	controllers *controller.Registry
	triggers    *trigger.Registry

	lifecycle atomic.Int32

	// lifeMu serializes Init, Start and Shutdown.
	lifeMu sync.Mutex

	// mu guards hooks, transport, pub and clients.
	mu        sync.Mutex
	hooks     hooks
	transport link.Transport
	pub       *publisher
	clients   map[link.ClientID]struct{}

	// sinkMu guards pending and the Running hand-over.
	sinkMu  sync.Mutex
	pending state.ChangeSet

	// callMu serializes trigger calls, Do and client snapshots so every
	// trigger produces exactly one flush.
	callMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger. The state store and trigger registry
// log through it as well.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics records server activity in m.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithTracerProvider sets the provider trigger spans are created from.
// Default: the global OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		if tp != nil {
			s.tracer = tp.Tracer(TracerName)
		}
	}
}

// WithClientFilter publishes snapshots and diffs per client, restricted to
// the keys filter allows.
func WithClientFilter(filter ClientFilter) Option {
	return func(s *Server) {
		s.filter = filter
	}
}

// WithStrictTriggers rejects registering a trigger name twice. Use
// Triggers().Replace to swap a handler deliberately.
func WithStrictTriggers() Option {
	return func(s *Server) {
		s.strict = true
	}
}

// New creates a server in the Created state. A nil config uses
// DefaultConfig.
func New(config *Config, opts ...Option) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.Clone()
	config.applyDefaults()

	s := &Server{
		config:  config,
		logger:  slog.Default().With("component", "server"),
		tracer:  otel.Tracer(TracerName),
		clients: make(map[link.ClientID]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.state = state.New(
		state.WithSink(s.onFlush),
		state.WithLogger(s.logger.With("subsystem", "state")),
		state.WithMaxCascade(config.MaxFlushCascade),
	)
	s.controllers = controller.New()

	triggerOpts := []trigger.Option{
		trigger.WithEpisodes(s.state),
		trigger.WithLogger(s.logger.With("subsystem", "trigger")),
	}
	if s.strict || config.StrictTriggers {
		triggerOpts = append(triggerOpts, trigger.WithStrict())
	}
	s.triggers = trigger.New(triggerOpts...)

	s.metrics.setLifecycle(Created)
	return s
}

// State returns the state store.
func (s *Server) State() *state.Store {
	return s.state
}

// Controllers returns the controller registry.
func (s *Server) Controllers() *controller.Registry {
	return s.controllers
}

// Triggers returns the trigger registry.
func (s *Server) Triggers() *trigger.Registry {
	return s.triggers
}

// Config returns a copy of the server configuration.
func (s *Server) Config() *Config {
	return s.config.Clone()
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// Clients returns the connected clients, sorted.
func (s *Server) Clients() []link.ClientID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]link.ClientID, 0, len(s.clients))
	for c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Init validates the configuration and fires OnServerBind hooks. Calling it
// on an initialized server is a no-op.
func (s *Server) Init(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	switch l := s.Lifecycle(); l {
	case Created:
		return s.initLocked(ctx)
	case Initialized:
		return nil
	default:
		return &LifecycleError{Op: "init", State: l}
	}
}

func (s *Server) initLocked(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	s.advance(Initialized)

	s.mu.Lock()
	summary := s.hooks.String()
	s.mu.Unlock()
	s.logger.Debug("server initialized", "hooks", summary)
	s.runHooks(ctx, HookServerBind, snapshotHooks(s, &s.hooks.bind))
	return nil
}

// Start attaches the transport and moves the server to Running. It
// initializes the server first when needed. OnServerReady hooks run after
// the transition, once.
func (s *Server) Start(ctx context.Context, t link.Transport) error {
	s.lifeMu.Lock()

	if s.Lifecycle() == Created {
		if err := s.initLocked(ctx); err != nil {
			s.lifeMu.Unlock()
			return err
		}
	}
	if l := s.Lifecycle(); l != Initialized {
		s.lifeMu.Unlock()
		return &LifecycleError{Op: "start", State: l}
	}
	if t == nil {
		s.lifeMu.Unlock()
		return ErrNoTransport
	}

	pub := newPublisher(t, s.filter, s.metrics, s.logger.With("subsystem", "publisher"))
	s.mu.Lock()
	s.transport = t
	s.pub = pub
	s.mu.Unlock()

	if err := t.Attach(s); err != nil {
		_ = pub.close(ctx)
		s.mu.Lock()
		s.transport = nil
		s.pub = nil
		s.mu.Unlock()
		s.lifeMu.Unlock()
		return fmt.Errorf("server: attach transport: %w", err)
	}

	s.sinkMu.Lock()
	s.advance(Running)
	if !s.pending.Empty() {
		pub.enqueue(publication{topic: link.TopicDiff, cs: s.pending})
		s.pending = state.ChangeSet{}
	}
	s.sinkMu.Unlock()

	ready := snapshotHooks(s, &s.hooks.ready)
	s.lifeMu.Unlock()

	s.logger.Info("server running",
		"address", s.config.Address(),
		"client_type", s.config.ClientType,
		"keys", s.state.Len())
	s.runHooks(ctx, HookServerReady, ready)
	return nil
}

// Shutdown stops the server. New calls are rejected, in-flight calls finish,
// OnServerExit hooks run, the state store closes, queued publishes are
// delivered and the transport is closed. Calling it again is a no-op.
//
// The wait for queued publishes is bounded by ctx and Config.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	prev := s.Lifecycle()
	if prev >= ShuttingDown {
		return nil
	}
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}

	s.advance(ShuttingDown)
	s.logger.Info("shutting down")

	// Wait for the in-flight call, if any.
	s.callMu.Lock()
	s.callMu.Unlock()

	if prev >= Initialized {
		s.runHooks(ctx, HookServerExit, snapshotHooks(s, &s.hooks.exit))
	}
	s.state.Close()

	s.mu.Lock()
	pub, t := s.pub, s.transport
	s.mu.Unlock()

	var errs []error
	if pub != nil {
		if err := pub.close(ctx); err != nil {
			s.logger.Error("publish queue not drained", "error", err)
			errs = append(errs, fmt.Errorf("server: drain publishes: %w", err))
		}
	}
	if t != nil {
		if err := t.Close(); err != nil {
			s.logger.Error("transport close failed", "error", err)
			errs = append(errs, fmt.Errorf("server: close transport: %w", err))
		}
	}

	s.advance(Stopped)
	s.logger.Info("server shutdown complete")
	return errors.Join(errs...)
}

// Drain blocks until every publish queued so far reached the transport.
func (s *Server) Drain(ctx context.Context) error {
	s.mu.Lock()
	pub := s.pub
	s.mu.Unlock()
	if pub == nil {
		return nil
	}
	return pub.drain(ctx)
}

// callKey marks a context derived inside a serialized call. Do and Call
// given such a context run on the caller's turn instead of waiting for it.
type callKey struct{}

func inCall(ctx context.Context) bool {
	return ctx != nil && ctx.Value(callKey{}) != nil
}

// serialize runs fn with the call lock held, unless ctx already comes from
// inside a serialized call. State change listeners fired by fn run after
// the lock is released, so they may call Do and Call themselves.
func (s *Server) serialize(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if l := s.Lifecycle(); l >= ShuttingDown {
		return &LifecycleError{Op: op, State: l}
	}
	release := s.state.HoldListeners()
	defer release()

	if inCall(ctx) {
		return fn(ctx)
	}
	s.callMu.Lock()
	defer s.callMu.Unlock()
	if l := s.Lifecycle(); l >= ShuttingDown {
		return &LifecycleError{Op: op, State: l}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(context.WithValue(ctx, callKey{}, true))
}

// Do runs fn in one state episode, serialized with trigger calls.
//
// Do may be called from trigger handlers (pass the handler's ctx) and from
// state change listeners; in a handler, fn joins the handler's turn.
//
// Example:
//
//	srv.Do(ctx, func() error {
//	    st := srv.State()
//	    st.Set("count", 0)
//	    return st.Set("status", "idle")
//	})
func (s *Server) Do(ctx context.Context, fn func() error) error {
	return s.serialize(ctx, "do", func(context.Context) error {
		return s.state.Episode(fn)
	})
}

// Call invokes a trigger from server code. Inside a trigger handler, pass
// the handler's ctx so the nested call joins the running turn; that ctx must
// not be used after the handler returns.
func (s *Server) Call(ctx context.Context, name string, args ...any) (any, error) {
	call, err := trigger.NewCall(name, args, nil)
	if err != nil {
		return nil, err
	}
	return s.invoke(ctx, call)
}

// HandleCall implements link.Handler.
func (s *Server) HandleCall(ctx context.Context, client link.ClientID, name string, args []json.RawMessage, kwargs map[string]json.RawMessage) (any, error) {
	return s.invoke(ctx, &trigger.Call{
		Name:   name,
		Client: string(client),
		Args:   args,
		Kwargs: kwargs,
	})
}

func (s *Server) invoke(ctx context.Context, call *trigger.Call) (any, error) {
	if l := s.Lifecycle(); l >= ShuttingDown {
		return nil, &LifecycleError{Op: "call " + call.Name, State: l}
	}

	ctx, span := s.tracer.Start(ctx, "tether.trigger",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("tether.trigger", call.Name),
			attribute.String("tether.client", call.Client),
		),
	)
	defer span.End()

	var (
		result  any
		elapsed time.Duration
		ran     bool
	)
	err := s.serialize(ctx, "call "+call.Name, func(ctx context.Context) error {
		ran = true
		start := time.Now()
		var err error
		result, err = s.triggers.Invoke(ctx, call)
		elapsed = time.Since(start)
		return err
	})
	if !ran {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	status := callStatus(err)
	label := call.Name
	if status == "not_found" {
		label = "(unknown)"
	}
	s.metrics.recordTrigger(label, status, elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logCallError(call, err)
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	if s.config.Debug {
		s.logger.Debug("trigger",
			"trigger", call.Name,
			"client", call.Client,
			"duration", elapsed)
	}
	return result, nil
}

func (s *Server) logCallError(call *trigger.Call, err error) {
	var exec *trigger.ExecutionError
	if errors.As(err, &exec) && exec.Panic != nil {
		args := []any{"trigger", call.Name, "client", call.Client, "panic", exec.Panic}
		if s.config.Debug {
			args = append(args, "stack", string(exec.Stack))
		}
		s.logger.Error("trigger panicked", args...)
		return
	}
	s.logger.Debug("trigger failed", "trigger", call.Name, "client", call.Client, "error", err)
}

func callStatus(err error) string {
	var exec *trigger.ExecutionError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, trigger.ErrNotFound):
		return "not_found"
	case errors.Is(err, trigger.ErrInvalidArgument):
		return "invalid_argument"
	case errors.As(err, &exec) && exec.Panic != nil:
		return "panic"
	default:
		return "error"
	}
}

// ClientConnected implements link.Handler. The client receives the full
// state on link.TopicSnapshot before OnClientConnected hooks run.
func (s *Server) ClientConnected(ctx context.Context, client link.ClientID) {
	if s.Lifecycle() >= ShuttingDown {
		return
	}

	s.mu.Lock()
	_, dup := s.clients[client]
	s.clients[client] = struct{}{}
	s.mu.Unlock()
	if !dup {
		s.metrics.clientConnected()
	}

	s.sendSnapshot(client)
	s.logger.Debug("client connected", "client", client)
	s.runClientHooks(ctx, HookClientConnected, client, snapshotHooks(s, &s.hooks.connected))
}

// ClientDisconnected implements link.Handler.
func (s *Server) ClientDisconnected(ctx context.Context, client link.ClientID) {
	s.mu.Lock()
	_, ok := s.clients[client]
	delete(s.clients, client)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.metrics.clientDisconnected()
	s.logger.Debug("client disconnected", "client", client)
	s.runClientHooks(ctx, HookClientExited, client, snapshotHooks(s, &s.hooks.exited))
}

// Resync implements link.Handler by sending the full state again.
func (s *Server) Resync(ctx context.Context, client link.ClientID) {
	if s.Lifecycle() >= ShuttingDown {
		return
	}
	s.logger.Debug("client resync", "client", client)
	s.sendSnapshot(client)
}

// sendSnapshot queues the full state for client, ordered before any diff
// flushed afterwards.
func (s *Server) sendSnapshot(client link.ClientID) {
	s.mu.Lock()
	pub := s.pub
	s.mu.Unlock()
	if pub == nil {
		return
	}

	s.callMu.Lock()
	defer s.callMu.Unlock()
	s.state.View(func(snapshot state.ChangeSet) {
		pub.enqueue(publication{client: client, topic: link.TopicSnapshot, cs: snapshot})
	})
}

// onFlush is the state store sink.
func (s *Server) onFlush(cs state.ChangeSet) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()

	s.metrics.recordFlush(cs.Len())
	if s.config.Debug {
		s.logger.Debug("flush", "keys", cs.Keys())
	}

	switch l := s.Lifecycle(); l {
	case Created, Initialized:
		s.pending = s.pending.Merge(cs)
	case Running, ShuttingDown:
		s.mu.Lock()
		pub := s.pub
		s.mu.Unlock()
		if pub == nil || !pub.enqueue(publication{topic: link.TopicDiff, cs: cs}) {
			s.logger.Debug("flush dropped", "state", l, "keys", cs.Keys())
		}
	default:
		s.logger.Debug("flush dropped", "state", l, "keys", cs.Keys())
	}
}
