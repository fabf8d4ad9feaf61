package state

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
)

// DefaultMaxCascade bounds how many follow-up flushes change listeners may
// cause from a single episode exit.
const DefaultMaxCascade = 32

// Sink receives every non-empty ChangeSet, in the order episodes closed.
// It is called synchronously from the goroutine that closed the episode and
// must not block.
type Sink func(cs ChangeSet)

type entry struct {
	value any
	raw   json.RawMessage
}

// Store is a mutable, observable key/value mapping with dirty tracking.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order of keys
	depth   int
	dirty   *collector
	sink    Sink
	closed  bool

	// flushMu keeps change sets leaving the store in episode-close order.
	flushMu sync.Mutex

	listenMu  sync.RWMutex
	listeners []*listener
	nextID    uint64

	// Guarded by mu. While holds > 0, flushed change sets wait in queued
	// for their listeners.
	holds  int
	queued []ChangeSet

	maxCascade int
	logger     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSink sets the sink receiving flushed change sets.
func WithSink(sink Sink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxCascade sets how many listener-caused follow-up flushes one episode
// exit may trigger. Values <= 0 keep the default.
func WithMaxCascade(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxCascade = n
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[string]*entry),
		dirty:      newCollector(),
		maxCascade: DefaultMaxCascade,
		logger:     slog.Default().With("component", "state"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSink replaces the sink. Passing nil drops flushed change sets.
func (s *Store) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// encode validates that value survives the transport encoding.
func encode(key string, value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, &ValidationError{Key: key, Err: err}
	}
	return raw, nil
}

// Set stores value under key. The key is marked dirty only when the encoded
// value differs from the current one.
func (s *Store) Set(key string, value any) error {
	raw, err := encode(key, value)
	if err != nil {
		return err
	}

	defer s.Begin()()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.writeLocked(key, value, raw)
	return nil
}

// SetDefault stores value only if key is absent. It reports whether the value
// was written.
func (s *Store) SetDefault(key string, value any) (bool, error) {
	raw, err := encode(key, value)
	if err != nil {
		return false, err
	}

	defer s.Begin()()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	if _, ok := s.entries[key]; ok {
		return false, nil
	}
	s.writeLocked(key, value, raw)
	return true, nil
}

// Update sets every key of values inside one episode. All values are
// validated first; if any fails nothing is written.
func (s *Store) Update(values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	raws := make([]json.RawMessage, len(keys))
	for i, k := range keys {
		raw, err := encode(k, values[k])
		if err != nil {
			return err
		}
		raws[i] = raw
	}

	defer s.Begin()()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for i, k := range keys {
		s.writeLocked(k, values[k], raws[i])
	}
	return nil
}

func (s *Store) writeLocked(key string, value any, raw json.RawMessage) {
	e, ok := s.entries[key]
	if ok && bytes.Equal(e.raw, raw) {
		e.value = value
		return
	}
	if !ok {
		e = &entry{}
		s.entries[key] = e
		s.order = append(s.order, key)
		s.dirty.mark(key, nil, false)
	} else {
		s.dirty.mark(key, e.raw, true)
	}
	e.value = value
	e.raw = raw
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// GetOr returns the value stored under key, or def when absent.
func (s *Store) GetOr(key string, def any) any {
	if v, ok := s.Get(key); ok {
		return v
	}
	return def
}

// Raw returns the encoded value stored under key.
func (s *Store) Raw(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.raw, true
}

// Has reports whether key is present.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Keys returns all keys in insertion order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Snapshot returns the full current state in key insertion order.
func (s *Store) Snapshot() ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() ChangeSet {
	var cs ChangeSet
	for _, key := range s.order {
		e := s.entries[key]
		cs.put(key, e.value, e.raw)
	}
	return cs
}

// View calls fn with a full snapshot while no flush can be handed to the sink.
// Anything fn enqueues is ordered before the next flushed change set.
func (s *Store) View(fn func(snapshot ChangeSet)) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	fn(s.Snapshot())
}

// Pending returns the change set the next flush would produce, without
// clearing it.
func (s *Store) Pending() ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty.diff(s.entries)
}

// Close stops the store from accepting mutations. Reads keep working.
// Pending dirty keys are discarded.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.dirty.reset()
}

// Closed reports whether Close was called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
