package state

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// ChangeFunc is called with the change set of a flush.
type ChangeFunc func(cs ChangeSet)

type listener struct {
	id   uint64
	keys []string
	fn   ChangeFunc
}

// OnChange registers fn to run after every flush whose change set contains
// one of keys. With no keys, fn runs after every flush.
//
// Listeners run in registration order inside a fresh episode; mutations they
// make are flushed as a follow-up change set. They run on the goroutine that
// closed the episode, right after the flush, unless a HoldListeners is in
// effect. The returned function removes the listener.
func (s *Store) OnChange(fn ChangeFunc, keys ...string) (cancel func()) {
	s.listenMu.Lock()
	s.nextID++
	l := &listener{id: s.nextID, keys: append([]string(nil), keys...), fn: fn}
	s.listeners = append(s.listeners, l)
	s.listenMu.Unlock()

	return func() {
		s.listenMu.Lock()
		defer s.listenMu.Unlock()
		for i, existing := range s.listeners {
			if existing.id == l.id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// HoldListeners defers change listeners until the returned function is
// called. Change sets still reach the sink at flush time; only the listener
// callbacks wait. When the last hold is released, the listeners of every
// change set flushed in the meantime run in flush order on the releasing
// goroutine, followed by the flushes they cause.
//
// Callers that serialize work behind their own lock hold listeners while
// the lock is taken and release after unlocking, so listeners can re-enter
// that caller:
//
//	release := st.HoldListeners()
//	mu.Lock()
//	st.Episode(fn)
//	mu.Unlock()
//	release()
//
// The returned function is idempotent.
func (s *Store) HoldListeners() (release func()) {
	s.mu.Lock()
	s.holds++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(s.releaseListeners)
	}
}

func (s *Store) releaseListeners() {
	s.mu.Lock()
	s.holds--
	if s.holds > 0 {
		s.mu.Unlock()
		return
	}
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()

	for _, cs := range queued {
		if s.notify(cs) {
			s.flush()
		}
	}
}

// deferNotify queues cs for the current hold and reports whether it did.
func (s *Store) deferNotify(cs ChangeSet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holds == 0 {
		return false
	}
	s.queued = append(s.queued, cs)
	return true
}

// notify runs matching listeners and reports whether any ran.
func (s *Store) notify(cs ChangeSet) bool {
	s.listenMu.RLock()
	matched := make([]*listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		if len(l.keys) == 0 || cs.HasAny(l.keys...) {
			matched = append(matched, l)
		}
	}
	s.listenMu.RUnlock()

	if len(matched) == 0 {
		return false
	}

	// Hold an episode open without flushing on exit; the caller's loop
	// drains whatever the listeners dirtied.
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.depth--
		s.mu.Unlock()
	}()

	for _, l := range matched {
		s.runListener(l, cs)
	}
	return true
}

func (s *Store) runListener(l *listener, cs ChangeSet) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("change listener panic",
				"listener", l.id,
				"keys", l.keys,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	l.fn(cs)
}
