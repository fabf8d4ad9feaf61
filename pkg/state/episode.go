package state

import "sync"

// Begin opens an episode and returns the function that closes it. Closing
// the outermost episode flushes the collected changes:
//
//	defer st.Begin()()
//
// The returned function is idempotent.
func (s *Store) Begin() (end func()) {
	s.enter()
	var once sync.Once
	return func() {
		once.Do(s.exit)
	}
}

// Episode runs fn inside an episode. The flush at the end of the outermost
// episode fires on every exit path, including errors and panics, so partial
// mutations stay visible to clients.
//
// Example:
//
//	err := st.Episode(func() error {
//	    st.Set("status", "saving")
//	    return save()
//	})
func (s *Store) Episode(fn func() error) error {
	defer s.Begin()()
	return fn()
}

// Depth returns the current episode nesting depth.
func (s *Store) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth
}

func (s *Store) enter() {
	s.mu.Lock()
	s.depth++
	s.mu.Unlock()
}

func (s *Store) exit() {
	s.mu.Lock()
	s.depth--
	outermost := s.depth == 0
	s.mu.Unlock()

	if outermost {
		s.flush()
	}
}

// flush hands the collected change set to the sink, notifies listeners, and
// repeats while listeners keep producing changes.
func (s *Store) flush() {
	for round := 0; ; round++ {
		cs, ok := s.flushOnce()
		if !ok || cs.Empty() {
			return
		}
		if s.deferNotify(cs) {
			return
		}
		if !s.notify(cs) {
			return
		}
		if round+1 >= s.maxCascade {
			s.logger.Error("change listener cascade cut",
				"rounds", round+1,
				"pending", s.Pending().Keys())
			return
		}
	}
}

// flushOnce drains the collector into the sink. It reports false when an
// episode was reopened in the meantime; that episode's exit flushes instead.
func (s *Store) flushOnce() (ChangeSet, bool) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.depth > 0 {
		s.mu.Unlock()
		return ChangeSet{}, false
	}
	if s.dirty.empty() {
		s.mu.Unlock()
		return ChangeSet{}, true
	}
	cs := s.dirty.drain(s.entries)
	sink := s.sink
	s.mu.Unlock()

	if !cs.Empty() && sink != nil {
		sink(cs)
	}
	return cs, true
}
