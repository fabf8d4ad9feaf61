package state

import (
	"errors"
	"math"
	"sync"
	"testing"
)

// recorder collects flushed change sets.
type recorder struct {
	mu      sync.Mutex
	flushes []ChangeSet
}

func (r *recorder) sink(cs ChangeSet) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushes = append(r.flushes, cs)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flushes)
}

func (r *recorder) last(t *testing.T) ChangeSet {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.flushes) == 0 {
		t.Fatal("expected at least one flush")
	}
	return r.flushes[len(r.flushes)-1]
}

func newRecorded(opts ...Option) (*Store, *recorder) {
	rec := &recorder{}
	st := New(append([]Option{WithSink(rec.sink)}, opts...)...)
	return st, rec
}

func jsonOf(t *testing.T, cs ChangeSet) string {
	t.Helper()
	b, err := cs.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestSetFlushesOnce(t *testing.T) {
	st, rec := newRecorded()

	if err := st.Set("count", 1); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if rec.count() != 1 {
		t.Fatalf("expected 1 flush, got %d", rec.count())
	}
	if got := jsonOf(t, rec.last(t)); got != `{"count":1}` {
		t.Errorf("payload = %s", got)
	}
}

func TestSetRejectsUnserializable(t *testing.T) {
	st, rec := newRecorded()

	tests := []struct {
		name  string
		value any
	}{
		{"func", func() {}},
		{"channel", make(chan int)},
		{"nan", math.NaN()},
		{"complex", complex(1, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := st.Set("bad", tt.value)
			if !errors.Is(err, ErrNotSerializable) {
				t.Fatalf("expected ErrNotSerializable, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Key != "bad" {
				t.Errorf("expected ValidationError for key bad, got %#v", err)
			}
		})
	}

	if st.Has("bad") {
		t.Error("rejected value must not be stored")
	}
	if rec.count() != 0 {
		t.Errorf("expected no flush, got %d", rec.count())
	}
}

func TestGetHasNoSideEffects(t *testing.T) {
	st, rec := newRecorded()

	if v, ok := st.Get("missing"); ok || v != nil {
		t.Errorf("Get(missing) = %v, %v", v, ok)
	}
	if got := st.GetOr("missing", 42); got != 42 {
		t.Errorf("GetOr default = %v", got)
	}
	if rec.count() != 0 || !st.Pending().Empty() {
		t.Error("reads must not mark anything dirty")
	}
}

func TestEqualValueIsNotDirty(t *testing.T) {
	st, rec := newRecorded()
	st.Set("items", []int{1, 2, 3})
	before := rec.count()

	// A different slice with equal contents is the same value.
	st.Set("items", []int{1, 2, 3})

	if rec.count() != before {
		t.Errorf("equal value flushed: %d -> %d", before, rec.count())
	}
}

func TestEpisodeDeduplicatesKeys(t *testing.T) {
	st, rec := newRecorded()

	st.Episode(func() error {
		for i := 1; i <= 5; i++ {
			st.Set("count", i)
		}
		st.Set("name", "x")
		st.Set("count", 6)
		return nil
	})

	if rec.count() != 1 {
		t.Fatalf("expected 1 flush, got %d", rec.count())
	}
	if got := jsonOf(t, rec.last(t)); got != `{"count":6,"name":"x"}` {
		t.Errorf("payload = %s", got)
	}
}

func TestEpisodeRevertedKeyDropsOut(t *testing.T) {
	st, rec := newRecorded()
	st.Set("a", 1)
	st.Set("b", 1)
	before := rec.count()

	st.Episode(func() error {
		st.Set("a", 2)
		st.Set("a", 1)
		st.Set("b", 2)
		return nil
	})

	if rec.count() != before+1 {
		t.Fatalf("expected one more flush")
	}
	if got := jsonOf(t, rec.last(t)); got != `{"b":2}` {
		t.Errorf("payload = %s", got)
	}
}

func TestNestedEpisodesFlushOnce(t *testing.T) {
	st, rec := newRecorded()

	const depth = 5
	var nest func(n int)
	nest = func(n int) {
		st.Episode(func() error {
			st.Set("level", n)
			if n < depth {
				nest(n + 1)
			}
			if rec.count() != 0 {
				t.Errorf("flush inside episode at level %d", n)
			}
			return nil
		})
	}
	nest(1)

	if rec.count() != 1 {
		t.Fatalf("expected exactly 1 flush, got %d", rec.count())
	}
	if got := jsonOf(t, rec.last(t)); got != `{"level":5}` {
		t.Errorf("payload = %s", got)
	}
	if st.Depth() != 0 {
		t.Errorf("depth = %d after exit", st.Depth())
	}
}

func TestBeginEnd(t *testing.T) {
	st, rec := newRecorded()

	func() {
		defer st.Begin()()
		st.Set("x", 1)
		st.Set("y", 2)
	}()

	if rec.count() != 1 {
		t.Fatalf("expected 1 flush, got %d", rec.count())
	}

	end := st.Begin()
	end()
	end() // idempotent
	if st.Depth() != 0 {
		t.Errorf("depth = %d", st.Depth())
	}
}

func TestEpisodeFlushesOnError(t *testing.T) {
	st, rec := newRecorded()
	boom := errors.New("boom")

	err := st.Episode(func() error {
		st.Set("partial", true)
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if rec.count() != 1 || !rec.last(t).Has("partial") {
		t.Error("partial mutation must still be flushed")
	}
}

func TestEpisodeFlushesOnPanic(t *testing.T) {
	st, rec := newRecorded()

	func() {
		defer func() { recover() }()
		st.Episode(func() error {
			st.Set("partial", 1)
			panic("handler blew up")
		})
	}()

	if rec.count() != 1 {
		t.Fatalf("expected flush on panic, got %d", rec.count())
	}
	if st.Depth() != 0 {
		t.Errorf("depth leaked: %d", st.Depth())
	}
}

func TestEmptyEpisodeDoesNotFlush(t *testing.T) {
	st, rec := newRecorded()
	st.Episode(func() error { return nil })
	if rec.count() != 0 {
		t.Errorf("expected no flush, got %d", rec.count())
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	st, rec := newRecorded()

	err := st.Update(map[string]any{"a": 1, "b": 2, "c": 3})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 flush, got %d", rec.count())
	}
	if got := jsonOf(t, rec.last(t)); got != `{"a":1,"b":2,"c":3}` {
		t.Errorf("payload = %s", got)
	}

	err = st.Update(map[string]any{"a": 10, "bad": func() {}})
	if !errors.Is(err, ErrNotSerializable) {
		t.Fatalf("expected ErrNotSerializable, got %v", err)
	}
	if Value(st, "a", 0) != 1 {
		t.Error("failed Update must not write any key")
	}
}

func TestSetDefault(t *testing.T) {
	st, _ := newRecorded()

	wrote, err := st.SetDefault("mode", "light")
	if err != nil || !wrote {
		t.Fatalf("SetDefault = %v, %v", wrote, err)
	}
	wrote, _ = st.SetDefault("mode", "dark")
	if wrote {
		t.Error("SetDefault must not overwrite")
	}
	if st.GetOr("mode", "") != "light" {
		t.Errorf("mode = %v", st.GetOr("mode", ""))
	}
}

func TestSnapshotKeepsInsertionOrder(t *testing.T) {
	st, _ := newRecorded()
	st.Set("z", 1)
	st.Set("a", 2)
	st.Set("m", 3)
	st.Set("z", 4)

	if got := jsonOf(t, st.Snapshot()); got != `{"z":4,"a":2,"m":3}` {
		t.Errorf("snapshot = %s", got)
	}
	keys := st.Keys()
	if len(keys) != 3 || keys[0] != "z" || keys[2] != "m" {
		t.Errorf("keys = %v", keys)
	}
}

func TestPendingInsideEpisode(t *testing.T) {
	st, _ := newRecorded()
	st.Episode(func() error {
		st.Set("a", 1)
		st.Set("a", 2)
		p := st.Pending()
		if p.Len() != 1 {
			t.Errorf("pending len = %d", p.Len())
		}
		if v, _ := p.Get("a"); v != 2 {
			t.Errorf("pending a = %v", v)
		}
		return nil
	})
	if !st.Pending().Empty() {
		t.Error("pending must be empty after flush")
	}
}

func TestCloseRejectsMutations(t *testing.T) {
	st, rec := newRecorded()
	st.Set("a", 1)
	st.Close()

	if err := st.Set("a", 2); !errors.Is(err, ErrClosed) {
		t.Errorf("Set after Close = %v", err)
	}
	if err := st.Update(map[string]any{"b": 1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Update after Close = %v", err)
	}
	if _, err := st.SetDefault("c", 1); !errors.Is(err, ErrClosed) {
		t.Errorf("SetDefault after Close = %v", err)
	}
	if Value(st, "a", 0) != 1 {
		t.Error("reads must keep working after Close")
	}
	if rec.count() != 1 {
		t.Errorf("no flush expected after Close, got %d", rec.count())
	}
}

func TestValueDecodesClientNumbers(t *testing.T) {
	st := New()
	st.Set("count", float64(3)) // as decoded from JSON

	if got := Value(st, "count", 0); got != 3 {
		t.Errorf("Value[int] = %d", got)
	}
	if got := Value(st, "missing", "def"); got != "def" {
		t.Errorf("Value default = %q", got)
	}
	if got := Value(st, "count", "nope"); got != "nope" {
		t.Errorf("mismatched type should return default, got %q", got)
	}
}

func TestConcurrentSetsAreSafe(t *testing.T) {
	st, rec := newRecorded()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st.Set("shared", i)
			st.Set("k"+string(rune('a'+i%26)), i)
		}(i)
	}
	wg.Wait()

	if st.Depth() != 0 {
		t.Errorf("depth = %d", st.Depth())
	}
	if !st.Pending().Empty() {
		t.Error("everything should have been flushed")
	}
	if rec.count() == 0 {
		t.Error("expected flushes")
	}
}
