package state

import (
	"strings"
	"testing"
)

func TestOnChangeFiresForWatchedKeys(t *testing.T) {
	st, _ := newRecorded()

	var calls []ChangeSet
	st.OnChange(func(cs ChangeSet) {
		calls = append(calls, cs)
	}, "a")

	st.Set("b", 1)
	if len(calls) != 0 {
		t.Fatalf("listener fired for unwatched key")
	}

	st.Episode(func() error {
		st.Set("a", 1)
		st.Set("b", 2)
		return nil
	})
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if !calls[0].Has("a") || !calls[0].Has("b") {
		t.Errorf("listener should see the whole change set, got %v", calls[0].Keys())
	}
}

func TestOnChangeWithoutKeysSeesEverything(t *testing.T) {
	st, _ := newRecorded()
	n := 0
	st.OnChange(func(ChangeSet) { n++ })

	st.Set("x", 1)
	st.Set("y", 1)
	st.Set("y", 1) // unchanged

	if n != 2 {
		t.Errorf("expected 2 calls, got %d", n)
	}
}

func TestListenerMutationsFlushAsFollowUp(t *testing.T) {
	st, rec := newRecorded()

	st.OnChange(func(cs ChangeSet) {
		st.Set("double", Value(st, "count", 0)*2)
		st.Set("parity", Value(st, "count", 0)%2)
	}, "count")

	st.Set("count", 3)

	if rec.count() != 2 {
		t.Fatalf("expected primary + follow-up flush, got %d", rec.count())
	}
	if got := jsonOf(t, rec.flushes[0]); got != `{"count":3}` {
		t.Errorf("first flush = %s", got)
	}
	if got := jsonOf(t, rec.flushes[1]); got != `{"double":6,"parity":1}` {
		t.Errorf("follow-up flush = %s", got)
	}
}

func TestListenerCascadeIsBounded(t *testing.T) {
	st, rec := newRecorded(WithMaxCascade(4))

	st.OnChange(func(ChangeSet) {
		st.Set("n", Value(st, "n", 0)+1)
	}, "n")

	st.Set("n", 0)

	if rec.count() != 4 {
		t.Errorf("expected cascade cut at 4 flushes, got %d", rec.count())
	}
	if st.Depth() != 0 {
		t.Errorf("depth = %d", st.Depth())
	}
}

func TestListenerPanicIsIsolated(t *testing.T) {
	st, _ := newRecorded()

	second := false
	st.OnChange(func(ChangeSet) { panic("bad listener") })
	st.OnChange(func(ChangeSet) { second = true })

	st.Set("a", 1)

	if !second {
		t.Error("a panicking listener must not stop the next one")
	}
	if st.Depth() != 0 {
		t.Errorf("depth = %d", st.Depth())
	}
}

func TestOnChangeCancel(t *testing.T) {
	st, _ := newRecorded()
	n := 0
	cancel := st.OnChange(func(ChangeSet) { n++ })

	st.Set("a", 1)
	cancel()
	st.Set("a", 2)

	if n != 1 {
		t.Errorf("expected 1 call before cancel, got %d", n)
	}
}

func TestHoldListenersDefersCallbacks(t *testing.T) {
	st, rec := newRecorded()

	var seen []string
	st.OnChange(func(cs ChangeSet) {
		seen = append(seen, cs.Keys()...)
		if cs.Has("a") {
			st.Set("echo", Value(st, "a", 0))
		}
	}, "a", "b")

	release := st.HoldListeners()
	inner := st.HoldListeners()
	st.Set("a", 1)
	st.Set("b", 2)
	if rec.count() != 2 {
		t.Fatalf("sink must see flushes during a hold, got %d", rec.count())
	}
	if len(seen) != 0 {
		t.Fatalf("listener ran during hold: %v", seen)
	}

	inner()
	if len(seen) != 0 {
		t.Fatalf("listener ran before the last hold was released: %v", seen)
	}
	release()
	release()

	if strings.Join(seen, ",") != "a,b" {
		t.Errorf("listener saw %v, want flush order a,b", seen)
	}
	if v, _ := st.Get("echo"); v != 1 {
		t.Errorf("follow-up mutation not applied: echo = %v", v)
	}
	if got := jsonOf(t, rec.last(t)); got != `{"echo":1}` {
		t.Errorf("follow-up flush = %s", got)
	}
}
