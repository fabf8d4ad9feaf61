package trigger

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vango-dev/tether/pkg/state"
)

func constant(v any) Handler {
	return func(context.Context, *Call) (any, error) { return v, nil }
}

func TestInvokeReturnsResult(t *testing.T) {
	reg := New()
	reg.Register("add", func(ctx context.Context, call *Call) (any, error) {
		var a, b int
		if err := call.Arg(0, &a); err != nil {
			return nil, err
		}
		if err := call.Arg(1, &b); err != nil {
			return nil, err
		}
		return a + b, nil
	})

	got, err := reg.Call(context.Background(), "add", 2, 3)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != 5 {
		t.Errorf("add = %v", got)
	}
}

func TestInvokeUnknownName(t *testing.T) {
	reg := New()

	_, err := reg.Call(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var le *LookupError
	if !errors.As(err, &le) || le.Name != "missing" {
		t.Errorf("expected LookupError, got %#v", err)
	}
}

func TestOverwriteCallsNewestHandler(t *testing.T) {
	reg := New()
	if err := reg.Register("version", func(context.Context, *Call) (any, error) { return "v1", nil }); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("version", func(context.Context, *Call) (any, error) { return "v2", nil }); err != nil {
		t.Fatalf("default policy must allow overwrite: %v", err)
	}

	got, _ := reg.Call(context.Background(), "version")
	if got != "v2" {
		t.Errorf("version = %v, want newest handler", got)
	}
}

func TestStrictRejectsRebinding(t *testing.T) {
	tests := []struct {
		name   string
		first  Handler
		second Handler
	}{
		{"same factory", constant("v1"), constant("v2")},
		{"distinct literals",
			func(context.Context, *Call) (any, error) { return "v1", nil },
			func(context.Context, *Call) (any, error) { return "v2", nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := New(WithStrict())
			if err := reg.Register("version", tt.first); err != nil {
				t.Fatal(err)
			}
			if err := reg.Register("version", tt.second); !errors.Is(err, ErrAlreadyRegistered) {
				t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
			}
			if err := reg.Register("version", tt.first); !errors.Is(err, ErrAlreadyRegistered) {
				t.Errorf("same handler again: %v", err)
			}
			got, _ := reg.Call(context.Background(), "version")
			if got != "v1" {
				t.Errorf("strict registry must keep the original, got %v", got)
			}
		})
	}
}

func TestStrictClosuresInLoop(t *testing.T) {
	reg := New(WithStrict())
	for _, name := range []string{"a", "b"} {
		v := name
		if err := reg.Register(name, func(context.Context, *Call) (any, error) { return v, nil }); err != nil {
			t.Fatalf("Register(%q): %v", name, err)
		}
	}
	for _, name := range []string{"a", "b"} {
		if got, _ := reg.Call(context.Background(), name); got != name {
			t.Errorf("%s = %v", name, got)
		}
	}
}

func TestReplace(t *testing.T) {
	reg := New(WithStrict())
	replaced, err := reg.Replace("version", constant("v1"))
	if err != nil || replaced {
		t.Fatalf("first Replace = %v, %v", replaced, err)
	}
	replaced, err = reg.Replace("version", constant("v2"))
	if err != nil || !replaced {
		t.Fatalf("second Replace = %v, %v", replaced, err)
	}
	if got, _ := reg.Call(context.Background(), "version"); got != "v2" {
		t.Errorf("version = %v", got)
	}
	if _, err := reg.Replace("", constant(1)); !errors.Is(err, ErrInvalidName) {
		t.Errorf("empty name: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	reg := New()
	if err := reg.Register("", constant(1)); !errors.Is(err, ErrInvalidName) {
		t.Errorf("empty name: %v", err)
	}
	if err := reg.Register("x", nil); !errors.Is(err, ErrInvalidName) {
		t.Errorf("nil handler: %v", err)
	}
}

func TestRegisterFuncGeneratesNames(t *testing.T) {
	reg := New()
	a, err := reg.RegisterFunc(constant("a"))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := reg.RegisterFunc(constant("b"))

	if a == b || !strings.HasPrefix(a, "trigger__") {
		t.Errorf("generated names %q, %q", a, b)
	}
	if got, _ := reg.Call(context.Background(), b); got != "b" {
		t.Errorf("call %s = %v", b, got)
	}
}

func TestHandlerErrorIsWrapped(t *testing.T) {
	reg := New()
	cause := errors.New("db down")
	reg.Register("save", func(context.Context, *Call) (any, error) { return nil, cause })

	_, err := reg.Call(context.Background(), "save")
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if ee.Name != "save" || !errors.Is(err, cause) {
		t.Errorf("execution error = %+v", ee)
	}
}

func TestHandlerPanicIsWrapped(t *testing.T) {
	reg := New()
	reg.Register("crash", func(context.Context, *Call) (any, error) { panic("nil map") })

	_, err := reg.Call(context.Background(), "crash")
	var ee *ExecutionError
	if !errors.As(err, &ee) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if ee.Panic != "nil map" || len(ee.Stack) == 0 {
		t.Errorf("execution error = %+v", ee)
	}
}

func TestBadArgumentSurfacesAsInvalidArgument(t *testing.T) {
	reg := New()
	reg.Register("square", func(ctx context.Context, call *Call) (any, error) {
		var n int
		if err := call.Arg(0, &n); err != nil {
			return nil, err
		}
		return n * n, nil
	})

	_, err := reg.Call(context.Background(), "square", "not a number")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
	_, err = reg.Call(context.Background(), "square")
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("missing arg: expected ErrInvalidArgument, got %v", err)
	}
}

func TestKwargs(t *testing.T) {
	call, err := NewCall("greet", nil, map[string]any{"name": "Ada", "loud": true})
	if err != nil {
		t.Fatal(err)
	}

	var name string
	if ok, err := call.Kwarg("name", &name); !ok || err != nil || name != "Ada" {
		t.Errorf("Kwarg(name) = %v, %v, %q", ok, err, name)
	}
	var missing int
	if ok, err := call.Kwarg("missing", &missing); ok || err != nil {
		t.Errorf("Kwarg(missing) = %v, %v", ok, err)
	}
	var wrong int
	if _, err := call.Kwarg("name", &wrong); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Kwarg type mismatch = %v", err)
	}
	if names := call.KwargNames(); len(names) != 2 || names[0] != "loud" {
		t.Errorf("names = %v", names)
	}
}

func TestInvokeRunsInsideEpisode(t *testing.T) {
	var flushes []state.ChangeSet
	st := state.New(state.WithSink(func(cs state.ChangeSet) { flushes = append(flushes, cs) }))
	reg := New(WithEpisodes(st))

	reg.Register("increment", func(ctx context.Context, call *Call) (any, error) {
		return nil, st.Set("count", state.Value(st, "count", 0)+1)
	})
	reg.Register("fill", func(ctx context.Context, call *Call) (any, error) {
		st.Set("a", 1)
		st.Set("b", 2)
		return nil, errors.New("half done")
	})

	for i := 0; i < 3; i++ {
		if _, err := reg.Call(context.Background(), "increment"); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}
	if len(flushes) != 3 {
		t.Fatalf("expected 3 flushes, got %d", len(flushes))
	}
	for i, cs := range flushes {
		b, _ := cs.MarshalJSON()
		want := `{"count":` + string(rune('1'+i)) + `}`
		if string(b) != want {
			t.Errorf("flush %d = %s, want %s", i, b, want)
		}
	}

	if _, err := reg.Call(context.Background(), "fill"); err == nil {
		t.Fatal("expected error from fill")
	}
	if len(flushes) != 4 || flushes[3].Len() != 2 {
		t.Errorf("failed trigger must flush its partial mutations once, got %d flushes", len(flushes))
	}
}
