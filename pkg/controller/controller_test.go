package controller

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndCall(t *testing.T) {
	reg := New()
	reg.Register("sum", func(ctx context.Context, args ...any) (any, error) {
		total := 0
		for _, a := range args {
			total += a.(int)
		}
		return total, nil
	})

	got, err := reg.Call(context.Background(), "sum", 1, 2, 3)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got != 6 {
		t.Errorf("sum = %v", got)
	}
}

func TestLastRegistrationWins(t *testing.T) {
	reg := New()
	reg.Register("greet", func(context.Context, ...any) (any, error) { return "first", nil })
	reg.Register("greet", func(context.Context, ...any) (any, error) { return "second", nil })

	got, _ := reg.Call(context.Background(), "greet")
	if got != "second" {
		t.Errorf("greet = %v", got)
	}
}

func TestGetResolvesLazily(t *testing.T) {
	reg := New()
	ctx := context.Background()

	reset := reg.Get("reset")
	if reset == nil {
		t.Fatal("Get must never return nil")
	}

	_, err := reset(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before registration, got %v", err)
	}
	var le *LookupError
	if !errors.As(err, &le) || le.Name != "reset" {
		t.Errorf("expected LookupError for reset, got %#v", err)
	}

	calls := 0
	reg.Register("reset", func(context.Context, ...any) (any, error) {
		calls++
		return nil, nil
	})
	if _, err := reset(ctx); err != nil {
		t.Fatalf("after registration: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d", calls)
	}
}

func TestUnregister(t *testing.T) {
	reg := New()
	reg.Register("a", func(context.Context, ...any) (any, error) { return nil, nil })
	reg.Register("b", func(context.Context, ...any) (any, error) { return nil, nil })

	if names := reg.Names(); len(names) != 2 || names[0] != "a" {
		t.Errorf("names = %v", names)
	}

	reg.Unregister("a")
	if reg.Has("a") {
		t.Error("a should be gone")
	}
	if _, err := reg.Call(context.Background(), "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Call(a) = %v", err)
	}
}

func TestPanicBecomesError(t *testing.T) {
	reg := New()
	reg.Register("explode", func(context.Context, ...any) (any, error) {
		panic("kaboom")
	})

	_, err := reg.Call(context.Background(), "explode")
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PanicError, got %v", err)
	}
	if pe.Value != "kaboom" || len(pe.Stack) == 0 {
		t.Errorf("panic error = %+v", pe)
	}
}
