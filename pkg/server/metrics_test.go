package server

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordServerActivity(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg), WithNamespace("test"))

	srv := New(nil, WithMetrics(m))
	srv.Triggers().Register("increment", increment(srv))
	srv.OnServerReady(func(context.Context) error { return errors.New("boom") })
	mem := startServer(t, srv)

	mem.Connect(ctx, "c1")
	mem.Call(ctx, "c1", "increment")
	mem.Call(ctx, "c1", "increment")
	mem.Call(ctx, "c1", "missing")
	drain(t, srv)

	if got := testutil.ToFloat64(m.triggerCalls.WithLabelValues("increment", "ok")); got != 2 {
		t.Errorf("ok calls = %v", got)
	}
	if got := testutil.ToFloat64(m.triggerCalls.WithLabelValues("(unknown)", "not_found")); got != 1 {
		t.Errorf("unknown calls = %v", got)
	}
	if got := testutil.ToFloat64(m.flushes); got != 2 {
		t.Errorf("flushes = %v", got)
	}
	if got := testutil.ToFloat64(m.publishes.WithLabelValues("state.snapshot")); got != 1 {
		t.Errorf("snapshots = %v", got)
	}
	if got := testutil.ToFloat64(m.publishes.WithLabelValues("state.diff")); got != 2 {
		t.Errorf("diffs = %v", got)
	}
	if got := testutil.ToFloat64(m.hookFailures.WithLabelValues(HookServerReady)); got != 1 {
		t.Errorf("hook failures = %v", got)
	}
	if got := testutil.ToFloat64(m.clients); got != 1 {
		t.Errorf("clients = %v", got)
	}
	if got := testutil.ToFloat64(m.lifecycle); got != float64(Running) {
		t.Errorf("lifecycle = %v", got)
	}

	mem.Disconnect(ctx, "c1")
	if got := testutil.ToFloat64(m.clients); got != 0 {
		t.Errorf("clients after disconnect = %v", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.recordFlush(1)
	m.recordPublish("x", nil)
	m.recordTrigger("x", "ok", 0)
	m.recordHookFailure("x")
	m.clientConnected()
	m.clientDisconnected()
	m.setLifecycle(Running)
}
