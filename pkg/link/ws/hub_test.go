package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	terrors "github.com/vango-dev/tether/internal/errors"
	"github.com/vango-dev/tether/pkg/link"
	"github.com/vango-dev/tether/pkg/protocol"
	"github.com/vango-dev/tether/pkg/server"
	"github.com/vango-dev/tether/pkg/state"
	"github.com/vango-dev/tether/pkg/trigger"
)

type recorder struct {
	mu           sync.Mutex
	connected    []link.ClientID
	disconnected []link.ClientID
	resyncs      int
}

func (r *recorder) HandleCall(ctx context.Context, client link.ClientID, name string, args []json.RawMessage, kwargs map[string]json.RawMessage) (any, error) {
	return map[string]any{"name": name, "args": len(args)}, nil
}

func (r *recorder) ClientConnected(ctx context.Context, client link.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, client)
}

func (r *recorder) ClientDisconnected(ctx context.Context, client link.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, client)
}

func (r *recorder) Resync(ctx context.Context, client link.ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyncs++
}

func serve(t *testing.T, hub *Hub) string {
	t.Helper()
	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := protocol.DecodeFrame(data, 0)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return f
}

func writeMessage(t *testing.T, conn *websocket.Conn, ft protocol.FrameType, msg any) {
	t.Helper()
	f, err := protocol.EncodeMessage(ft, msg)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, f.Encode()); err != nil {
		t.Fatal(err)
	}
}

func readHello(t *testing.T, conn *websocket.Conn) *protocol.Hello {
	t.Helper()
	hello, err := protocol.DecodeMessage[protocol.Hello](readFrame(t, conn), protocol.FrameHello)
	if err != nil {
		t.Fatal(err)
	}
	return hello
}

func readPublish(t *testing.T, conn *websocket.Conn) (*protocol.Frame, *protocol.Publish) {
	t.Helper()
	f := readFrame(t, conn)
	pub, err := protocol.DecodeMessage[protocol.Publish](f, protocol.FramePublish)
	if err != nil {
		t.Fatal(err)
	}
	return f, pub
}

func startServer(t *testing.T) (*server.Server, *Hub, string) {
	t.Helper()
	srv := server.New(nil)
	srv.Triggers().Register("increment", func(ctx context.Context, call *trigger.Call) (any, error) {
		st := srv.State()
		n := state.Value(st, "count", 0)
		return n + 1, st.Set("count", n+1)
	})
	if err := srv.State().Set("count", 0); err != nil {
		t.Fatal(err)
	}

	hub := New()
	if err := srv.Start(context.Background(), hub); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, hub, serve(t, hub)
}

func TestHubEndToEnd(t *testing.T) {
	srv, hub, url := startServer(t)
	conn := dial(t, url)

	hello := readHello(t, conn)
	if hello.Version != protocol.Version || hello.ClientID == "" {
		t.Errorf("hello = %+v", hello)
	}

	f, snap := readPublish(t, conn)
	if !f.Flags.Has(protocol.FlagSnapshot) || snap.Topic != link.TopicSnapshot || snap.Seq != 1 {
		t.Errorf("snapshot frame = %+v / %+v", f, snap)
	}
	if string(snap.Payload) != `{"count":0}` {
		t.Errorf("snapshot payload = %s", snap.Payload)
	}

	clients := hub.Clients()
	if len(clients) != 1 || string(clients[0]) != hello.ClientID {
		t.Errorf("hub clients = %v", clients)
	}
	if got := srv.Clients(); len(got) != 1 {
		t.Errorf("server clients = %v", got)
	}

	writeMessage(t, conn, protocol.FrameCall, &protocol.Call{ID: 1, Name: "increment"})

	var gotResult, gotDiff bool
	for i := 0; i < 2; i++ {
		f := readFrame(t, conn)
		switch f.Type {
		case protocol.FrameResult:
			res, err := protocol.DecodeMessage[protocol.Result](f, protocol.FrameResult)
			if err != nil {
				t.Fatal(err)
			}
			if res.ID != 1 || string(res.Value) != "1" {
				t.Errorf("result = %+v", res)
			}
			gotResult = true
		case protocol.FramePublish:
			pub, err := protocol.DecodeMessage[protocol.Publish](f, protocol.FramePublish)
			if err != nil {
				t.Fatal(err)
			}
			if pub.Topic != link.TopicDiff || pub.Seq != 2 || string(pub.Payload) != `{"count":1}` {
				t.Errorf("diff = %+v (%s)", pub, pub.Payload)
			}
			gotDiff = true
		default:
			t.Errorf("unexpected frame %s", f.Type)
		}
	}
	if !gotResult || !gotDiff {
		t.Errorf("result=%v diff=%v", gotResult, gotDiff)
	}
}

func TestHubCallErrors(t *testing.T) {
	_, _, url := startServer(t)
	conn := dial(t, url)
	readHello(t, conn)
	readPublish(t, conn)

	writeMessage(t, conn, protocol.FrameCall, &protocol.Call{ID: 9, Name: "missing"})
	em, err := protocol.DecodeMessage[protocol.ErrorMessage](readFrame(t, conn), protocol.FrameError)
	if err != nil {
		t.Fatal(err)
	}
	if em.ID != 9 || em.Code != terrors.CodeTriggerNotFound || em.Category != string(terrors.CategoryLookup) {
		t.Errorf("error = %+v", em)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x02}); err != nil {
		t.Fatal(err)
	}
	em, err = protocol.DecodeMessage[protocol.ErrorMessage](readFrame(t, conn), protocol.FrameError)
	if err != nil {
		t.Fatal(err)
	}
	if em.ID != 0 || em.Code != terrors.CodeMalformedFrame {
		t.Errorf("malformed frame error = %+v", em)
	}

	writeMessage(t, conn, protocol.FrameResult, &protocol.Result{ID: 1})
	em, err = protocol.DecodeMessage[protocol.ErrorMessage](readFrame(t, conn), protocol.FrameError)
	if err != nil {
		t.Fatal(err)
	}
	if em.Code != terrors.CodeUnexpectedFrame {
		t.Errorf("unexpected frame error = %+v", em)
	}
}

func TestHubResync(t *testing.T) {
	_, _, url := startServer(t)
	conn := dial(t, url)
	readHello(t, conn)
	readPublish(t, conn)

	writeMessage(t, conn, protocol.FrameControl, protocol.NewResync(1))
	f, pub := readPublish(t, conn)
	if !f.Flags.Has(protocol.FlagSnapshot) || pub.Seq != 2 || string(pub.Payload) != `{"count":0}` {
		t.Errorf("resync publish = %+v (%s)", pub, pub.Payload)
	}

	writeMessage(t, conn, protocol.FrameControl, protocol.NewPing(42))
	ctrl, err := protocol.DecodeMessage[protocol.Control](readFrame(t, conn), protocol.FrameControl)
	if err != nil {
		t.Fatal(err)
	}
	if ctrl.Type != protocol.ControlPong || ctrl.Timestamp != 42 {
		t.Errorf("pong = %+v", ctrl)
	}
}

func TestHubServerShutdown(t *testing.T) {
	srv, hub, url := startServer(t)
	conn := dial(t, url)
	readHello(t, conn)
	readPublish(t, conn)

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	ctrl, err := protocol.DecodeMessage[protocol.Control](readFrame(t, conn), protocol.FrameControl)
	if err != nil {
		t.Fatal(err)
	}
	if ctrl.Type != protocol.ControlClose || ctrl.Reason != protocol.CloseServerShutdown {
		t.Errorf("close = %+v", ctrl)
	}
	if len(hub.Clients()) != 0 || len(srv.Clients()) != 0 {
		t.Errorf("clients left: hub=%v server=%v", hub.Clients(), srv.Clients())
	}
	if err := hub.Publish(context.Background(), link.TopicDiff, []byte(`{}`)); !errors.Is(err, link.ErrClosed) {
		t.Errorf("publish after close: %v", err)
	}
}

func TestHubClientLifecycle(t *testing.T) {
	rec := &recorder{}
	hub := New()
	if err := hub.Attach(rec); err != nil {
		t.Fatal(err)
	}
	url := serve(t, hub)

	conn := dial(t, url)
	hello := readHello(t, conn)

	writeMessage(t, conn, protocol.FrameCall, &protocol.Call{ID: 3, Name: "echo", Args: []json.RawMessage{json.RawMessage(`1`)}})
	res, err := protocol.DecodeMessage[protocol.Result](readFrame(t, conn), protocol.FrameResult)
	if err != nil {
		t.Fatal(err)
	}
	if res.ID != 3 || string(res.Value) != `{"args":1,"name":"echo"}` {
		t.Errorf("result = %s", res.Value)
	}

	if err := hub.PublishTo(context.Background(), "nobody", link.TopicDiff, []byte(`{}`)); !errors.Is(err, link.ErrUnknownClient) {
		t.Errorf("PublishTo unknown: %v", err)
	}

	if err := hub.Close(); err != nil {
		t.Fatal(err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.connected) != 1 || string(rec.connected[0]) != hello.ClientID {
		t.Errorf("connected = %v", rec.connected)
	}
	if len(rec.disconnected) != 1 || rec.disconnected[0] != rec.connected[0] {
		t.Errorf("disconnected = %v", rec.disconnected)
	}
}

func TestHubRejectsBeforeAttach(t *testing.T) {
	hub := New()
	rr := httptest.NewRecorder()
	hub.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", rr.Code)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := New(WithConfig(Config{SendBuffer: 1}))
	c := newClient(hub, "slow", nil)

	if err := c.publish(link.TopicDiff, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := c.publish(link.TopicDiff, []byte(`{"a":2}`)); !errors.Is(err, ErrSlowClient) {
		t.Fatalf("second publish: %v", err)
	}
	if c.closeReason != protocol.CloseSlowClient {
		t.Errorf("close reason = %s", c.closeReason)
	}
	if err := c.publish(link.TopicDiff, []byte(`{}`)); !errors.Is(err, link.ErrClosed) {
		t.Errorf("publish after drop: %v", err)
	}
	if c.seq != 1 {
		t.Errorf("seq = %d", c.seq)
	}
}
