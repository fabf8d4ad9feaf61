package link

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Publication is a message recorded by the Memory transport.
type Publication struct {
	// Client is the target of a targeted publish, empty for broadcasts.
	Client  ClientID
	Topic   string
	Payload []byte
}

// String formats the publication for test failure output.
func (p Publication) String() string {
	if p.Client == "" {
		return fmt.Sprintf("* %s %s", p.Topic, p.Payload)
	}
	return fmt.Sprintf("%s %s %s", p.Client, p.Topic, p.Payload)
}

// Memory is an in-process Transport. Clients are simulated with Connect and
// Disconnect; every publish is recorded globally and in the inbox of each
// client it reached.
//
// Example:
//
//	mem := link.NewMemory()
//	srv.Start(ctx, mem)
//	mem.Connect(ctx, "c1")
//	mem.Call(ctx, "c1", "increment")
//	srv.Drain(ctx)
//	inbox := mem.Inbox("c1") // snapshot, then one diff
type Memory struct {
	mu      sync.Mutex
	handler Handler
	clients []ClientID
	inboxes map[ClientID][]Publication
	log     []Publication
	closed  bool
}

// NewMemory creates an empty in-memory transport.
func NewMemory() *Memory {
	return &Memory{inboxes: make(map[ClientID][]Publication)}
}

// Attach implements Transport.
func (m *Memory) Attach(h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.handler = h
	return nil
}

// Publish implements Transport.
func (m *Memory) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	p := Publication{Topic: topic, Payload: clone(payload)}
	m.log = append(m.log, p)
	for _, c := range m.clients {
		m.inboxes[c] = append(m.inboxes[c], p)
	}
	return nil
}

// PublishTo implements Transport.
func (m *Memory) PublishTo(ctx context.Context, client ClientID, topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.connectedLocked(client) {
		return fmt.Errorf("%w: %s", ErrUnknownClient, client)
	}
	p := Publication{Client: client, Topic: topic, Payload: clone(payload)}
	m.log = append(m.log, p)
	m.inboxes[client] = append(m.inboxes[client], p)
	return nil
}

// Clients implements Transport.
func (m *Memory) Clients() []ClientID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ClientID, len(m.clients))
	copy(out, m.clients)
	return out
}

// Close implements Transport. Connected clients are disconnected.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	clients := m.clients
	m.clients = nil
	h := m.handler
	m.mu.Unlock()

	if h != nil {
		for _, c := range clients {
			h.ClientDisconnected(context.Background(), c)
		}
	}
	return nil
}

// Connect simulates a client connecting.
func (m *Memory) Connect(ctx context.Context, client ClientID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.inboxes[client]; ok && m.connectedLocked(client) {
		m.mu.Unlock()
		return fmt.Errorf("link: client %s already connected", client)
	}
	m.clients = append(m.clients, client)
	m.inboxes[client] = nil
	h := m.handler
	m.mu.Unlock()

	if h != nil {
		h.ClientConnected(ctx, client)
	}
	return nil
}

// Disconnect simulates a client going away.
func (m *Memory) Disconnect(ctx context.Context, client ClientID) {
	m.mu.Lock()
	found := false
	for i, c := range m.clients {
		if c == client {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			found = true
			break
		}
	}
	h := m.handler
	m.mu.Unlock()

	if found && h != nil {
		h.ClientDisconnected(ctx, client)
	}
}

// Call simulates client invoking a trigger with positional arguments.
func (m *Memory) Call(ctx context.Context, client ClientID, name string, args ...any) (any, error) {
	return m.CallKw(ctx, client, name, args, nil)
}

// CallKw simulates client invoking a trigger with positional and keyword
// arguments.
func (m *Memory) CallKw(ctx context.Context, client ClientID, name string, args []any, kwargs map[string]any) (any, error) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return nil, fmt.Errorf("link: no handler attached")
	}

	rawArgs := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return nil, err
		}
		rawArgs = append(rawArgs, b)
	}
	var rawKw map[string]json.RawMessage
	if len(kwargs) > 0 {
		rawKw = make(map[string]json.RawMessage, len(kwargs))
		for k, v := range kwargs {
			b, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			rawKw[k] = b
		}
	}
	return h.HandleCall(ctx, client, name, rawArgs, rawKw)
}

// Resync simulates client asking for the full state.
func (m *Memory) Resync(ctx context.Context, client ClientID) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.Resync(ctx, client)
	}
}

// Publications returns every recorded publication in order.
func (m *Memory) Publications() []Publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Publication, len(m.log))
	copy(out, m.log)
	return out
}

// Inbox returns what client received, in order.
func (m *Memory) Inbox(client ClientID) []Publication {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Publication, len(m.inboxes[client]))
	copy(out, m.inboxes[client])
	return out
}

// Reset clears recorded publications and inboxes.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = nil
	for c := range m.inboxes {
		m.inboxes[c] = nil
	}
}

func (m *Memory) connectedLocked(client ClientID) bool {
	for _, c := range m.clients {
		if c == client {
			return true
		}
	}
	return false
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
