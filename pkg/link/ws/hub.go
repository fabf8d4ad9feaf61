// Package ws is a websocket link.Transport built on gorilla/websocket.
//
// A Hub is an http.Handler: every upgraded connection becomes a client with
// a uuid ClientID, a buffered send queue drained by its own writer goroutine,
// and a read loop that dispatches Call and Control frames to the attached
// link.Handler. Calls from one client run one at a time, in arrival order.
//
// A client that cannot keep up (its send queue is full) is disconnected
// rather than allowed to stall publishing for everyone else.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-dev/tether/pkg/link"
	"github.com/vango-dev/tether/pkg/protocol"
)

// ErrSlowClient is returned when a client's send queue is full. The client
// is disconnected.
var ErrSlowClient = errors.New("ws: client send queue full")

// Config configures a Hub.
type Config struct {
	// ReadBufferSize and WriteBufferSize size the websocket I/O buffers.
	ReadBufferSize  int
	WriteBufferSize int

	// MaxMessageSize bounds inbound frames.
	// Default: protocol.DefaultMaxMessageSize.
	MaxMessageSize int64

	// SendBuffer is the per-client outbound queue length.
	// Default: protocol.DefaultSendBuffer.
	SendBuffer int

	// WriteTimeout bounds a single write.
	WriteTimeout time.Duration

	// PingInterval is how often clients are pinged.
	PingInterval time.Duration

	// PongWait is how long a connection may stay silent before it is closed.
	PongWait time.Duration

	// CheckOrigin validates the Origin header. Nil accepts same-origin
	// requests only (the gorilla default).
	CheckOrigin func(r *http.Request) bool

	// ServerName is announced in the Hello frame.
	ServerName string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  protocol.DefaultMaxMessageSize,
		SendBuffer:      protocol.DefaultSendBuffer,
		WriteTimeout:    protocol.DefaultWriteTimeout,
		PingInterval:    protocol.DefaultPingInterval,
		PongWait:        protocol.DefaultPongWait,
		ServerName:      "tether",
	}
}

// Option configures a Hub.
type Option func(*Hub)

// WithConfig replaces the hub configuration. Zero fields keep defaults.
func WithConfig(c Config) Option {
	return func(h *Hub) {
		d := DefaultConfig()
		if c.ReadBufferSize <= 0 {
			c.ReadBufferSize = d.ReadBufferSize
		}
		if c.WriteBufferSize <= 0 {
			c.WriteBufferSize = d.WriteBufferSize
		}
		if c.MaxMessageSize <= 0 {
			c.MaxMessageSize = d.MaxMessageSize
		}
		if c.SendBuffer <= 0 {
			c.SendBuffer = d.SendBuffer
		}
		if c.WriteTimeout <= 0 {
			c.WriteTimeout = d.WriteTimeout
		}
		if c.PingInterval <= 0 {
			c.PingInterval = d.PingInterval
		}
		if c.PongWait <= 0 {
			c.PongWait = d.PongWait
		}
		if c.ServerName == "" {
			c.ServerName = d.ServerName
		}
		h.config = c
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Hub is a websocket transport.
type Hub struct {
	config   Config
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	handler link.Handler
	clients map[link.ClientID]*client
	closed  bool

	wg sync.WaitGroup
}

// New creates a hub. Mount it on the route clients connect to.
//
// Example:
//
//	hub := ws.New()
//	srv.Start(ctx, hub)
//	router.Handle("/ws", hub)
func New(opts ...Option) *Hub {
	h := &Hub{
		config:  DefaultConfig(),
		logger:  slog.Default().With("component", "ws"),
		clients: make(map[link.ClientID]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  h.config.ReadBufferSize,
		WriteBufferSize: h.config.WriteBufferSize,
		CheckOrigin:     h.config.CheckOrigin,
	}
	return h
}

// Attach implements link.Transport.
func (h *Hub) Attach(handler link.Handler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return link.ErrClosed
	}
	h.handler = handler
	return nil
}

// Publish implements link.Transport. A slow client is dropped; the others
// still receive the payload.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return link.ErrClosed
	}
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	var errs []error
	for _, c := range clients {
		if err := c.publish(topic, payload); err != nil {
			errs = append(errs, fmt.Errorf("client %s: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

// PublishTo implements link.Transport.
func (h *Hub) PublishTo(ctx context.Context, id link.ClientID, topic string, payload []byte) error {
	h.mu.RLock()
	closed := h.closed
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if closed {
		return link.ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", link.ErrUnknownClient, id)
	}
	return c.publish(topic, payload)
}

// Clients implements link.Transport.
func (h *Hub) Clients() []link.ClientID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]link.ClientID, 0, len(h.clients))
	for id := range h.clients {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close implements link.Transport. Every client is sent a close frame and
// Close waits until all of them are disconnected.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown(protocol.CloseServerShutdown, "server shutting down")
	}
	h.wg.Wait()
	return nil
}

// ServeHTTP upgrades the request and serves the connection until either
// side closes it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed, attached := h.closed, h.handler != nil
	h.mu.RUnlock()
	if closed || !attached {
		http.Error(w, "tether: not accepting connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(h.config.MaxMessageSize)

	id := link.ClientID(uuid.NewString())
	c := newClient(h, id, conn)
	if err := c.sendMessage(protocol.FrameHello, &protocol.Hello{
		Version:  protocol.Version,
		ClientID: string(id),
		Server:   h.config.ServerName,
	}); err != nil {
		h.logger.Error("hello encode failed", "error", err)
		conn.Close()
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[id] = c
	handler := h.handler
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Debug("client connected", "client", id, "remote", r.RemoteAddr)
	go c.writeLoop()
	go c.readLoop(handler)
}

func (h *Hub) remove(id link.ClientID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}
