// Package link defines the transport contract between the tether engine and
// the layer that actually talks to clients.
//
// The engine publishes through a Transport and receives calls and client
// lifecycle notifications through a Handler. Connection handling, framing and
// retries belong to the transport.
//
// Two transports ship with tether:
//   - Memory, an in-process transport for tests and embedding
//   - ws.Hub (package link/ws), a WebSocket transport
package link

import (
	"context"
	"encoding/json"
	"errors"
)

// ClientID identifies a connected client. It is owned by the transport; the
// engine only uses it to address targeted publishes.
type ClientID string

// Topics used by the engine.
const (
	// TopicSnapshot carries the full state to a single client.
	TopicSnapshot = "state.snapshot"

	// TopicDiff carries a change set.
	TopicDiff = "state.diff"
)

// ErrUnknownClient is returned by PublishTo for a client that is not
// connected.
var ErrUnknownClient = errors.New("link: unknown client")

// ErrClosed is returned by a transport after Close.
var ErrClosed = errors.New("link: transport closed")

// Handler receives inbound traffic from a transport.
type Handler interface {
	// HandleCall invokes a trigger on behalf of client. The returned error is
	// mapped by the transport to an error response.
	HandleCall(ctx context.Context, client ClientID, name string, args []json.RawMessage, kwargs map[string]json.RawMessage) (any, error)

	// ClientConnected is called once a client can receive publishes.
	ClientConnected(ctx context.Context, client ClientID)

	// ClientDisconnected is called after a client is gone.
	ClientDisconnected(ctx context.Context, client ClientID)

	// Resync asks for the full state to be sent to client again.
	Resync(ctx context.Context, client ClientID)
}

// Transport is the publishing side of a link.
type Transport interface {
	// Attach registers the handler for inbound traffic. It is called once,
	// before any publish.
	Attach(h Handler) error

	// Publish sends payload to every connected client.
	Publish(ctx context.Context, topic string, payload []byte) error

	// PublishTo sends payload to a single client.
	PublishTo(ctx context.Context, client ClientID, topic string, payload []byte) error

	// Clients lists the connected clients.
	Clients() []ClientID

	// Close disconnects every client and releases resources.
	Close() error
}
