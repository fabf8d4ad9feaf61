package protocol

import "time"

// Connection limits used by the websocket link unless overridden.
const (
	// DefaultMaxMessageSize bounds inbound frames (1MB). Calls are small;
	// only the server sends large publishes.
	DefaultMaxMessageSize = 1024 * 1024

	// DefaultSendBuffer is the number of frames queued per client before it
	// is dropped as too slow.
	DefaultSendBuffer = 256

	// DefaultWriteTimeout bounds a single websocket write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultPingInterval is how often the server pings idle clients.
	DefaultPingInterval = 30 * time.Second

	// DefaultPongWait is how long the server waits for any inbound message
	// before treating the connection as dead.
	DefaultPongWait = 60 * time.Second
)
