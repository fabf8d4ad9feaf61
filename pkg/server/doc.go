// Package server provides the tether server core.
//
// A Server owns one state store, one controller registry and one trigger
// registry, and binds them to a link.Transport. It is an ordinary value: any
// number of servers can live in one process.
//
// # Lifecycle
//
// A server moves monotonically through
//
//	Created → Initialized → Running → ShuttingDown → Stopped
//
//   - Init validates the configuration and fires OnServerBind hooks.
//   - Start attaches the transport, starts the publisher, fires OnServerReady
//     hooks exactly once, and publishes anything flushed before Running.
//   - Shutdown rejects new calls, waits for in-flight calls, fires
//     OnServerExit hooks, closes the state store, drains queued publishes and
//     closes the transport.
//
// State flushed before Running is buffered and broadcast when the server
// starts. After Shutdown begins the store rejects mutations with
// state.ErrClosed and nothing more is published.
//
// # Synchronization
//
// Every flushed change set is queued in episode-close order and delivered by
// a single publisher goroutine, so a slow transport never blocks mutation.
// A client that connects receives the full state on state.snapshot, ordered
// before any diff flushed after it joined, then diffs on state.diff.
//
// Trigger calls, client joins and Do are serialized behind one mutex, so
// each trigger's mutations form exactly one flush.
//
// # Hooks
//
// Hooks run in registration order. A failing or panicking hook is logged and
// counted; the remaining hooks still run.
package server
