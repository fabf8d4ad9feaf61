// Package protocol implements the wire protocol of the tether websocket link.
//
// The engine itself only publishes topics and answers calls; this package
// defines how those travel over a websocket connection.
//
// # Wire Format
//
// Every websocket binary message carries exactly one frame with a 6-byte
// header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//	│                                                             │
//	│  JSON payload (variable length)                             │
//	│                                                             │
//	└─────────────────────────────────────────────────────────────┘
//
// # Frame Types
//
//   - FrameHello (0x00): Server → Client, sent once after upgrade
//   - FramePublish (0x01): Server → Client, a topic payload
//   - FrameCall (0x02): Client → Server, trigger invocation
//   - FrameResult (0x03): Server → Client, trigger result
//   - FrameError (0x04): Server → Client, trigger or protocol error
//   - FrameControl (0x05): Either direction (ping, pong, resync, close)
//
// # Topics
//
// A Publish frame names its topic. The engine uses two:
//
//   - state.snapshot: the full state, sent on join and on resync
//   - state.diff: the keys changed by one flush
//
// Both payloads are JSON objects mapping keys to values. Publish frames
// carry a per-connection sequence number so clients can detect gaps and
// request a resync.
package protocol
