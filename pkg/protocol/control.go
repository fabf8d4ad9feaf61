package protocol

// ControlType identifies the type of control message.
type ControlType uint8

const (
	ControlPing   ControlType = 0x01 // Client/server ping
	ControlPong   ControlType = 0x02 // Response to ping
	ControlResync ControlType = 0x10 // Client requests the full state again
	ControlClose  ControlType = 0x20 // Connection close
)

// String returns the string representation of the control type.
func (ct ControlType) String() string {
	switch ct {
	case ControlPing:
		return "Ping"
	case ControlPong:
		return "Pong"
	case ControlResync:
		return "Resync"
	case ControlClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// CloseReason indicates why a connection is being closed.
type CloseReason uint8

const (
	CloseNormal         CloseReason = 0x00 // Normal closure
	CloseGoingAway      CloseReason = 0x01 // Client/server going away
	CloseSlowClient     CloseReason = 0x02 // Send buffer overflowed
	CloseServerShutdown CloseReason = 0x03 // Server shutting down
	CloseError          CloseReason = 0x04 // Protocol error
)

// String returns the string representation of the close reason.
func (cr CloseReason) String() string {
	switch cr {
	case CloseNormal:
		return "Normal"
	case CloseGoingAway:
		return "GoingAway"
	case CloseSlowClient:
		return "SlowClient"
	case CloseServerShutdown:
		return "ServerShutdown"
	case CloseError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Control is the payload of a Control frame.
type Control struct {
	Type ControlType `json:"type"`

	// Timestamp is set on Ping and echoed on Pong (Unix milliseconds).
	Timestamp int64 `json:"ts,omitempty"`

	// LastSeq is the last Publish sequence the client applied (Resync).
	LastSeq uint64 `json:"last_seq,omitempty"`

	// Reason and Message describe a Close.
	Reason  CloseReason `json:"reason,omitempty"`
	Message string      `json:"message,omitempty"`
}

// NewPing creates a ping control message.
func NewPing(timestamp int64) *Control {
	return &Control{Type: ControlPing, Timestamp: timestamp}
}

// NewPong creates the pong answering a ping.
func NewPong(timestamp int64) *Control {
	return &Control{Type: ControlPong, Timestamp: timestamp}
}

// NewResync creates a resync request.
func NewResync(lastSeq uint64) *Control {
	return &Control{Type: ControlResync, LastSeq: lastSeq}
}

// NewClose creates a close message.
func NewClose(reason CloseReason, message string) *Control {
	return &Control{Type: ControlClose, Reason: reason, Message: message}
}
