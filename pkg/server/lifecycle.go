package server

// Lifecycle is the server lifecycle state.
type Lifecycle int32

const (
	Created Lifecycle = iota
	Initialized
	Running
	ShuttingDown
	Stopped
)

// String returns the state name.
func (l Lifecycle) String() string {
	switch l {
	case Created:
		return "created"
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Lifecycle returns the current lifecycle state.
func (s *Server) Lifecycle() Lifecycle {
	return Lifecycle(s.lifecycle.Load())
}

// advance moves to next. Transitions only go forward.
func (s *Server) advance(next Lifecycle) bool {
	for {
		cur := s.lifecycle.Load()
		if Lifecycle(cur) >= next {
			return false
		}
		if s.lifecycle.CompareAndSwap(cur, int32(next)) {
			s.metrics.setLifecycle(next)
			s.logger.Debug("lifecycle", "from", Lifecycle(cur), "to", next)
			return true
		}
	}
}
