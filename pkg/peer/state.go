// ABOUTME: Link lifecycle states and transport connection states
// ABOUTME: Link states are what the manager reports; connection states come from the transport
package peer

// State is the lifecycle state of a link to one remote participant
type State int

const (
	StateNew State = iota
	StateNegotiating
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

var stateNames = [...]string{
	StateNew:          "new",
	StateNegotiating:  "negotiating",
	StateConnected:    "connected",
	StateDisconnected: "disconnected",
	StateFailed:       "failed",
	StateClosed:       "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether the link can no longer carry media
func (s State) Terminal() bool {
	return s == StateFailed || s == StateClosed
}

// ConnectionState is the liveness reported by a transport
type ConnectionState int

const (
	ConnConnecting ConnectionState = iota
	ConnConnected
	ConnDisconnected
	ConnFailed
	ConnClosed
)

func (c ConnectionState) String() string {
	switch c {
	case ConnConnecting:
		return "connecting"
	case ConnConnected:
		return "connected"
	case ConnDisconnected:
		return "disconnected"
	case ConnFailed:
		return "failed"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}
