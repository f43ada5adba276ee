// ABOUTME: Seams between the link manager, the media transport and signaling
// ABOUTME: Lets the state machine run against pion or an in-memory fake
package peer

import "github.com/Resonate-Protocol/resonate-jam/pkg/signal"

// Transport is one peer connection. Methods are called with the manager
// lock held, so implementations must deliver Callbacks from their own
// goroutine and never synchronously from inside a method.
type Transport interface {
	// AttachLocalMedia adds the local outbound audio, or a receive-only
	// audio section when there is none
	AttachLocalMedia() error

	// CreateOffer creates and applies a local offer and returns its SDP
	CreateOffer(iceRestart bool) (string, error)

	// CreateAnswer creates and applies a local answer and returns its SDP
	CreateAnswer() (string, error)

	SetRemoteOffer(sdp string) error
	SetRemoteAnswer(sdp string) error
	AddICECandidate(c signal.ICECandidate) error

	// Close releases media and network resources. It is safe to call more
	// than once.
	Close() error
}

// Callbacks receive transport events for one link
type Callbacks struct {
	OnICECandidate    func(signal.ICECandidate)
	OnConnectionState func(ConnectionState)
}

// TransportFactory creates the transport for a remote participant
type TransportFactory func(participantID string, cb Callbacks) (Transport, error)

// Signaler delivers addressed messages to other participants.
// *signal.Coordinator satisfies it.
type Signaler interface {
	SendPayload(t signal.MessageType, to string, payload interface{}) error
}

// Muter toggles the outbound audio without renegotiating
type Muter interface {
	SetMuted(muted bool)
}
