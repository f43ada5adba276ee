// ABOUTME: In-memory transport and signaler used by the manager tests
// ABOUTME: Records every call so tests can assert negotiation order
package peer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/pkg/signal"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	participantID string
	cb            Callbacks

	mu           sync.Mutex
	offers       []bool // iceRestart flag per CreateOffer
	answers      int
	remoteOffers []string
	remoteAnswer []string
	candidates   []string
	attached     bool
	closed       bool
}

func (f *fakeTransport) AttachLocalMedia() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attached = true
	return nil
}

func (f *fakeTransport) CreateOffer(iceRestart bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, iceRestart)
	return fmt.Sprintf("offer-%d", len(f.offers)), nil
}

func (f *fakeTransport) CreateAnswer() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return fmt.Sprintf("answer-%d", f.answers), nil
}

func (f *fakeTransport) SetRemoteOffer(sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteOffers = append(f.remoteOffers, sdp)
	return nil
}

func (f *fakeTransport) SetRemoteAnswer(sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remoteAnswer = append(f.remoteAnswer, sdp)
	return nil
}

func (f *fakeTransport) AddICECandidate(c signal.ICECandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c.Candidate)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// transportCalls is a copy of what a fake transport was asked to do
type transportCalls struct {
	offers       []bool
	answers      int
	remoteOffers []string
	remoteAnswer []string
	candidates   []string
	attached     bool
	closed       bool
}

func (f *fakeTransport) calls() transportCalls {
	f.mu.Lock()
	defer f.mu.Unlock()
	return transportCalls{
		offers:       append([]bool(nil), f.offers...),
		answers:      f.answers,
		remoteOffers: append([]string(nil), f.remoteOffers...),
		remoteAnswer: append([]string(nil), f.remoteAnswer...),
		candidates:   append([]string(nil), f.candidates...),
		attached:     f.attached,
		closed:       f.closed,
	}
}

// fakeNet hands out fake transports and remembers them per participant
type fakeNet struct {
	mu         sync.Mutex
	transports map[string][]*fakeTransport
	fail       error
}

func newFakeNet() *fakeNet {
	return &fakeNet{transports: make(map[string][]*fakeTransport)}
}

func (n *fakeNet) factory(participantID string, cb Callbacks) (Transport, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return nil, n.fail
	}
	t := &fakeTransport{participantID: participantID, cb: cb}
	n.transports[participantID] = append(n.transports[participantID], t)
	return t, nil
}

func (n *fakeNet) all(participantID string) []*fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeTransport(nil), n.transports[participantID]...)
}

func (n *fakeNet) latest(t *testing.T, participantID string) *fakeTransport {
	t.Helper()
	ts := n.all(participantID)
	require.NotEmpty(t, ts, "no transport for %s", participantID)
	return ts[len(ts)-1]
}

type sentMessage struct {
	Type    signal.MessageType
	To      string
	Payload interface{}
}

type fakeSignaler struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *fakeSignaler) SendPayload(t signal.MessageType, to string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{Type: t, To: to, Payload: payload})
	return nil
}

func (s *fakeSignaler) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

// waitFor waits until n messages were sent and returns them
func (s *fakeSignaler) waitFor(t *testing.T, n int) []sentMessage {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.messages()) >= n }, time.Second, 5*time.Millisecond,
		"expected %d signaling messages", n)
	return s.messages()
}

type fakeMuter struct {
	mu    sync.Mutex
	calls []bool
}

func (f *fakeMuter) SetMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, muted)
}

var errFactory = errors.New("no transport")

func message(t *testing.T, typ signal.MessageType, from string, payload interface{}) signal.Message {
	t.Helper()
	msg, err := signal.NewMessage(typ, payload)
	require.NoError(t, err)
	msg.From = from
	return msg
}

func offer(t *testing.T, from, sdp string, restart bool) signal.Message {
	return message(t, signal.TypeOffer, from, signal.SessionDescription{SDP: sdp, ICERestart: restart})
}

func answer(t *testing.T, from, sdp string) signal.Message {
	return message(t, signal.TypeAnswer, from, signal.SessionDescription{SDP: sdp})
}

func candidate(t *testing.T, from, c string) signal.Message {
	return message(t, signal.TypeICECandidate, from, signal.ICECandidate{Candidate: c})
}

// drainEvents returns every queued event without blocking
func drainEvents(m *Manager) []Event {
	var events []Event
	for {
		select {
		case ev, ok := <-m.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func drainStates(m *Manager) []State {
	var states []State
	for _, ev := range drainEvents(m) {
		states = append(states, ev.State)
	}
	return states
}
