// ABOUTME: Peer transport manager owning one link per remote participant
// ABOUTME: Drives negotiation from signaling events and tracks link liveness
package peer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/signal"
	"github.com/rs/zerolog"
)

const (
	DefaultRenegotiationTimeout = 10 * time.Second
	DefaultEventBuffer          = 64
)

var (
	// ErrUnknownPeer is returned for answers and candidates from a
	// participant with no link
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrClosed is returned by handlers after Close
	ErrClosed = errors.New("peer manager closed")
)

// Config holds manager configuration
type Config struct {
	Self     string // local participant id
	Factory  TransportFactory
	Signaler Signaler
	Local    Muter // outbound audio, may be nil

	// RenegotiationTimeout bounds the single ICE restart attempted after a
	// link loses liveness
	RenegotiationTimeout time.Duration
	EventBuffer          int
}

// Event reports a link state change
type Event struct {
	Participant signal.Participant
	State       State
	Err         error
}

// LinkInfo is a snapshot of one link
type LinkInfo struct {
	Participant signal.Participant
	State       State
}

type link struct {
	participant signal.Participant
	transport   Transport
	gen         uint64 // identifies the transport that callbacks belong to
	state       State

	offering  bool // local offer awaiting an answer
	remoteSet bool
	pending   []signal.ICECandidate // remote candidates before the remote description
	seen      map[string]struct{}

	restarted bool
	timer     *time.Timer
}

type outbound struct {
	t       signal.MessageType
	to      string
	payload interface{}
}

// Manager owns every link of one room session. Handlers are safe to call
// from any goroutine; outbound signaling is sent in the order it was
// produced by a single sender goroutine.
type Manager struct {
	config Config
	logger zerolog.Logger

	mu     sync.Mutex
	links  map[string]*link
	known  map[string]signal.Participant
	gen    uint64
	muted  bool
	closed bool
	outbox []outbound
	events chan Event

	wake chan struct{}
	done chan struct{}
}

// NewManager creates a manager for the local participant config.Self
func NewManager(config Config) *Manager {
	if config.RenegotiationTimeout <= 0 {
		config.RenegotiationTimeout = DefaultRenegotiationTimeout
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = DefaultEventBuffer
	}

	m := &Manager{
		config: config,
		logger: log.Logger("peer").With().Str("self", config.Self).Logger(),
		links:  make(map[string]*link),
		known:  make(map[string]signal.Participant),
		events: make(chan Event, config.EventBuffer),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go m.sendLoop()
	return m
}

// Events delivers link state changes. The channel is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// HandleRoomInfo records the participants already present so links they
// open later carry their names
func (m *Manager) HandleRoomInfo(info signal.RoomInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range info.Participants {
		m.known[p.ID] = p
	}
}

// HandleUserJoined opens a link to a newly joined participant and sends
// it an offer. A participant that already has a live link is ignored.
func (m *Manager) HandleUserJoined(p signal.Participant) error {
	if p.ID == "" || p.ID == m.config.Self {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.known[p.ID] = p

	if l, ok := m.links[p.ID]; ok {
		if !l.state.Terminal() {
			return nil
		}
		m.removeLocked(l)
	}

	l, err := m.openLocked(p, StateNew)
	if err != nil {
		return err
	}

	sdp, err := l.transport.CreateOffer(false)
	if err != nil {
		m.failLocked(l, fmt.Errorf("create offer: %w", err))
		return err
	}
	l.offering = true
	m.setStateLocked(l, StateNegotiating, nil)
	m.postLocked(signal.TypeOffer, p.ID, signal.SessionDescription{SDP: sdp})
	return nil
}

// HandleOffer answers an offer, creating the link if the sender is new.
// Duplicate offers on an established link are ignored.
func (m *Manager) HandleOffer(msg signal.Message) error {
	var sd signal.SessionDescription
	if err := msg.Decode(&sd); err != nil {
		return err
	}
	from := msg.From
	if from == "" {
		return fmt.Errorf("offer without sender: %w", ErrUnknownPeer)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	l := m.links[from]
	restarted := false
	if l != nil {
		switch {
		case l.state.Terminal():
			m.removeLocked(l)
			l = nil

		case l.offering && !l.remoteSet:
			// both sides offered; the lower id keeps its offer
			if m.config.Self < from {
				m.logger.Debug().Str("participant", from).Msg("Ignoring offer that collided with ours")
				return nil
			}
			m.logger.Debug().Str("participant", from).Msg("Yielding to colliding offer")
			restarted = l.restarted
			m.discardLocked(l)
			l = nil

		case sd.ICERestart:
			// renegotiate on the existing transport with fresh candidates
			l.seen = make(map[string]struct{})

		case l.remoteSet:
			return nil
		}
	}

	if l == nil {
		var err error
		l, err = m.openLocked(m.participantLocked(from), StateNegotiating)
		if err != nil {
			return err
		}
		l.restarted = restarted
	}

	if err := l.transport.SetRemoteOffer(sd.SDP); err != nil {
		m.failLocked(l, fmt.Errorf("apply offer: %w", err))
		return err
	}
	l.offering = false
	l.remoteSet = true
	m.flushPendingLocked(l)

	sdp, err := l.transport.CreateAnswer()
	if err != nil {
		m.failLocked(l, fmt.Errorf("create answer: %w", err))
		return err
	}
	switch {
	case l.state == StateConnected && sd.ICERestart:
		// the remote side lost liveness first; our link stays up while it
		// reconnects, so nothing is spent here
	default:
		if sd.ICERestart && !l.restarted {
			l.restarted = true
			m.armRestartTimerLocked(l)
		}
		if l.state != StateNegotiating {
			m.setStateLocked(l, StateNegotiating, nil)
		}
	}
	m.postLocked(signal.TypeAnswer, from, signal.SessionDescription{SDP: sdp, ICERestart: sd.ICERestart})
	return nil
}

// HandleAnswer applies the answer to our outstanding offer. Answers with
// no outstanding offer are ignored.
func (m *Manager) HandleAnswer(msg signal.Message) error {
	var sd signal.SessionDescription
	if err := msg.Decode(&sd); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	l := m.links[msg.From]
	if l == nil {
		return fmt.Errorf("answer from %s: %w", msg.From, ErrUnknownPeer)
	}
	if !l.offering || l.remoteSet || l.state.Terminal() {
		return nil
	}

	if err := l.transport.SetRemoteAnswer(sd.SDP); err != nil {
		m.failLocked(l, fmt.Errorf("apply answer: %w", err))
		return err
	}
	l.offering = false
	l.remoteSet = true
	m.flushPendingLocked(l)
	return nil
}

// HandleIceCandidate adds a remote candidate, queueing it until the
// remote description is applied. Repeated candidates are ignored.
func (m *Manager) HandleIceCandidate(msg signal.Message) error {
	var c signal.ICECandidate
	if err := msg.Decode(&c); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	l := m.links[msg.From]
	if l == nil {
		return fmt.Errorf("candidate from %s: %w", msg.From, ErrUnknownPeer)
	}
	if l.state.Terminal() {
		return nil
	}
	if _, dup := l.seen[c.Candidate]; dup {
		return nil
	}
	l.seen[c.Candidate] = struct{}{}

	if !l.remoteSet {
		l.pending = append(l.pending, c)
		return nil
	}
	if err := l.transport.AddICECandidate(c); err != nil {
		return fmt.Errorf("add candidate from %s: %w", msg.From, err)
	}
	return nil
}

// HandleUserLeft closes the link to a participant that left the room
func (m *Manager) HandleUserLeft(p signal.Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.known, p.ID)
	if l, ok := m.links[p.ID]; ok {
		m.removeLocked(l)
	}
}

// SetMuted mutes or unmutes the outbound audio on every link
func (m *Manager) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()

	if m.config.Local != nil {
		m.config.Local.SetMuted(muted)
	}
	m.logger.Info().Bool("muted", muted).Msg("Outbound audio mute changed")
}

// Muted reports the last SetMuted value
func (m *Manager) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// State returns the state of the link to a participant
func (m *Manager) State(participantID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[participantID]
	if !ok {
		return StateClosed, false
	}
	return l.state, true
}

// Links returns every link sorted by participant id
func (m *Manager) Links() []LinkInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]LinkInfo, 0, len(m.links))
	for _, l := range m.links {
		out = append(out, LinkInfo{Participant: l.participant, State: l.state})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Participant.ID < out[j].Participant.ID
	})
	return out
}

// Close closes every link, drops unsent signaling and closes Events
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	for _, l := range m.links {
		m.removeLocked(l)
	}
	m.closed = true
	m.outbox = nil
	close(m.done)
	close(m.events)
}

func (m *Manager) participantLocked(id string) signal.Participant {
	if p, ok := m.known[id]; ok {
		return p
	}
	return signal.Participant{ID: id}
}

func (m *Manager) openLocked(p signal.Participant, state State) (*link, error) {
	m.gen++
	gen := m.gen
	id := p.ID

	t, err := m.config.Factory(id, Callbacks{
		OnICECandidate:    func(c signal.ICECandidate) { m.localCandidate(id, gen, c) },
		OnConnectionState: func(cs ConnectionState) { m.connectionChanged(id, gen, cs) },
	})
	if err != nil {
		return nil, fmt.Errorf("create transport for %s: %w", id, err)
	}
	if err := t.AttachLocalMedia(); err != nil {
		t.Close()
		return nil, fmt.Errorf("attach local media for %s: %w", id, err)
	}

	l := &link{
		participant: p,
		transport:   t,
		gen:         gen,
		state:       state,
		seen:        make(map[string]struct{}),
	}
	m.links[id] = l
	m.emitLocked(Event{Participant: p, State: state})
	m.logger.Info().Str("participant", id).Str("state", state.String()).Msg("Link opened")
	return l, nil
}

func (m *Manager) flushPendingLocked(l *link) {
	for _, c := range l.pending {
		if err := l.transport.AddICECandidate(c); err != nil {
			m.logger.Warn().Err(err).Str("participant", l.participant.ID).Msg("Failed to add queued candidate")
		}
	}
	l.pending = nil
}

func (m *Manager) localCandidate(id string, gen uint64, c signal.ICECandidate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.links[id]
	if m.closed || l == nil || l.gen != gen || l.state.Terminal() {
		return
	}
	m.postLocked(signal.TypeICECandidate, id, c)
}

func (m *Manager) connectionChanged(id string, gen uint64, cs ConnectionState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.links[id]
	if m.closed || l == nil || l.gen != gen || l.state.Terminal() {
		return
	}

	switch cs {
	case ConnConnected:
		if l.timer != nil {
			l.timer.Stop()
			l.timer = nil
		}
		// a recovered link earns a fresh renegotiation for its next loss
		l.restarted = false
		if l.state != StateConnected {
			m.setStateLocked(l, StateConnected, nil)
		}

	case ConnDisconnected, ConnFailed:
		if l.state == StateDisconnected {
			return
		}
		if l.restarted {
			m.failLocked(l, fmt.Errorf("link lost after renegotiation (%s)", cs))
			return
		}
		m.setStateLocked(l, StateDisconnected, nil)
		m.restartLocked(l)
	}
}

// restartLocked spends the link's one renegotiation. The side with the
// lower id sends the ICE restart offer; the other waits for it.
func (m *Manager) restartLocked(l *link) {
	l.restarted = true
	m.armRestartTimerLocked(l)

	if m.config.Self > l.participant.ID {
		return
	}

	sdp, err := l.transport.CreateOffer(true)
	if err != nil {
		m.failLocked(l, fmt.Errorf("create restart offer: %w", err))
		return
	}
	l.offering = true
	l.remoteSet = false
	l.seen = make(map[string]struct{})
	m.setStateLocked(l, StateNegotiating, nil)
	m.postLocked(signal.TypeOffer, l.participant.ID, signal.SessionDescription{SDP: sdp, ICERestart: true})
}

func (m *Manager) armRestartTimerLocked(l *link) {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(m.config.RenegotiationTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.links[l.participant.ID] != l || l.state == StateConnected || l.state.Terminal() {
			return
		}
		m.failLocked(l, fmt.Errorf("renegotiation timed out after %s", m.config.RenegotiationTimeout))
	})
}

func (m *Manager) failLocked(l *link, err error) {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.transport.Close()
	l.pending = nil
	m.logger.Warn().Err(err).Str("participant", l.participant.ID).Msg("Participant disconnected")
	m.setStateLocked(l, StateFailed, err)
}

// discardLocked drops a link without reporting it
func (m *Manager) discardLocked(l *link) {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.transport.Close()
	delete(m.links, l.participant.ID)
}

func (m *Manager) removeLocked(l *link) {
	m.discardLocked(l)
	if l.state != StateClosed {
		m.setStateLocked(l, StateClosed, nil)
	}
}

func (m *Manager) setStateLocked(l *link, state State, err error) {
	if m.closed {
		return
	}
	m.logger.Debug().
		Str("participant", l.participant.ID).
		Str("from", l.state.String()).
		Str("to", state.String()).
		Msg("Link state changed")
	l.state = state
	m.emitLocked(Event{Participant: l.participant, State: state, Err: err})
}

func (m *Manager) emitLocked(ev Event) {
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	default:
		m.logger.Warn().Str("participant", ev.Participant.ID).Msg("Link event dropped, consumer too slow")
	}
}

func (m *Manager) postLocked(t signal.MessageType, to string, payload interface{}) {
	m.outbox = append(m.outbox, outbound{t: t, to: to, payload: payload})
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) takeOutbox() []outbound {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.outbox
	m.outbox = nil
	return batch
}

func (m *Manager) sendLoop() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}

		for _, out := range m.takeOutbox() {
			if err := m.config.Signaler.SendPayload(out.t, out.to, out.payload); err != nil {
				m.logger.Warn().Err(err).Str("participant", out.to).Str("type", string(out.t)).Msg("Failed to send signaling message")
			}
		}
	}
}
