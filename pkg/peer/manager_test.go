// ABOUTME: Link manager state machine tests against fake transports
// ABOUTME: Negotiation roles, candidate queueing, idempotency, liveness and teardown
package peer

import (
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, self string, opts ...func(*Config)) (*Manager, *fakeNet, *fakeSignaler) {
	t.Helper()
	net := newFakeNet()
	sig := &fakeSignaler{}
	config := Config{
		Self:                 self,
		Factory:              net.factory,
		Signaler:             sig,
		RenegotiationTimeout: time.Minute,
	}
	for _, opt := range opts {
		opt(&config)
	}
	m := NewManager(config)
	t.Cleanup(m.Close)
	return m, net, sig
}

func requireState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	got, ok := m.State(id)
	require.True(t, ok, "no link to %s", id)
	require.Equal(t, want, got)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "negotiating", StateNegotiating.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "unknown", State(42).String())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateDisconnected.Terminal())
}

func TestUserJoined_OffersOnce(t *testing.T) {
	m, net, sig := newTestManager(t, "a")

	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b", Name: "ben"}))
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b", Name: "ben"}))
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "a", Name: "self"}))

	assert.Len(t, net.all("b"), 1)
	assert.Empty(t, net.all("a"))

	calls := net.latest(t, "b").calls()
	assert.True(t, calls.attached)
	assert.Equal(t, []bool{false}, calls.offers)

	sent := sig.waitFor(t, 1)
	assert.Equal(t, sentMessage{Type: signal.TypeOffer, To: "b", Payload: signal.SessionDescription{SDP: "offer-1"}}, sent[0])

	assert.Equal(t, []State{StateNew, StateNegotiating}, drainStates(m))
	requireState(t, m, "b", StateNegotiating)
}

func TestOffer_FromUnseenParticipantAnswers(t *testing.T) {
	m, net, sig := newTestManager(t, "b")
	m.HandleRoomInfo(signal.RoomInfo{ID: "jam", Participants: []signal.Participant{{ID: "a", Name: "ana", Instrument: "drums"}}})

	require.NoError(t, m.HandleOffer(offer(t, "a", "offer-x", false)))

	calls := net.latest(t, "a").calls()
	assert.Equal(t, []string{"offer-x"}, calls.remoteOffers)
	assert.Equal(t, 1, calls.answers)
	assert.Empty(t, calls.offers)

	sent := sig.waitFor(t, 1)
	assert.Equal(t, sentMessage{Type: signal.TypeAnswer, To: "a", Payload: signal.SessionDescription{SDP: "answer-1"}}, sent[0])

	assert.Equal(t, []State{StateNegotiating}, drainStates(m))
	links := m.Links()
	require.Len(t, links, 1)
	assert.Equal(t, "ana", links[0].Participant.Name)
}

func TestCandidates_QueuedUntilRemoteDescription(t *testing.T) {
	m, net, _ := newTestManager(t, "a")
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))
	ft := net.latest(t, "b")

	for _, c := range []string{"c1", "c2", "c3"} {
		require.NoError(t, m.HandleIceCandidate(candidate(t, "b", c)))
	}
	assert.Empty(t, ft.calls().candidates)

	require.NoError(t, m.HandleAnswer(answer(t, "b", "answer-b")))
	calls := ft.calls()
	assert.Equal(t, []string{"answer-b"}, calls.remoteAnswer)
	assert.Equal(t, []string{"c1", "c2", "c3"}, calls.candidates)

	require.NoError(t, m.HandleIceCandidate(candidate(t, "b", "c4")))
	require.NoError(t, m.HandleIceCandidate(candidate(t, "b", "c2")))
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, ft.calls().candidates)
}

func TestUnknownPeer(t *testing.T) {
	m, _, _ := newTestManager(t, "a")

	assert.ErrorIs(t, m.HandleAnswer(answer(t, "ghost", "x")), ErrUnknownPeer)
	assert.ErrorIs(t, m.HandleIceCandidate(candidate(t, "ghost", "c1")), ErrUnknownPeer)
	assert.ErrorIs(t, m.HandleOffer(offer(t, "", "x", false)), ErrUnknownPeer)
}

func TestOffer_DuplicateOnConnectedLinkIsNoOp(t *testing.T) {
	m, net, sig := newTestManager(t, "b")

	require.NoError(t, m.HandleOffer(offer(t, "a", "o1", false)))
	ft := net.latest(t, "a")
	ft.cb.OnConnectionState(ConnConnected)
	requireState(t, m, "a", StateConnected)

	require.NoError(t, m.HandleOffer(offer(t, "a", "o1", false)))

	calls := ft.calls()
	assert.Equal(t, []string{"o1"}, calls.remoteOffers)
	assert.Equal(t, 1, calls.answers)
	assert.Len(t, net.all("a"), 1)
	sig.waitFor(t, 1)
	assert.Never(t, func() bool { return len(sig.messages()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	requireState(t, m, "a", StateConnected)
}

func TestAnswer_DuplicateIgnored(t *testing.T) {
	m, net, _ := newTestManager(t, "a")
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))

	require.NoError(t, m.HandleAnswer(answer(t, "b", "first")))
	require.NoError(t, m.HandleAnswer(answer(t, "b", "second")))

	assert.Equal(t, []string{"first"}, net.latest(t, "b").calls().remoteAnswer)
}

func TestLocalCandidatesFollowOffer(t *testing.T) {
	m, net, sig := newTestManager(t, "a")
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))

	ft := net.latest(t, "b")
	ft.cb.OnICECandidate(signal.ICECandidate{Candidate: "local-1"})
	ft.cb.OnICECandidate(signal.ICECandidate{Candidate: "local-2"})

	sent := sig.waitFor(t, 3)
	assert.Equal(t, signal.TypeOffer, sent[0].Type)
	assert.Equal(t, sentMessage{Type: signal.TypeICECandidate, To: "b", Payload: signal.ICECandidate{Candidate: "local-1"}}, sent[1])
	assert.Equal(t, sentMessage{Type: signal.TypeICECandidate, To: "b", Payload: signal.ICECandidate{Candidate: "local-2"}}, sent[2])
}

func TestLiveness_OneRenegotiationThenFailed(t *testing.T) {
	m, net, sig := newTestManager(t, "a")
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b", Name: "ben"}))
	require.NoError(t, m.HandleAnswer(answer(t, "b", "answer-1")))
	ft := net.latest(t, "b")
	ft.cb.OnConnectionState(ConnConnected)
	requireState(t, m, "b", StateConnected)
	drainStates(m)

	ft.cb.OnConnectionState(ConnDisconnected)
	assert.Equal(t, []State{StateDisconnected, StateNegotiating}, drainStates(m))
	assert.Equal(t, []bool{false, true}, ft.calls().offers)

	sent := sig.waitFor(t, 2)
	assert.Equal(t, sentMessage{Type: signal.TypeOffer, To: "b", Payload: signal.SessionDescription{SDP: "offer-2", ICERestart: true}}, sent[1])

	// Lost again before the renegotiation recovered the link
	ft.cb.OnConnectionState(ConnFailed)
	events := drainEvents(m)
	require.Len(t, events, 1)
	assert.Equal(t, StateFailed, events[0].State)
	assert.Equal(t, "ben", events[0].Participant.Name)
	assert.Error(t, events[0].Err)
	assert.True(t, ft.calls().closed)
	assert.Equal(t, []bool{false, true}, ft.calls().offers, "no further renegotiation")
	assert.Len(t, net.all("b"), 1)
}

func TestLiveness_RecoveredLinkRenegotiatesAgain(t *testing.T) {
	m, net, _ := newTestManager(t, "a")
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b", Name: "ben"}))
	require.NoError(t, m.HandleAnswer(answer(t, "b", "answer-1")))
	ft := net.latest(t, "b")
	ft.cb.OnConnectionState(ConnConnected)

	ft.cb.OnConnectionState(ConnDisconnected)
	require.NoError(t, m.HandleAnswer(answer(t, "b", "answer-2")))
	ft.cb.OnConnectionState(ConnConnected)
	requireState(t, m, "b", StateConnected)
	drainStates(m)

	// A later, unrelated loss gets its own restart
	ft.cb.OnConnectionState(ConnDisconnected)
	assert.Equal(t, []State{StateDisconnected, StateNegotiating}, drainStates(m))
	assert.Equal(t, []bool{false, true, true}, ft.calls().offers)
	assert.False(t, ft.calls().closed)

	require.NoError(t, m.HandleAnswer(answer(t, "b", "answer-3")))
	ft.cb.OnConnectionState(ConnConnected)
	requireState(t, m, "b", StateConnected)
}

func TestOffer_RestartOnConnectedLinkKeepsLink(t *testing.T) {
	m, net, sig := newTestManager(t, "z", func(c *Config) { c.RenegotiationTimeout = 30 * time.Millisecond })
	require.NoError(t, m.HandleOffer(offer(t, "b", "o1", false)))
	ft := net.latest(t, "b")
	ft.cb.OnConnectionState(ConnConnected)
	drainStates(m)

	// The remote side lost liveness first and restarts ICE
	require.NoError(t, m.HandleOffer(offer(t, "b", "o2", true)))
	calls := ft.calls()
	assert.Equal(t, []string{"o1", "o2"}, calls.remoteOffers)
	assert.Equal(t, 2, calls.answers)

	sent := sig.waitFor(t, 2)
	assert.Equal(t, sentMessage{Type: signal.TypeAnswer, To: "b", Payload: signal.SessionDescription{SDP: "answer-2", ICERestart: true}}, sent[1])

	requireState(t, m, "b", StateConnected)
	assert.Never(t, func() bool {
		s, _ := m.State("b")
		return s != StateConnected
	}, 150*time.Millisecond, 10*time.Millisecond)
	assert.False(t, ft.calls().closed)
	assert.Empty(t, drainStates(m))

	// The link still has its renegotiation for a local loss
	ft.cb.OnConnectionState(ConnDisconnected)
	assert.Equal(t, []State{StateDisconnected}, drainStates(m))
}

func TestLiveness_RenegotiationTimesOut(t *testing.T) {
	m, net, _ := newTestManager(t, "a", func(c *Config) { c.RenegotiationTimeout = 30 * time.Millisecond })
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))
	require.NoError(t, m.HandleAnswer(answer(t, "b", "answer-1")))
	ft := net.latest(t, "b")
	ft.cb.OnConnectionState(ConnConnected)

	ft.cb.OnConnectionState(ConnDisconnected)
	requireState(t, m, "b", StateNegotiating)

	require.Eventually(t, func() bool {
		s, _ := m.State("b")
		return s == StateFailed
	}, time.Second, 5*time.Millisecond)
	assert.True(t, ft.calls().closed)
}

func TestLiveness_HigherIDWaitsForRestartOffer(t *testing.T) {
	m, net, sig := newTestManager(t, "z")
	require.NoError(t, m.HandleOffer(offer(t, "b", "o1", false)))
	ft := net.latest(t, "b")
	ft.cb.OnConnectionState(ConnConnected)
	drainStates(m)

	ft.cb.OnConnectionState(ConnDisconnected)
	assert.Equal(t, []State{StateDisconnected}, drainStates(m))
	assert.Empty(t, ft.calls().offers)

	require.NoError(t, m.HandleOffer(offer(t, "b", "o2", true)))
	calls := ft.calls()
	assert.Equal(t, []string{"o1", "o2"}, calls.remoteOffers)
	assert.Equal(t, 2, calls.answers)
	requireState(t, m, "b", StateNegotiating)

	sent := sig.waitFor(t, 2)
	assert.Equal(t, sentMessage{Type: signal.TypeAnswer, To: "b", Payload: signal.SessionDescription{SDP: "answer-2", ICERestart: true}}, sent[1])

	ft.cb.OnConnectionState(ConnConnected)
	requireState(t, m, "b", StateConnected)
}

func TestGlare(t *testing.T) {
	t.Run("lower id keeps its offer", func(t *testing.T) {
		m, net, sig := newTestManager(t, "a")
		require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))
		require.NoError(t, m.HandleOffer(offer(t, "b", "theirs", false)))

		require.Len(t, net.all("b"), 1)
		calls := net.latest(t, "b").calls()
		assert.Empty(t, calls.remoteOffers)
		assert.Zero(t, calls.answers)
		sig.waitFor(t, 1)
		assert.Never(t, func() bool { return len(sig.messages()) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	})

	t.Run("higher id yields", func(t *testing.T) {
		m, net, sig := newTestManager(t, "z")
		require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))
		require.NoError(t, m.HandleOffer(offer(t, "b", "theirs", false)))

		transports := net.all("b")
		require.Len(t, transports, 2)
		assert.True(t, transports[0].calls().closed)
		assert.Equal(t, []string{"theirs"}, transports[1].calls().remoteOffers)

		sent := sig.waitFor(t, 2)
		assert.Equal(t, signal.TypeOffer, sent[0].Type)
		assert.Equal(t, signal.TypeAnswer, sent[1].Type)
		assert.Equal(t, []State{StateNew, StateNegotiating, StateNegotiating}, drainStates(m))

		// callbacks from the discarded transport are ignored
		transports[0].cb.OnConnectionState(ConnConnected)
		requireState(t, m, "b", StateNegotiating)
		transports[1].cb.OnConnectionState(ConnConnected)
		requireState(t, m, "b", StateConnected)
	})
}

func TestUserLeft_ClosesLink(t *testing.T) {
	m, net, _ := newTestManager(t, "a")
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))
	drainStates(m)

	m.HandleUserLeft(signal.Participant{ID: "b"})
	m.HandleUserLeft(signal.Participant{ID: "b"})

	assert.True(t, net.latest(t, "b").calls().closed)
	_, ok := m.State("b")
	assert.False(t, ok)
	assert.Equal(t, []State{StateClosed}, drainStates(m))
	assert.ErrorIs(t, m.HandleIceCandidate(candidate(t, "b", "late")), ErrUnknownPeer)
}

func TestUserJoined_ReplacesFailedLink(t *testing.T) {
	m, net, _ := newTestManager(t, "a")
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))
	require.NoError(t, m.HandleAnswer(answer(t, "b", "answer-1")))
	ft := net.latest(t, "b")
	ft.cb.OnConnectionState(ConnConnected)
	ft.cb.OnConnectionState(ConnDisconnected)
	ft.cb.OnConnectionState(ConnFailed)
	requireState(t, m, "b", StateFailed)

	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))
	assert.Len(t, net.all("b"), 2)
	requireState(t, m, "b", StateNegotiating)
}

func TestClose_CancelsEverything(t *testing.T) {
	m, net, _ := newTestManager(t, "a")
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "c"}))

	m.Close()
	m.Close()

	assert.True(t, net.latest(t, "b").calls().closed)
	assert.True(t, net.latest(t, "c").calls().closed)

	var closed int
	for ev := range m.Events() {
		if ev.State == StateClosed {
			closed++
		}
	}
	assert.Equal(t, 2, closed)

	assert.ErrorIs(t, m.HandleUserJoined(signal.Participant{ID: "d"}), ErrClosed)
	assert.ErrorIs(t, m.HandleOffer(offer(t, "d", "x", false)), ErrClosed)
	assert.Empty(t, m.Links())
}

func TestSetMuted_NoRenegotiation(t *testing.T) {
	muter := &fakeMuter{}
	m, net, _ := newTestManager(t, "a", func(c *Config) { c.Local = muter })
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))

	m.SetMuted(true)
	assert.True(t, m.Muted())
	m.SetMuted(false)
	assert.False(t, m.Muted())

	muter.mu.Lock()
	assert.Equal(t, []bool{true, false}, muter.calls)
	muter.mu.Unlock()
	assert.Len(t, net.latest(t, "b").calls().offers, 1)
}

func TestFactoryFailure(t *testing.T) {
	m, net, _ := newTestManager(t, "a")
	net.fail = errFactory

	assert.ErrorIs(t, m.HandleUserJoined(signal.Participant{ID: "b"}), errFactory)
	_, ok := m.State("b")
	assert.False(t, ok)
}

func TestLinks_SortedByParticipant(t *testing.T) {
	m, _, _ := newTestManager(t, "a")
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "c"}))
	require.NoError(t, m.HandleUserJoined(signal.Participant{ID: "b"}))

	links := m.Links()
	require.Len(t, links, 2)
	assert.Equal(t, "b", links[0].Participant.ID)
	assert.Equal(t, "c", links[1].Participant.ID)
}
