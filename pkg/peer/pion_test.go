// ABOUTME: Tests for the pion transport
// ABOUTME: ICE configuration mapping and a real offer/answer exchange between two managers
package peer

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/pkg/audio"
	"github.com/Resonate-Protocol/resonate-jam/pkg/signal"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestICEConfig_Configuration(t *testing.T) {
	tests := []struct {
		name        string
		ice         ICEConfig
		wantServers []webrtc.ICEServer
		wantPolicy  webrtc.ICETransportPolicy
	}{
		{
			name:        "stun only",
			ice:         ICEConfig{STUN: []string{"stun:stun.example.org:3478"}},
			wantServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
			wantPolicy:  webrtc.ICETransportPolicyAll,
		},
		{
			name: "stun and turn with credentials",
			ice: ICEConfig{
				STUN:     []string{"stun:stun.example.org:3478"},
				TURN:     []string{"turn:turn.example.org:3478"},
				TURNUser: "jam",
				TURNPass: "secret",
			},
			wantServers: []webrtc.ICEServer{
				{URLs: []string{"stun:stun.example.org:3478"}},
				{
					URLs:           []string{"turn:turn.example.org:3478"},
					Username:       "jam",
					Credential:     "secret",
					CredentialType: webrtc.ICECredentialTypePassword,
				},
			},
			wantPolicy: webrtc.ICETransportPolicyAll,
		},
		{
			name: "force relay drops stun",
			ice: ICEConfig{
				STUN:       []string{"stun:stun.example.org:3478"},
				TURN:       []string{"turn:turn.example.org:3478"},
				ForceRelay: true,
			},
			wantServers: []webrtc.ICEServer{{URLs: []string{"turn:turn.example.org:3478"}}},
			wantPolicy:  webrtc.ICETransportPolicyRelay,
		},
		{
			name:        "none",
			wantServers: []webrtc.ICEServer{},
			wantPolicy:  webrtc.ICETransportPolicyAll,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.ice.Configuration()
			assert.Equal(t, tt.wantServers, cfg.ICEServers)
			assert.Equal(t, tt.wantPolicy, cfg.ICETransportPolicy)
		})
	}
}

func TestConnectionStateMapping(t *testing.T) {
	tests := []struct {
		in   webrtc.PeerConnectionState
		want ConnectionState
		ok   bool
	}{
		{webrtc.PeerConnectionStateNew, ConnConnecting, true},
		{webrtc.PeerConnectionStateConnecting, ConnConnecting, true},
		{webrtc.PeerConnectionStateConnected, ConnConnected, true},
		{webrtc.PeerConnectionStateDisconnected, ConnDisconnected, true},
		{webrtc.PeerConnectionStateFailed, ConnFailed, true},
		{webrtc.PeerConnectionStateClosed, ConnClosed, true},
		{webrtc.PeerConnectionStateUnknown, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			got, ok := connectionState(tt.in)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// router delivers signaling between managers in-process
type router struct {
	mu       sync.Mutex
	managers map[string]*Manager
	offers   []string
	answers  int
	errs     []error
}

type routedSignaler struct {
	r    *router
	from string
}

func (s routedSignaler) SendPayload(t signal.MessageType, to string, payload interface{}) error {
	msg, err := signal.NewMessage(t, payload)
	if err != nil {
		return err
	}
	msg.From = s.from
	msg.To = to

	s.r.mu.Lock()
	target := s.r.managers[to]
	switch t {
	case signal.TypeOffer:
		s.r.offers = append(s.r.offers, payload.(signal.SessionDescription).SDP)
	case signal.TypeAnswer:
		s.r.answers++
	}
	s.r.mu.Unlock()

	switch t {
	case signal.TypeOffer:
		err = target.HandleOffer(msg)
	case signal.TypeAnswer:
		err = target.HandleAnswer(msg)
	case signal.TypeICECandidate:
		err = target.HandleIceCandidate(msg)
	}
	if err != nil {
		s.r.mu.Lock()
		s.r.errs = append(s.r.errs, err)
		s.r.mu.Unlock()
	}
	return nil
}

func newPionManager(t *testing.T, r *router, self string) *Manager {
	t.Helper()
	out, err := NewOutboundTrack("jam-"+self, audio.Format{SampleRate: 48000, Channels: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { out.Close() })

	factory, err := NewPionFactory(PionConfig{Outbound: out})
	require.NoError(t, err)

	m := NewManager(Config{Self: self, Factory: factory, Signaler: routedSignaler{r: r, from: self}, Local: out})
	t.Cleanup(m.Close)
	return m
}

func TestPion_OfferAnswerExchange(t *testing.T) {
	r := &router{managers: make(map[string]*Manager)}
	a := newPionManager(t, r, "a")
	b := newPionManager(t, r, "b")
	r.mu.Lock()
	r.managers["a"] = a
	r.managers["b"] = b
	r.mu.Unlock()

	require.NoError(t, a.HandleUserJoined(signal.Participant{ID: "b", Name: "ben"}))

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.answers == 1
	}, 5*time.Second, 10*time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.errs)
	require.Len(t, r.offers, 1)
	assert.True(t, strings.Contains(strings.ToLower(r.offers[0]), "opus/48000/2"), "offer carries opus")

	for _, m := range []*Manager{a, b} {
		for _, l := range m.Links() {
			assert.False(t, l.State.Terminal(), "%s link to %s", m.config.Self, l.Participant.ID)
		}
	}
}
