// ABOUTME: pion WebRTC implementation of the link transport
// ABOUTME: Opus-only media engine, trickle ICE and inbound audio to monitors
package peer

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/signal"
	"github.com/pion/webrtc/v3"
)

const (
	opusPayloadType = 111
	eventBuffer     = 64
)

// ICEConfig lists the STUN and TURN servers used for NAT traversal
type ICEConfig struct {
	STUN       []string
	TURN       []string
	TURNUser   string
	TURNPass   string
	ForceRelay bool // only use TURN relay candidates
}

// Configuration builds the pion peer connection configuration
func (c ICEConfig) Configuration() webrtc.Configuration {
	servers := make([]webrtc.ICEServer, 0, 2)

	if len(c.STUN) > 0 && !c.ForceRelay {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUN})
	}
	if len(c.TURN) > 0 {
		turn := webrtc.ICEServer{URLs: c.TURN}
		if c.TURNUser != "" {
			turn.Username = c.TURNUser
			turn.Credential = c.TURNPass
			turn.CredentialType = webrtc.ICECredentialTypePassword
		}
		servers = append(servers, turn)
	}

	policy := webrtc.ICETransportPolicyAll
	if c.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}

	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

// PionConfig configures pion transports
type PionConfig struct {
	ICE      ICEConfig
	Outbound *OutboundTrack // nil for receive-only links
	Monitors *Monitors      // nil to ignore inbound audio
}

// NewPionFactory returns a TransportFactory creating pion peer connections
// that negotiate Opus audio only
func NewPionFactory(config PionConfig) (TransportFactory, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1;stereo=1",
		},
		PayloadType: opusPayloadType,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus codec: %w", err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(engine))
	rtcConfig := config.ICE.Configuration()

	return func(participantID string, cb Callbacks) (Transport, error) {
		t, err := newPionTransport(api, rtcConfig, config, participantID, cb)
		if err != nil {
			return nil, err
		}
		return t, nil
	}, nil
}

type pionTransport struct {
	participantID string
	pc            *webrtc.PeerConnection
	config        PionConfig

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func newPionTransport(api *webrtc.API, rtcConfig webrtc.Configuration, config PionConfig, participantID string, cb Callbacks) (*pionTransport, error) {
	pc, err := api.NewPeerConnection(rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &pionTransport{
		participantID: participantID,
		pc:            pc,
		config:        config,
		events:        make(chan func(), eventBuffer),
		done:          make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnICECandidate == nil {
			return
		}
		init := c.ToJSON()
		t.post(func() {
			cb.OnICECandidate(signal.ICECandidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
			})
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debugf("Peer %s connection state: %s", participantID, state)
		if cb.OnConnectionState == nil {
			return
		}
		cs, ok := connectionState(state)
		if !ok {
			return
		}
		t.post(func() { cb.OnConnectionState(cs) })
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go t.receive(track)
	})

	go t.eventLoop()
	return t, nil
}

func connectionState(state webrtc.PeerConnectionState) (ConnectionState, bool) {
	switch state {
	case webrtc.PeerConnectionStateNew, webrtc.PeerConnectionStateConnecting:
		return ConnConnecting, true
	case webrtc.PeerConnectionStateConnected:
		return ConnConnected, true
	case webrtc.PeerConnectionStateDisconnected:
		return ConnDisconnected, true
	case webrtc.PeerConnectionStateFailed:
		return ConnFailed, true
	case webrtc.PeerConnectionStateClosed:
		return ConnClosed, true
	default:
		return 0, false
	}
}

// post queues a callback so callbacks run in order on one goroutine
func (t *pionTransport) post(fn func()) {
	select {
	case t.events <- fn:
	case <-t.done:
	}
}

func (t *pionTransport) eventLoop() {
	for {
		select {
		case fn := <-t.events:
			fn()
		case <-t.done:
			return
		}
	}
}

func (t *pionTransport) AttachLocalMedia() error {
	if t.config.Outbound == nil {
		_, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		})
		return err
	}

	sender, err := t.pc.AddTrack(t.config.Outbound.Track())
	if err != nil {
		return fmt.Errorf("failed to add audio track: %w", err)
	}

	// drain RTCP so the sender's buffers do not fill
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

func (t *pionTransport) CreateOffer(iceRestart bool) (string, error) {
	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return offer.SDP, nil
}

func (t *pionTransport) CreateAnswer() (string, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	return answer.SDP, nil
}

func (t *pionTransport) SetRemoteOffer(sdp string) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
}

func (t *pionTransport) SetRemoteAnswer(sdp string) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

func (t *pionTransport) AddICECandidate(c signal.ICECandidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        c.SDPMid,
		SDPMLineIndex: c.SDPMLineIndex,
	})
}

func (t *pionTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.pc.Close()
		if t.config.Monitors != nil {
			t.config.Monitors.Remove(t.participantID)
		}
	})
	return err
}

// receive feeds an inbound Opus track into the participant's monitor
func (t *pionTransport) receive(track *webrtc.TrackRemote) {
	codec := track.Codec()
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
		log.Warnf("Ignoring %s track from %s", codec.MimeType, t.participantID)
		return
	}
	if t.config.Monitors == nil {
		return
	}

	mon, err := t.config.Monitors.Open(t.participantID)
	if err != nil {
		log.Errorf("Failed to open monitor for %s: %v", t.participantID, err)
		return
	}
	log.Infof("Receiving audio from %s (ssrc %d)", t.participantID, track.SSRC())

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugf("Audio from %s ended: %v", t.participantID, err)
			}
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		if err := mon.Write(pkt.Payload); err != nil {
			log.Debugf("Dropping undecodable packet from %s: %v", t.participantID, err)
		}
	}
}
