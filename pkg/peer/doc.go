// ABOUTME: Package peer manages the direct audio links of a room session
// ABOUTME: One negotiated WebRTC link per remote participant
// Package peer keeps one media link per remote participant.
//
// The Manager reacts to signaling: a user-joined message makes the
// existing participant offer, an offer makes the newcomer answer, and
// candidates flow both ways. Candidates that arrive before the remote
// description are queued and applied in arrival order once it is set.
// When a link loses liveness it gets exactly one ICE restart; if that does
// not reconnect within the renegotiation timeout the link fails and the
// session carries on without it.
//
// Links are created through a TransportFactory. NewPionFactory returns
// one backed by pion/webrtc that sends the local OutboundTrack and plays
// inbound audio through Monitors.
package peer
