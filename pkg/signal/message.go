// ABOUTME: Signaling message envelope and payload types
// ABOUTME: Shared by the coordinator and the rendezvous service
package signal

import (
	"encoding/json"
	"fmt"
)

// MessageType tags a signaling message
type MessageType string

const (
	TypeJoin              MessageType = "join"
	TypeJoined            MessageType = "joined"
	TypeLeave             MessageType = "leave"
	TypeOffer             MessageType = "offer"
	TypeAnswer            MessageType = "answer"
	TypeICECandidate      MessageType = "ice-candidate"
	TypeChat              MessageType = "chat"
	TypeInstrumentChanged MessageType = "instrument-changed"
	TypeUpdateRoom        MessageType = "update-room"
	TypeRoomInfo          MessageType = "room-info"
	TypeRoomUpdated       MessageType = "room-updated"
	TypeUserJoined        MessageType = "user-joined"
	TypeUserLeft          MessageType = "user-left"
	TypeError             MessageType = "error"

	// TypeDisconnected is generated locally when the control channel drops.
	// It never appears on the wire.
	TypeDisconnected MessageType = "disconnected"

	// TypeAny subscribes to every message
	TypeAny MessageType = "*"
)

// Addressed reports whether messages of this type carry a recipient
func (t MessageType) Addressed() bool {
	switch t {
	case TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	}
	return false
}

// Message is the envelope for every signaling message
type Message struct {
	Type    MessageType     `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a message with an encoded payload. A nil payload is
// omitted.
func NewMessage(t MessageType, payload interface{}) (Message, error) {
	msg := Message{Type: t}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s message has no payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", m.Type, err)
	}
	return nil
}

// Participant is one member of a room
type Participant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Instrument string `json:"instrument,omitempty"`
	Local      bool   `json:"-"`
}

// RoomInfo is a snapshot of a room's state
type RoomInfo struct {
	ID           string        `json:"id"`
	Name         string        `json:"name,omitempty"`
	SongID       string        `json:"songId,omitempty"`
	Participants []Participant `json:"participants"`
}

// JoinPayload is sent with join
type JoinPayload struct {
	Name       string `json:"name"`
	Instrument string `json:"instrument,omitempty"`
}

// JoinedPayload acknowledges a join
type JoinedPayload struct {
	ParticipantID string `json:"participantId"`
}

// UserPayload carries a membership change
type UserPayload struct {
	Participant Participant `json:"participant"`
}

// SessionDescription is an SDP offer or answer
type SessionDescription struct {
	SDP        string `json:"sdp"`
	ICERestart bool   `json:"iceRestart,omitempty"`
}

// ICECandidate is a trickled connectivity candidate
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// ChatPayload is a chat line
type ChatPayload struct {
	Text string `json:"text"`
}

// InstrumentPayload announces a participant's instrument
type InstrumentPayload struct {
	Instrument string `json:"instrument"`
}

// UpdateRoomPayload changes room-level metadata
type UpdateRoomPayload struct {
	Name   string `json:"name,omitempty"`
	SongID string `json:"songId,omitempty"`
}

// ErrorPayload reports a rejected request
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DisconnectedPayload describes a lost control channel
type DisconnectedPayload struct {
	Reason string `json:"reason"`
}
