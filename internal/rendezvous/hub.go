// ABOUTME: Room hub of the rendezvous service
// ABOUTME: Membership, addressed forwarding and fan-out of signaling messages
package rendezvous

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/signal"
	"github.com/google/uuid"
)

const storeTimeout = 2 * time.Second

type room struct {
	meta    RoomMeta
	members []*client // join order
}

func (r *room) find(id string) *client {
	for _, c := range r.members {
		if c.participant.ID == id {
			return c
		}
	}
	return nil
}

func (r *room) info(exclude string) signal.RoomInfo {
	info := signal.RoomInfo{
		ID:           r.meta.ID,
		Name:         r.meta.Name,
		SongID:       r.meta.SongID,
		Participants: make([]signal.Participant, 0, len(r.members)),
	}
	for _, c := range r.members {
		if c.participant.ID != exclude {
			info.Participants = append(info.Participants, c.participant)
		}
	}
	return info
}

// Hub owns every active room on this node
type Hub struct {
	config    Config
	directory Directory
	presence  Presence

	mu    sync.Mutex
	rooms map[string]*room
}

// NewHub creates an empty hub
func NewHub(config Config, directory Directory, presence Presence) *Hub {
	return &Hub{
		config:    config.withDefaults(),
		directory: directory,
		presence:  presence,
		rooms:     make(map[string]*room),
	}
}

// RoomCount returns the number of active rooms
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// RoomInfo returns a snapshot of an active room
func (h *Hub) RoomInfo(roomID string) (signal.RoomInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	if !ok {
		return signal.RoomInfo{}, false
	}
	return r.info(""), true
}

// Close disconnects every joined client
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		for _, m := range r.members {
			m.closeSend()
		}
	}
}

// handle processes one message read from c
func (h *Hub) handle(c *client, msg signal.Message) {
	if msg.Type == signal.TypeJoin {
		h.join(c, msg)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r := c.room
	if r == nil {
		c.sendError(signal.CodeNotJoined, fmt.Sprintf("%s before join", msg.Type))
		return
	}

	msg.From = c.participant.ID
	msg.RoomID = r.meta.ID

	switch {
	case msg.Type.Addressed():
		target := r.find(msg.To)
		if msg.To == "" || target == nil {
			c.sendError(signal.CodeUnknownPeer, fmt.Sprintf("no participant %q in room", msg.To))
			return
		}
		target.send(msg)

	case msg.Type == signal.TypeChat:
		h.broadcast(r, msg, c.participant.ID)

	case msg.Type == signal.TypeInstrumentChanged:
		var p signal.InstrumentPayload
		if err := msg.Decode(&p); err != nil {
			c.sendError(signal.CodeBadRequest, err.Error())
			return
		}
		c.participant.Instrument = p.Instrument
		h.broadcast(r, msg, c.participant.ID)
		h.roomUpdated(r, c.participant.ID)

	case msg.Type == signal.TypeUpdateRoom:
		var p signal.UpdateRoomPayload
		if err := msg.Decode(&p); err != nil {
			c.sendError(signal.CodeBadRequest, err.Error())
			return
		}
		if p.Name != "" {
			r.meta.Name = p.Name
		}
		if p.SongID != "" {
			r.meta.SongID = p.SongID
		}
		h.roomUpdated(r, c.participant.ID)

	case msg.Type == signal.TypeLeave:
		h.leaveLocked(c)

	default:
		c.sendError(signal.CodeBadRequest, fmt.Sprintf("unsupported message type %q", msg.Type))
	}
}

func (h *Hub) join(c *client, msg signal.Message) {
	var p signal.JoinPayload
	if err := msg.Decode(&p); err != nil || msg.RoomID == "" {
		c.sendError(signal.CodeBadRequest, "join requires a room id and a name")
		return
	}

	meta, err := h.resolve(msg.RoomID)
	if err != nil {
		code := signal.CodeBadRequest
		if errors.Is(err, ErrRoomNotFound) {
			code = signal.CodeRoomNotFound
		}
		c.sendError(code, err.Error())
		return
	}

	h.mu.Lock()
	if c.room != nil {
		h.mu.Unlock()
		c.sendError(signal.CodeBadRequest, "already joined")
		return
	}

	r, ok := h.rooms[meta.ID]
	if !ok {
		r = &room{meta: meta}
	}
	limit := h.config.MaxParticipants
	if meta.MaxParticipants > 0 {
		limit = meta.MaxParticipants
	}
	if len(r.members) >= limit {
		h.mu.Unlock()
		c.sendError(signal.CodeRoomFull, fmt.Sprintf("room %s is full (%d participants)", meta.ID, limit))
		return
	}
	if !ok {
		h.rooms[meta.ID] = r
		log.Infof("Created room %s", meta.ID)
	}

	c.participant = signal.Participant{
		ID:         uuid.NewString(),
		Name:       p.Name,
		Instrument: p.Instrument,
	}
	c.room = r
	r.members = append(r.members, c)

	joined, _ := signal.NewMessage(signal.TypeJoined, signal.JoinedPayload{ParticipantID: c.participant.ID})
	joined.RoomID = meta.ID
	c.send(joined)

	info, _ := signal.NewMessage(signal.TypeRoomInfo, r.info(c.participant.ID))
	info.RoomID = meta.ID
	c.send(info)

	userJoined, _ := signal.NewMessage(signal.TypeUserJoined, signal.UserPayload{Participant: c.participant})
	userJoined.RoomID = meta.ID
	userJoined.From = c.participant.ID
	h.broadcast(r, userJoined, c.participant.ID)

	roomID, participantID, count := meta.ID, c.participant.ID, len(r.members)
	h.mu.Unlock()

	log.Infof("Participant %s (%s) joined room %s - %d/%d", participantID, p.Name, roomID, count, limit)
	h.storePresence(func(ctx context.Context) error {
		return h.presence.Add(ctx, roomID, participantID)
	})
}

// resolve finds the room in the hub, then the directory, then creates it
// when auto-create is enabled
func (h *Hub) resolve(roomID string) (RoomMeta, error) {
	h.mu.Lock()
	if r, ok := h.rooms[roomID]; ok {
		meta := r.meta
		h.mu.Unlock()
		return meta, nil
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	meta, err := h.directory.Lookup(ctx, roomID)
	if err == nil {
		return meta, nil
	}
	if !errors.Is(err, ErrRoomNotFound) {
		return RoomMeta{}, err
	}
	if !h.config.AutoCreate {
		return RoomMeta{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return RoomMeta{ID: roomID}, nil
}

// leave removes c from its room, if any
func (h *Hub) leave(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *client) {
	r := c.room
	if r == nil {
		return
	}
	c.room = nil

	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i:i], r.members[i+1:]...)
			break
		}
	}

	left, _ := signal.NewMessage(signal.TypeUserLeft, signal.UserPayload{Participant: c.participant})
	left.RoomID = r.meta.ID
	left.From = c.participant.ID
	h.broadcast(r, left, c.participant.ID)

	if len(r.members) == 0 {
		delete(h.rooms, r.meta.ID)
		log.Infof("Removed empty room %s", r.meta.ID)
	}

	roomID, participantID := r.meta.ID, c.participant.ID
	log.Infof("Participant %s left room %s", participantID, roomID)
	go h.storePresence(func(ctx context.Context) error {
		return h.presence.Remove(ctx, roomID, participantID)
	})
}

// roomUpdated sends a fresh snapshot to everyone except the actor
func (h *Hub) roomUpdated(r *room, actor string) {
	msg, _ := signal.NewMessage(signal.TypeRoomUpdated, r.info(""))
	msg.RoomID = r.meta.ID
	msg.From = actor
	h.broadcast(r, msg, actor)
}

func (h *Hub) broadcast(r *room, msg signal.Message, exclude string) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Failed to marshal %s: %v", msg.Type, err)
		return
	}
	for _, m := range r.members {
		if m.participant.ID != exclude {
			m.enqueue(data)
		}
	}
}

func (h *Hub) storePresence(fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warnf("Presence update failed: %v", err)
	}
}

// Members lists the participant ids recorded for a room
func (h *Hub) Members(ctx context.Context, roomID string) ([]string, error) {
	members, err := h.presence.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}
	sort.Strings(members)
	return members, nil
}
