// ABOUTME: Signaling coordinator owning the control channel to the rendezvous
// ABOUTME: Handles join handshake, ordered sends, subscriptions and disconnects
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/gorilla/websocket"
)

const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 20 * time.Second

	inboundBuffer = 256
)

// Config holds coordinator configuration
type Config struct {
	URL              string // ws://host:port/ws
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration // silence tolerated before the channel is treated as lost
	Dialer           *websocket.Dialer
}

// Handler receives inbound messages on the coordinator's dispatch goroutine
type Handler func(Message)

// session is one joined connection
type session struct {
	conn    *websocket.Conn
	roomID  string
	self    Participant
	inbound chan Message
	closing atomic.Bool
	done    chan struct{}
}

// Coordinator manages membership in one room at a time
type Coordinator struct {
	config Config

	mu         sync.Mutex
	current    *session
	joining    bool
	cancelJoin context.CancelFunc
	lastRoom   string
	lastInfo   JoinPayload

	writeMu sync.Mutex
	seq     atomic.Uint64

	subsMu  sync.RWMutex
	subs    map[MessageType]map[uint64]Handler
	nextSub uint64
}

// NewCoordinator creates a disconnected coordinator
func NewCoordinator(config Config) *Coordinator {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.PongWait <= 0 {
		config.PongWait = 2 * config.PingInterval
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	return &Coordinator{
		config: config,
		subs:   make(map[MessageType]map[uint64]Handler),
	}
}

// Join connects to the rendezvous and joins roomID. It returns once the
// rendezvous has acknowledged or rejected the join. The dial and handshake
// run without holding the coordinator lock; Send fails with
// TransportUnavailable until the join completes.
func (c *Coordinator) Join(ctx context.Context, roomID string, info JoinPayload) (*Participant, error) {
	if roomID == "" {
		return nil, &Error{Kind: KindRejected, Code: CodeBadRequest, Message: "room id is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.HandshakeTimeout)
	defer cancel()

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, &Error{Kind: KindRejected, Message: fmt.Sprintf("already joined room %s", c.current.roomID)}
	}
	if c.joining {
		c.mu.Unlock()
		return nil, &Error{Kind: KindRejected, Message: "join already in progress"}
	}
	c.joining = true
	c.cancelJoin = cancel
	c.mu.Unlock()

	finish := func() {
		c.mu.Lock()
		c.joining = false
		c.cancelJoin = nil
		c.mu.Unlock()
	}

	log.Infof("Connecting to rendezvous %s", c.config.URL)
	conn, _, err := c.config.Dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		finish()
		return nil, transportError("dial failed", err)
	}

	// Leave closes the socket through the context so a stalled handshake
	// read returns
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	self, err := c.handshake(conn, roomID, info)
	if !stop() && err == nil {
		err = transportError("join cancelled", ctx.Err())
	}
	if err != nil {
		conn.Close()
		finish()
		return nil, err
	}

	s := &session{
		conn:    conn,
		roomID:  roomID,
		self:    self,
		inbound: make(chan Message, inboundBuffer),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.joining = false
	c.cancelJoin = nil
	c.current = s
	c.lastRoom = roomID
	c.lastInfo = info
	c.mu.Unlock()

	go c.dispatch(s)
	go c.readLoop(s)
	go c.pingLoop(s)

	log.Infof("Joined room %s as %s (%s)", roomID, self.Name, self.ID)
	p := self
	return &p, nil
}

// handshake sends join and waits for joined or error
func (c *Coordinator) handshake(conn *websocket.Conn, roomID string, info JoinPayload) (Participant, error) {
	msg, err := NewMessage(TypeJoin, info)
	if err != nil {
		return Participant{}, &Error{Kind: KindRejected, Err: err}
	}
	msg.RoomID = roomID

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return Participant{}, transportError("failed to send join", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		return Participant{}, transportError("failed to read join reply", err)
	}
	conn.SetReadDeadline(time.Time{})

	switch reply.Type {
	case TypeJoined:
		var joined JoinedPayload
		if err := reply.Decode(&joined); err != nil {
			return Participant{}, &Error{Kind: KindRejected, Err: err}
		}
		return Participant{
			ID:         joined.ParticipantID,
			Name:       info.Name,
			Instrument: info.Instrument,
			Local:      true,
		}, nil
	case TypeError:
		var p ErrorPayload
		if err := reply.Decode(&p); err != nil {
			return Participant{}, &Error{Kind: KindRejected, Err: err}
		}
		return Participant{}, errorFromPayload(p)
	default:
		return Participant{}, &Error{Kind: KindRejected, Message: fmt.Sprintf("expected joined, got %s", reply.Type)}
	}
}

// Rejoin joins the last room again with the same identity details
func (c *Coordinator) Rejoin(ctx context.Context) (*Participant, error) {
	c.mu.Lock()
	roomID, info := c.lastRoom, c.lastInfo
	c.mu.Unlock()

	if roomID == "" {
		return nil, &Error{Kind: KindRejected, Message: "no room to rejoin"}
	}
	return c.Join(ctx, roomID, info)
}

// Leave sends leave and closes the control channel. Subscribers receive
// nothing further from this session.
func (c *Coordinator) Leave() error {
	c.mu.Lock()
	s := c.current
	c.current = nil
	if c.cancelJoin != nil {
		c.cancelJoin()
	}
	c.mu.Unlock()

	if s == nil {
		return nil
	}
	s.closing.Store(true)

	msg := Message{Type: TypeLeave, RoomID: s.roomID, From: s.self.ID}
	err := c.write(s, msg)

	c.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	s.conn.Close()

	log.Infof("Left room %s", s.roomID)
	if err != nil {
		return fmt.Errorf("leave: %w", err)
	}
	return nil
}

// Send transmits msg to the rendezvous. RoomID, From and Seq are filled in.
// Messages from one coordinator reach the rendezvous in Send order.
func (c *Coordinator) Send(msg Message) error {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return transportError("not connected", nil)
	}
	if msg.Type.Addressed() && msg.To == "" {
		return &Error{Kind: KindRejected, Code: CodeBadRequest, Message: fmt.Sprintf("%s requires a recipient", msg.Type)}
	}

	msg.RoomID = s.roomID
	msg.From = s.self.ID
	return c.write(s, msg)
}

// SendPayload encodes payload and sends it as a message of type t
func (c *Coordinator) SendPayload(t MessageType, to string, payload interface{}) error {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return err
	}
	msg.To = to
	return c.Send(msg)
}

func (c *Coordinator) write(s *session, msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	msg.Seq = c.seq.Add(1)
	s.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		return transportError(fmt.Sprintf("failed to send %s", msg.Type), err)
	}
	return nil
}

// Subscribe registers h for messages of type t (TypeAny for all). The
// returned function removes the subscription.
func (c *Coordinator) Subscribe(t MessageType, h Handler) (unsubscribe func()) {
	c.subsMu.Lock()
	c.nextSub++
	id := c.nextSub
	if c.subs[t] == nil {
		c.subs[t] = make(map[uint64]Handler)
	}
	c.subs[t][id] = h
	c.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs[t], id)
			c.subsMu.Unlock()
		})
	}
}

// Self returns the local participant while joined
func (c *Coordinator) Self() (Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Participant{}, false
	}
	return c.current.self, true
}

// Connected reports whether the control channel is up
func (c *Coordinator) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *Coordinator) readLoop(s *session) {
	defer close(s.inbound)

	pongWait := c.config.PongWait
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.closing.Load() {
				return
			}
			log.Warnf("Signaling connection lost: %v", err)
			c.drop(s)
			payload, _ := json.Marshal(DisconnectedPayload{Reason: err.Error()})
			s.inbound <- Message{Type: TypeDisconnected, RoomID: s.roomID, Payload: payload}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warnf("Failed to parse signaling message: %v", err)
			continue
		}
		if msg.Type == TypeDisconnected {
			continue
		}
		s.inbound <- msg
	}
}

// drop forgets s if it is still the current session
func (c *Coordinator) drop(s *session) {
	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()
	s.conn.Close()
}

func (c *Coordinator) pingLoop(s *session) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.config.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				if s.closing.Load() || errors.Is(err, websocket.ErrCloseSent) {
					return
				}
				// the read loop sees the closed socket and reports the loss
				log.Warnf("Signaling ping failed: %v", err)
				s.conn.Close()
				return
			}
		}
	}
}

func (c *Coordinator) dispatch(s *session) {
	defer close(s.done)

	for msg := range s.inbound {
		if s.closing.Load() {
			continue
		}
		for _, h := range c.handlers(msg.Type) {
			h(msg)
		}
	}
}

func (c *Coordinator) handlers(t MessageType) []Handler {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()

	hs := make([]Handler, 0, len(c.subs[t])+len(c.subs[TypeAny]))
	for _, h := range c.subs[t] {
		hs = append(hs, h)
	}
	for _, h := range c.subs[TypeAny] {
		hs = append(hs, h)
	}
	return hs
}
