// ABOUTME: One websocket connection to the rendezvous
// ABOUTME: Read and write pumps with keepalive and slow-client eviction
package rendezvous

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/Resonate-Protocol/resonate-jam/pkg/signal"
	"github.com/gorilla/websocket"
)

type client struct {
	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	out    chan []byte
	closed bool

	// guarded by hub.mu
	room        *room
	participant signal.Participant
}

func newClient(hub *Hub, conn *websocket.Conn) *client {
	return &client{
		hub:  hub,
		conn: conn,
		out:  make(chan []byte, hub.config.SendBuffer),
	}
}

// enqueue queues data without blocking. A client whose queue is full is
// disconnected.
func (c *client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	select {
	case c.out <- data:
	default:
		log.Warnf("Participant %s send buffer full, disconnecting", c.participant.ID)
		c.closed = true
		close(c.out)
	}
}

func (c *client) send(msg signal.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Failed to marshal %s: %v", msg.Type, err)
		return
	}
	c.enqueue(data)
}

func (c *client) sendError(code, message string) {
	msg, _ := signal.NewMessage(signal.TypeError, signal.ErrorPayload{Code: code, Message: message})
	c.send(msg)
}

func (c *client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *client) readPump() {
	cfg := c.hub.config
	defer func() {
		c.hub.leave(c)
		c.closeSend()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warnf("WebSocket error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(cfg.PongWait))

		var msg signal.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(signal.CodeBadRequest, "malformed message")
			continue
		}
		c.hub.handle(c, msg)
	}
}

func (c *client) writePump() {
	cfg := c.hub.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debugf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
