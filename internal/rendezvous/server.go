// ABOUTME: HTTP surface of the rendezvous service
// ABOUTME: gin router with health, room lookup and the signaling websocket
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Config holds rendezvous configuration
type Config struct {
	Addr            string
	MaxParticipants int
	AutoCreate      bool

	SendBuffer     int
	MaxMessageSize int64
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = 6
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 9 / 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the rendezvous HTTP server
type Server struct {
	config Config
	hub    *Hub
	router *gin.Engine

	httpServer *http.Server
	listener   net.Listener
}

// New builds a server around a hub backed by directory and presence
func New(config Config, directory Directory, presence Presence) *Server {
	config = config.withDefaults()
	s := &Server{
		config: config,
		hub:    NewHub(config, directory, presence),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": s.hub.RoomCount()})
	})
	router.GET("/api/rooms/:roomId", s.getRoom)
	router.GET("/ws", s.handleSignaling)
	return router
}

// Handler returns the HTTP handler, for embedding or tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the room hub
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) getRoom(c *gin.Context) {
	roomID := c.Param("roomId")

	if info, ok := s.hub.RoomInfo(roomID); ok {
		c.JSON(http.StatusOK, info)
		return
	}

	meta, err := s.hub.directory.Lookup(c.Request.Context(), roomID)
	if errors.Is(err, ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
		return
	}
	if err != nil {
		log.Errorf("Room lookup failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Room lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": meta.ID, "name": meta.Name, "songId": meta.SongID, "participants": []string{}})
}

func (s *Server) handleSignaling(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("Failed to upgrade connection: %v", err)
		return
	}

	cl := newClient(s.hub, conn)
	go cl.writePump()
	go cl.readPump()
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.router}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Rendezvous server error: %v", err)
		}
	}()

	log.Infof("Rendezvous listening on %s", ln.Addr())
	return nil
}

// Addr returns the bound listen address once started
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and waits for handlers to return
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
