package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/vidscout/internal/events"
	"github.com/nugget/vidscout/internal/session"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	sendBuffer   = 32
	maxReadBytes = 4096
)

// errNoPages is returned by Seek and Play when no page is connected.
var errNoPages = errors.New("no page connected")

// wsMessage is the frame format sent to pages.
//
//	{"type":"state","event":{...}}  something changed, refresh the view
//	{"type":"seek","seconds":5}     move the player
//	{"type":"play"}                 resume playback
type wsMessage struct {
	Type    string        `json:"type"`
	Seconds float64       `json:"seconds,omitempty"`
	Event   *events.Event `json:"event,omitempty"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans session events out to connected pages and carries player
// commands back to them. It is the session's Player while at least one
// page is connected.
type Hub struct {
	session  *session.Session
	bus      *events.Bus
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub creates a hub for sess. Call Run to start forwarding events.
func NewHub(sess *session.Session, bus *events.Bus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		session: sess,
		bus:     bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Run forwards bus events to every page until ctx is cancelled, then
// closes all connections.
func (h *Hub) Run(ctx context.Context) {
	if h.bus == nil {
		<-ctx.Done()
		h.closeAll()
		return
	}

	ch := h.bus.Subscribe(64)
	defer h.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(wsMessage{Type: "state", Event: &e})
		}
	}
}

// Seek implements session.Player.
func (h *Hub) Seek(seconds float64) error {
	return h.broadcast(wsMessage{Type: "seek", Seconds: seconds})
}

// Play implements session.Player.
func (h *Hub) Play() error {
	return h.broadcast(wsMessage{Type: "play"})
}

// Clients returns the number of connected pages.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one page connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	if n == 1 {
		h.session.AttachPlayer(h)
	}
	h.logger.Debug("page connected", "client", c.id, "clients", n)
}

// unregister removes c and closes its send channel. Safe to call twice.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	if n == 0 {
		h.session.DetachPlayer(h)
	}
	h.logger.Debug("page disconnected", "client", c.id, "clients", n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.unregister(c)
	}
}

// broadcast queues msg for every page. A page whose buffer is full is
// dropped; its browser reconnects and re-renders from scratch.
func (h *Hub) broadcast(msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.Lock()
	var slow []*wsClient
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow page", "client", c.id)
		h.unregister(c)
	}
	if n == 0 {
		return errNoPages
	}
	return nil
}

// readPump discards inbound frames and keeps the read deadline fresh.
// Returning means the page is gone.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read failed", "client", c.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
