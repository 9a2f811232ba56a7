// Package ws streams rebalance cycle events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/rebalancerbot/internal/domain"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1024
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin enforcement happens in the CORS middleware.
		return true
	},
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub fans rebalance cycle events from the event bus out to every connected
// WebSocket client.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	bus        domain.EventBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a Hub bridging the event bus to WebSocket clients. The mode
// string is echoed back in the greeting frame sent on connect.
func NewHub(bus domain.EventBus, mode string, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  time.Now().UTC(),
	}
}

// Run drives the hub's event loop: client registration, disconnects, and
// broadcasting. It blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.pumpCycleEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", slog.Int("total_clients", h.clientCount()))

		case data := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.logger.Warn("dropping event for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// pumpCycleEvents subscribes to the cycle channel and forwards every event
// to the broadcast loop wrapped in a typed envelope.
func (h *Hub) pumpCycleEvents(ctx context.Context) {
	events, err := h.bus.Subscribe(ctx, domain.CycleEventsChannel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", domain.CycleEventsChannel),
			slog.Any("error", err),
		)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("cycle subscription closed")
				return
			}
			envelope, err := json.Marshal(map[string]any{
				"type":    "cycle",
				"payload": json.RawMessage(data),
			})
			if err != nil {
				continue
			}
			h.broadcast <- envelope
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.Any("error", err))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register <- c
	c.sendGreeting()

	go c.writePump()
	go c.readPump()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// sendGreeting pushes a status frame so clients can mark the connection
// healthy before the first cycle event arrives.
func (c *client) sendGreeting() {
	msg, err := json.Marshal(map[string]any{
		"type": "status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"connected":      true,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readPump drains client frames to keep pong handling alive. Incoming
// payloads are ignored; the stream is one-way.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.Any("error", err))
			}
			return
		}
	}
}

// writePump sends broadcast frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
