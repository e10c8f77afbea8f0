// Package ws pushes fan-out events to connected dashboard clients over
// WebSocket.
package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/rescuenet/dispatch/internal/fanout"
	"github.com/rescuenet/dispatch/internal/mission"
	"github.com/rescuenet/dispatch/internal/util"
	"github.com/rescuenet/dispatch/pkg/core"
)

const (
	sendChSize = 256
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Envelope is the frame every client receives.
type Envelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub tracks connected clients and broadcasts to all of them.
type Hub struct {
	upgrader ws.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn   *ws.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

// NewHub creates a hub accepting connections from any origin.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		upgrader: ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		logger:   logger,
		clients:  make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		sendCh: make(chan []byte, sendChSize),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr, "clients", count)

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Sink broadcasts an event with contact phones masked. It satisfies fanout.SinkFunc.
func (h *Hub) Sink(e fanout.Event) error {
	data, err := json.Marshal(Envelope{Type: e.Name, Payload: masked(e.Payload), Timestamp: e.Timestamp})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Name, err)
	}
	h.broadcast(data)
	return nil
}

// masked returns a copy of the payload safe for dashboards. Payloads are
// shared with other sinks and must not be modified in place.
func masked(payload any) any {
	switch p := payload.(type) {
	case core.RescuePoint:
		p.Phone = util.MaskPhone(p.Phone)
		return p
	case *core.RescuePoint:
		if p == nil {
			return p
		}
		return masked(*p)
	case core.Team:
		p.Phone = util.MaskPhone(p.Phone)
		return p
	case *core.Team:
		if p == nil {
			return p
		}
		return masked(*p)
	case mission.View:
		if p.RescuePoint != nil {
			rp := masked(*p.RescuePoint).(core.RescuePoint)
			p.RescuePoint = &rp
		}
		if p.Team != nil {
			t := masked(*p.Team).(core.Team)
			p.Team = &t
		}
		return p
	}
	return payload
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.sendCh <- data:
		default:
			h.logger.Warn("WebSocket send channel full, dropping message")
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.shutdown()
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.shutdown()
}

func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// writeLoop is the only writer on the connection.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.sendCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				h.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				h.remove(c)
				return
			}
			if err := c.conn.WriteMessage(ws.TextMessage, data); err != nil {
				h.logger.Warn("WebSocket write error", "error", err)
				h.remove(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(ws.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readLoop discards client frames and detects disconnects.
func (h *Hub) readLoop(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			select {
			case <-c.done:
			default:
				h.logger.Debug("WebSocket client disconnected", "error", err)
			}
			h.remove(c)
			return
		}
	}
}
