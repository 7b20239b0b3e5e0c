package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/Bokbacken/energy-dispatcher/pkg/log"
	"github.com/Bokbacken/energy-dispatcher/pkg/types"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// the API is a local control surface, not a cross-origin web app
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one connected websocket subscriber.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans completed cycle results out to websocket subscribers.
type hub struct {
	mu      sync.RWMutex
	clients map[*client]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*client]bool)}
}

func (h *hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// BroadcastJSON marshals a cycle result and sends it to every subscriber.
// Slow subscribers are skipped rather than blocking the cycle.
func (h *hub) BroadcastJSON(result types.CycleResult) {
	msg, err := json.Marshal(result)
	if err != nil {
		slog.Warn("failed to marshal cycle result", slog.Any("error", err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slog.Warn("websocket client buffer full, dropping message")
		}
	}
}

// CloseAll disconnects every subscriber, used on shutdown.
func (h *hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// count returns the number of connected subscribers.
func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWS upgrades the connection and streams every completed cycle result
// until the client disconnects. The last known result is sent immediately
// so a fresh subscriber does not wait a full cycle for state.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "websocket upgrade failed", slog.Any("err", err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	s.hub.register(c)
	go c.writePump()

	if last := s.pipeline.Last(); last != nil {
		if msg, err := json.Marshal(last); err == nil {
			select {
			case c.send <- msg:
			default:
			}
		}
	}

	// the stream is one-way; reads only detect the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.hub.unregister(c)
	conn.Close()
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
