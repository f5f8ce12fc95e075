package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talgya/mini-roads/internal/engine"
)

const (
	maxWSConns   = 8
	writeTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// feedMessage is one frame on the report feed.
type feedMessage struct {
	Type   string           `json:"type"` // "hello" or "report"
	Tick   uint64           `json:"tick,omitempty"`
	Stats  *engine.SimStats `json:"stats,omitempty"`
	Report *engine.Report   `json:"report,omitempty"`
}

// Hub fans monthly reports out to websocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= maxWSConns {
		return false
	}
	h.clients[conn] = true
	return true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

// Broadcast sends v as JSON to every client. Clients that fail to keep up
// are dropped.
func (h *Hub) Broadcast(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("feed marshal failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Info("feed client dropped", "remote", conn.RemoteAddr(), "error", err)
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// handleWS upgrades to a websocket that receives a hello frame with the
// current statistics, then every monthly report.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Info("websocket upgrade failed", "error", err)
		return
	}

	stats := s.Sim.Snapshot()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(feedMessage{Type: "hello", Tick: s.Sim.CurrentTick(), Stats: &stats}); err != nil {
		conn.Close()
		return
	}
	if !s.hub.add(conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many feed clients"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	slog.Info("feed client connected", "clients", s.hub.Len())

	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Info("feed client error", "error", err)
				}
				return
			}
		}
	}()
}
