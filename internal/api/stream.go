package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ellory/everworld/internal/world"
)

const (
	streamWriteWait = 10 * time.Second
	maxStreamConns  = 16
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamHub fans committed ticks out to dashboard WebSocket clients.
// It registers a single coordinator hook on first use; clients come and
// go underneath it.
type streamHub struct {
	mu      sync.Mutex
	once    sync.Once
	clients map[*websocket.Conn]struct{}
}

func (h *streamHub) attach(coord *world.Coordinator) {
	h.once.Do(func() {
		h.clients = make(map[*websocket.Conn]struct{})
		coord.OnTick(h.broadcast)
	})
}

func (h *streamHub) broadcast(rec world.TickRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(rec); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *streamHub) add(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= maxStreamConns {
		return false
	}
	h.clients[conn] = struct{}{}
	return true
}

func (h *streamHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
}

// handleStream upgrades to a WebSocket and pushes one TickRecord per
// committed tick until the client disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.hub.attach(s.Coord)

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("stream upgrade failed", "error", err)
		return
	}
	if !s.hub.add(conn) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many stream clients"),
			time.Now().Add(streamWriteWait))
		conn.Close()
		return
	}
	slog.Debug("stream client connected", "remote", conn.RemoteAddr())

	// Drain reads so pings and close frames are processed.
	go func() {
		defer func() {
			s.hub.remove(conn)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
