package connector

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ellory/everworld/internal/world"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

// Bridge mirrors committed ticks to an external game client over a
// WebSocket and feeds the client's digest reports back into the
// coordinator's desync handling. One client at a time; a new
// connection replaces the old one.
type Bridge struct {
	coord    *world.Coordinator
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu   sync.Mutex
	conn *websocket.Conn
}

// Frame is the bridge wire format, both directions.
type Frame struct {
	Type string `json:"type"`
	// server -> client
	Record    *world.TickRecord `json:"record,omitempty"`
	Resources []world.Resource  `json:"resources,omitempty"`
	// client -> server
	Tick   uint64 `json:"tick,omitempty"`
	Digest string `json:"digest,omitempty"`
}

func NewBridge(coord *world.Coordinator, log *slog.Logger) *Bridge {
	b := &Bridge{
		coord: coord,
		log:   log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	coord.OnTick(b.pushTick)
	coord.SetResync(b.resync)
	return b
}

// ServeHTTP upgrades the game client connection.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error("bridge upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()
	b.log.Info("game client connected", "remote", r.RemoteAddr)

	go b.readLoop(conn)
}

// readLoop consumes client frames. A digest report that disagrees with
// the coordinator's own digest voids the next tick.
func (b *Bridge) readLoop(conn *websocket.Conn) {
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.log.Info("game client disconnected", "error", err)
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			b.log.Warn("bad bridge frame", "error", err)
			continue
		}
		switch f.Type {
		case "digest":
			b.coord.ReportDesync(f.Digest)
		case "ping":
			b.send(Frame{Type: "pong"})
		default:
			b.log.Warn("unknown bridge frame", "type", f.Type)
		}
	}
}

func (b *Bridge) pushTick(rec world.TickRecord) {
	b.send(Frame{Type: "tick", Record: &rec})
}

// resync ships the authoritative resource field so the client can
// rebuild. The coordinator calls it during a voided tick and hands in
// the snapshot itself; calling back into the coordinator here would
// deadlock on the tick lock.
func (b *Bridge) resync(resources []world.Resource, digest string) error {
	ok := b.send(Frame{Type: "resync", Resources: resources, Digest: digest})
	if !ok {
		return fmt.Errorf("no game client connected: %w", world.ErrWorldDesync)
	}
	return nil
}

func (b *Bridge) send(f Frame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return false
	}
	b.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := b.conn.WriteJSON(f); err != nil {
		b.log.Warn("bridge write failed", "error", err)
		b.conn.Close()
		b.conn = nil
		return false
	}
	return true
}
