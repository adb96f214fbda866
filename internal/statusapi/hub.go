package statusapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oliverhazley/MindMend/internal/session"
)

const writeWait = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans session snapshots out to websocket clients. Publish never blocks;
// when clients are slow only the newest snapshot is kept.
type Hub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]bool
	latest chan session.Snapshot
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		conns:  make(map[*websocket.Conn]bool),
		latest: make(chan session.Snapshot, 1),
		logger: logger,
	}
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = true
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Publish queues snap for broadcast, replacing any snapshot not yet sent.
func (h *Hub) Publish(snap session.Snapshot) {
	for {
		select {
		case h.latest <- snap:
			return
		default:
		}
		select {
		case <-h.latest:
		default:
		}
	}
}

// Run broadcasts published snapshots until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-h.latest:
			b, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("statusapi: encode snapshot", "error", err)
				continue
			}
			h.broadcastText(b)
		}
	}
}

func (h *Hub) broadcastText(b []byte) {
	for _, c := range h.snapshot() {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			_ = c.Close()
			h.remove(c)
		}
	}
}

func (h *Hub) closeAll() {
	for _, c := range h.snapshot() {
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		_ = c.Close()
		h.remove(c)
	}
}

// serveWS upgrades the request, sends the current snapshot and keeps the
// client registered until it goes away.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, current session.Snapshot) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("statusapi: websocket upgrade failed", "error", err)
		return
	}
	b, err := json.Marshal(current)
	if err == nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		err = conn.WriteMessage(websocket.TextMessage, b)
	}
	if err != nil {
		_ = conn.Close()
		return
	}
	h.add(conn)
	defer func() {
		h.remove(conn)
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
