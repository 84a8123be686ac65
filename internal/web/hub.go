package web

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboard is served from the same host; no cross-origin clients.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub pushes engine events to connected dashboard clients. It implements
// domain.NotificationSink; delivery is best-effort.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		clients: make(map[*websocket.Conn]struct{}),
	}
}

type wsMessage struct {
	Type string       `json:"type"`
	Data domain.Event `json:"data"`
}

func (h *Hub) Notify(ev domain.Event) {
	payload, err := json.Marshal(wsMessage{Type: string(ev.Kind()), Data: ev})
	if err != nil {
		h.log.Error("event marshal failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.drop(c)
		}
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.Close()
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Clients are push-only; the read loop just detects disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
