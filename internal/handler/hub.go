// Package handler provides the HTTP and websocket presentation layer for
// Quill. Handlers stay thin: validation and authorization live in the
// services, and every surface refresh flows through the event hub.
package handler

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/domain"
	"github.com/prn-tf/quill/internal/repository"
)

// Event is one message pushed to connected clients.
type Event struct {
	// Type is "refresh" or "notification".
	Type string `json:"type"`

	// Articles and Stats accompany refresh events.
	Articles []*domain.Article `json:"articles,omitempty"`
	Stats    *repository.Stats `json:"stats,omitempty"`

	// Notification accompanies notification events.
	Notification *domain.Notification `json:"notification,omitempty"`
}

// Hub fans events out to websocket clients. It implements both the
// Renderer and Notifier contracts so services push to it directly.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]chan Event
}

// NewHub creates a new Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same-origin policy is the deployment's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger.With().Str("component", "hub").Logger(),
		clients: make(map[*websocket.Conn]chan Event),
	}
}

// Refresh implements service.Renderer by broadcasting the collection and
// stats to every connected client.
func (h *Hub) Refresh(articles []*domain.Article, stats repository.Stats) {
	h.broadcast(Event{Type: "refresh", Articles: articles, Stats: &stats})
}

// Notify implements domain.Notifier.
func (h *Hub) Notify(n domain.Notification) {
	h.broadcast(Event{Type: "notification", Notification: &n})
}

// broadcast never blocks; a client that cannot keep up drops events.
func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.clients {
		select {
		case ch <- ev:
		default:
		}
	}
}

// ServeWS upgrades the connection and streams events until the client
// disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	ch := make(chan Event, 16)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("websocket client connected")

	go h.writeLoop(conn, ch)
	h.readLoop(conn)
}

func (h *Hub) writeLoop(conn *websocket.Conn, ch chan Event) {
	for ev := range ch {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// readLoop drains the connection so pings and close frames are processed,
// and tears the client down on disconnect.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer func() {
		h.mu.Lock()
		if ch, ok := h.clients[conn]; ok {
			delete(h.clients, conn)
			close(ch)
		}
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
