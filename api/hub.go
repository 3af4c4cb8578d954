package api

import (
	"context"
	"encoding/json"
	"sync"

	"FaceVerify/logger"
	"FaceVerify/verify"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is what websocket clients receive after each verification.
type Event struct {
	Type   string         `json:"type"`
	Label  string         `json:"label"`
	Result *verify.Result `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Hub fans verification events out to websocket clients.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	mutex      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
	}
}

// Run serves register, unregister and broadcast requests until ctx is done,
// then closes every client. A Hub runs once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				_ = client.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				_ = client.Close()
				delete(h.clients, client)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mutex.Unlock()
			logger.Log().Info("websocket client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				_ = client.Close()
			}
			total := len(h.clients)
			h.mutex.Unlock()
			logger.Log().Info("websocket client disconnected", zap.Int("total", total))

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					logger.Log().Warn("websocket send failed", zap.Error(err))
					delete(h.clients, client)
					_ = client.Close()
				}
			}
			h.mutex.Unlock()
		}
	}
}

func (h *Hub) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		_ = client.Close()
	}
}

func (h *Hub) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues message for every client. A full queue drops it so the
// caller never blocks on slow clients.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	default:
		logger.Log().Warn("websocket broadcast queue full, event dropped")
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Observe broadcasts an attempt; it has the verify.Observer shape.
func (h *Hub) Observe(res *verify.Result, err error) {
	ev := Event{Type: "verification", Label: verify.Label(res, err), Result: res}
	if err != nil {
		ev.Error = err.Error()
	}
	msg, mErr := json.Marshal(ev)
	if mErr != nil {
		logger.Log().Error("encode websocket event", zap.Error(mErr))
		return
	}
	h.Broadcast(msg)
}
