package handlers

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/twannasleep/nerd-swap/internal/domain/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHandler pushes session snapshots over WebSocket whenever the state
// changes. A single fan-out goroutine consumes the service update channel
// and wakes every connected client; slow clients coalesce missed updates
// into one wake-up instead of queueing frames.
type StreamHandler struct {
	service *services.SwapService

	mu      sync.Mutex
	clients map[chan struct{}]struct{}
}

// NewStreamHandler creates the handler and starts the fan-out loop.
func NewStreamHandler(service *services.SwapService) *StreamHandler {
	h := &StreamHandler{
		service: service,
		clients: make(map[chan struct{}]struct{}),
	}
	go h.fanOut()
	return h
}

func (h *StreamHandler) fanOut() {
	for range h.service.Updates() {
		h.mu.Lock()
		for client := range h.clients {
			select {
			case client <- struct{}{}:
			default:
			}
		}
		h.mu.Unlock()
	}
}

func (h *StreamHandler) subscribe() chan struct{} {
	wake := make(chan struct{}, 1)
	h.mu.Lock()
	h.clients[wake] = struct{}{}
	h.mu.Unlock()
	return wake
}

func (h *StreamHandler) unsubscribe(wake chan struct{}) {
	h.mu.Lock()
	delete(h.clients, wake)
	h.mu.Unlock()
}

// Stream handles GET /api/v1/stream
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}

	wake := h.subscribe()
	defer h.unsubscribe(wake)
	defer conn.Close()

	// Reader only services control frames; clients never send data.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.writeSnapshot(conn); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-wake:
			if err := h.writeSnapshot(conn); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) writeSnapshot(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(h.service.Snapshot())
}
