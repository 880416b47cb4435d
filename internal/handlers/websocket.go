package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
)

// WebSocketHub manages active WebSocket connections and broadcasts sync
// lifecycle events to them. It satisfies interfaces.Notifier.
type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.RWMutex
	logger     arbor.ILogger
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(logger arbor.ILogger) *WebSocketHub {
	hub := &WebSocketHub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		logger:     logger,
	}
	go hub.run()
	return hub
}

// run manages client connections and broadcasts
func (h *WebSocketHub) run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			h.mutex.Unlock()
			h.logger.Debug().Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
			}
			h.mutex.Unlock()
			h.logger.Debug().Msg("WebSocket client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.clients {
				err := client.WriteMessage(websocket.TextMessage, message)
				if err != nil {
					h.logger.Warn().Err(err).Msg("Failed to send WebSocket message")
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mutex.Unlock()

		case <-ticker.C:
			h.Publish("heartbeat", map[string]string{"status": "online"})
		}
	}
}

// Publish broadcasts a sync event to all connected clients.
func (h *WebSocketHub) Publish(event string, data interface{}) {
	msg := map[string]interface{}{
		"type":      event,
		"data":      data,
		"timestamp": time.Now().Unix(),
	}
	jsonData, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn().Err(err).Str("event", event).Msg("Failed to encode WebSocket event")
		return
	}

	select {
	case h.broadcast <- jsonData:
	default:
		// Slow consumers must not block a sync cycle
	}
}

// Upgrader for WebSocket connections
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketHandler handles WebSocket connection requests
func (h *WebSocketHub) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.register <- conn

	// Keep connection alive and handle messages
	go func() {
		defer func() {
			h.unregister <- conn
		}()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}
