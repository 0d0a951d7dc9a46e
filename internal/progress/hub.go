package progress

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"wyckoff-trading-platform/internal/logging"
)

// wsClient is one WebSocket subscriber
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts progress updates to WebSocket clients. It implements Sink.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
	logger     *logging.Logger
}

// NewHub creates a hub; call Run in a goroutine before registering clients
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 4096),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		logger:     logging.WithComponent("progress_hub"),
	}
}

// Run pumps registrations and broadcasts
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Slow client; let unregister close it
					go func(c *wsClient) { h.unregister <- c }(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish broadcasts a progress update to all clients
func (h *Hub) Publish(update Update) {
	data, err := json.Marshal(update)
	if err != nil {
		h.logger.Error("failed to marshal progress update", "error", err.Error())
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast channel full, dropping progress update", "run_id", update.RunID)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve attaches an upgraded WebSocket connection to the hub and blocks
// pumping messages until the connection drops
func (h *Hub) Serve(conn *websocket.Conn) {
	defer conn.Close()
	client := &wsClient{conn: conn, send: make(chan []byte, 256)}
	h.register <- client

	go func() {
		defer func() {
			h.unregister <- client
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for message := range client.send {
		if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}
