// Package realtime streams capture and save events to connected device
// clients over websockets.
package realtime

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Event is one pipeline notification, scoped to a user.
type Event struct {
	UserID  string                 `json:"user_id"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

type client struct {
	conn   *websocket.Conn
	userID string
}

// Hub fans pipeline events out to the websocket connections of the user they
// concern.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*websocket.Conn]*client
	broadcast  chan Event
	register   chan *client
	unregister chan *websocket.Conn
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan Event, 64),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
	}
}

// Run processes registrations and broadcasts until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			h.mu.Unlock()
			log.Printf("realtime: client connected, total %d", h.ClientCount())

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			message, err := json.Marshal(event)
			if err != nil {
				log.Printf("realtime: failed to marshal event: %v", err)
				continue
			}
			var dead []*websocket.Conn
			h.mu.RLock()
			for conn, c := range h.clients {
				if c.userID != event.UserID {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					log.Printf("realtime: failed to send event: %v", err)
					dead = append(dead, conn)
				}
			}
			h.mu.RUnlock()
			if len(dead) > 0 {
				h.mu.Lock()
				for _, conn := range dead {
					if _, ok := h.clients[conn]; ok {
						delete(h.clients, conn)
						conn.Close()
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Register attaches a connection for the given user.
func (h *Hub) Register(conn *websocket.Conn, userID string) {
	h.register <- &client{conn: conn, userID: userID}
}

// Unregister detaches and closes a connection.
func (h *Hub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// Publish queues an event for the user's connections. Non-blocking: if the
// hub is saturated the event is dropped, events are advisory.
func (h *Hub) Publish(userID, eventType string, payload map[string]interface{}) {
	select {
	case h.broadcast <- Event{UserID: userID, Type: eventType, Payload: payload}:
	default:
		log.Printf("realtime: event queue full, dropping %s for user %s", eventType, userID)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
