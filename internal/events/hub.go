// Package events broadcasts cluster membership and master-transition
// events to connected WebSocket clients, grounded directly on the teacher
// daemon's internal/websocket.MonitorHub. Purely observational: no node's
// correctness depends on whether any client is connected.
package events

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is one broadcast message.
type Event struct {
	Type      string    `json:"type"` // "peer_added" | "master_changed"
	Timestamp time.Time `json:"timestamp"`
	PeerID    string    `json:"peer_id,omitempty"`
	MasterID  string    `json:"master_id,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub manages WebSocket connections and fans out broadcast events to all
// of them.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

// NewHub builds a Hub. Run must be running in its own goroutine for
// connections to register: ServeWS blocks until Run accepts the
// connection, and broadcasts queue (up to the channel's buffer) until then.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run drives the hub's event loop until stop is closed.
func (h *Hub) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn] = true
			h.mu.Unlock()
			log.Printf("events: client connected, total %d", len(h.clients))
		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			log.Printf("events: client disconnected, total %d", len(h.clients))
		case ev := <-h.broadcast:
			h.mu.Lock()
			for conn := range h.clients {
				if err := conn.WriteJSON(ev); err != nil {
					log.Printf("events: write error: %v", err)
					conn.Close()
					delete(h.clients, conn)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast enqueues ev for delivery to every connected client. Non-blocking:
// if the channel is full the event is dropped and logged, never stalling
// the caller (membership.State's transition callback, or a transport
// handler goroutine).
func (h *Hub) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- ev:
	default:
		log.Printf("events: broadcast channel full, dropping event %+v", ev)
	}
}

// ServeWS upgrades r to a WebSocket and registers it with the hub. It
// implements transport.WebSocketUpgrader.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("events: upgrade failed: %v", err)
		return
	}
	h.register <- conn
	go h.drain(conn)
}

// drain discards anything a client sends (this is a push-only feed) until
// the connection closes, then unregisters it.
func (h *Hub) drain(conn *websocket.Conn) {
	defer func() { h.unregister <- conn }()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
