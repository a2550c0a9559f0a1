package notify

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Message is the wire format pushed to host plugins over the websocket.
type Message struct {
	Kind     string    `json:"kind"` // "status" or "conflict"
	Message  string    `json:"message,omitempty"`
	File     string    `json:"file,omitempty"`
	Owner    string    `json:"owner,omitempty"`
	LockedAt time.Time `json:"locked_at,omitempty"`
}

// subscriber serializes writes to one connection. gorilla/websocket allows
// at most one concurrent writer per connection, and broadcasts arrive from
// independent coordinator goroutines.
type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

// Hub implements Notifier over websocket connections from host plugins.
// The editor plugin renders "status" messages on its status line and
// "conflict" messages as a modal dialog.
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]*subscriber
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			// The bridge only listens on loopback.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]*subscriber),
	}
}

// HandleUpgrade upgrades an HTTP request to a websocket subscription.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("notify: websocket upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.conns[conn] = &subscriber{conn: conn}
	h.mu.Unlock()

	// Drain reads so pings and close frames are processed; drop the
	// connection on the first read error.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.drop(conn)
				return
			}
		}
	}()
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.conns))
	for _, s := range h.conns {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		if err := s.write(msg); err != nil {
			log.Printf("notify: dropping subscriber: %v", err)
			h.drop(s.conn)
		}
	}
}

// Info pushes a status message to every subscriber.
func (h *Hub) Info(message string) {
	h.broadcast(Message{Kind: "status", Message: message})
}

// Conflict pushes a conflict dialog request to every subscriber.
func (h *Hub) Conflict(c Conflict) {
	h.broadcast(Message{
		Kind:     "conflict",
		File:     c.File,
		Owner:    c.Owner,
		LockedAt: c.LockedAt,
	})
}

// Close drops all subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[*websocket.Conn]*subscriber)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
