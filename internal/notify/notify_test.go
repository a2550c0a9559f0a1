package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// recorder captures notifications for assertions.
type recorder struct {
	infos     []string
	conflicts []Conflict
}

func (r *recorder) Info(message string)  { r.infos = append(r.infos, message) }
func (r *recorder) Conflict(c Conflict) { r.conflicts = append(r.conflicts, c) }

func TestMulti_FansOut(t *testing.T) {
	a := &recorder{}
	b := &recorder{}
	m := NewMulti(a, b)

	m.Info(`Locked "bracket.3dm"`)
	m.Conflict(Conflict{File: "bracket.3dm", Owner: "alice"})

	for _, r := range []*recorder{a, b} {
		if len(r.infos) != 1 || r.infos[0] != `Locked "bracket.3dm"` {
			t.Errorf("Expected one info message, got %v", r.infos)
		}
		if len(r.conflicts) != 1 || r.conflicts[0].Owner != "alice" {
			t.Errorf("Expected one conflict, got %v", r.conflicts)
		}
	}
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleUpgrade))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHub_BroadcastsStatus(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn := dialHub(t, hub)

	// Wait for registration: the upgrade handler returns before the
	// server handler records the connection, so poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.conns)
		hub.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Info(`UnLocked "bracket.3dm"`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Kind != "status" || msg.Message != `UnLocked "bracket.3dm"` {
		t.Errorf("Unexpected message: %+v", msg)
	}
}

func TestHub_BroadcastsConflict(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn := dialHub(t, hub)

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.conns)
		hub.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	lockedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hub.Conflict(Conflict{File: "bracket.3dm", Owner: "alice", LockedAt: lockedAt})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}
	if msg.Kind != "conflict" || msg.Owner != "alice" || !msg.LockedAt.Equal(lockedAt) {
		t.Errorf("Unexpected message: %+v", msg)
	}
}

func TestHub_ConcurrentBroadcasts(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn := dialHub(t, hub)

	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.conns)
		hub.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Two documents closing at once broadcast from independent goroutines;
	// the subscriber must receive every message without a concurrent write
	// on the connection.
	const writers = 32
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				hub.Info(`UnLocked "bracket.3dm"`)
			} else {
				hub.Conflict(Conflict{File: "plate.3dm", Owner: "bob"})
			}
		}(i)
	}
	wg.Wait()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for i := 0; i < writers; i++ {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON failed after %d messages: %v", i, err)
		}
		if msg.Kind != "status" && msg.Kind != "conflict" {
			t.Fatalf("Unexpected message kind %q", msg.Kind)
		}
	}
}
