// Package bridge exposes the coordinator to host editor plugins over a
// loopback HTTP listener. The plugin posts open/close events and subscribes
// to a websocket for status messages and conflict dialogs.
package bridge

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/cadvault/drivelock/internal/coordinator"
	"github.com/cadvault/drivelock/internal/notify"
	"github.com/cadvault/drivelock/internal/remote"
)

// EventHandler is the coordinator surface the bridge drives.
type EventHandler interface {
	OnFileOpened(ctx context.Context, path string, imported bool) coordinator.Result
	OnFileClosed(ctx context.Context, path string) coordinator.Result
}

// Server handles plugin requests.
type Server struct {
	handler   EventHandler
	remote    remote.Client
	hub       *notify.Hub
	jwtSecret string
}

// NewServer creates a bridge Server.
func NewServer(handler EventHandler, client remote.Client, hub *notify.Hub, jwtSecret string) *Server {
	return &Server{
		handler:   handler,
		remote:    client,
		hub:       hub,
		jwtSecret: jwtSecret,
	}
}

// Routes returns the bridge's HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events/opened", s.requireAuth(s.handleOpened))
	mux.HandleFunc("POST /events/closed", s.requireAuth(s.handleClosed))
	mux.HandleFunc("GET /locks", s.requireAuth(s.handleLockStatus))
	mux.HandleFunc("GET /notifications", s.requireAuth(s.hub.HandleUpgrade))
	return mux
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := parseToken(token, s.jwtSecret); err != nil {
			log.Printf("bridge: rejected request: %v", err)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// openedRequest is the body of POST /events/opened.
type openedRequest struct {
	Path     string `json:"path"`
	Imported bool   `json:"imported"`
}

// closedRequest is the body of POST /events/closed.
type closedRequest struct {
	Path string `json:"path"`
}

// eventResponse reports how the coordinator classified the event. Handler
// failures are carried here, never as HTTP errors: the plugin must not
// treat a backend hiccup as a failed document open.
type eventResponse struct {
	Outcome coordinator.Outcome `json:"outcome"`
	Error   string              `json:"error,omitempty"`
}

func (s *Server) handleOpened(w http.ResponseWriter, r *http.Request) {
	var req openedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res := s.handler.OnFileOpened(r.Context(), req.Path, req.Imported)
	writeResult(w, res)
}

func (s *Server) handleClosed(w http.ResponseWriter, r *http.Request) {
	var req closedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res := s.handler.OnFileClosed(r.Context(), req.Path)
	writeResult(w, res)
}

// lockStatusResponse is the body of GET /locks.
type lockStatusResponse struct {
	Tracked bool   `json:"tracked"`
	Locked  bool   `json:"locked"`
	Owner   string `json:"owner,omitempty"`
	Since   int64  `json:"since,omitempty"`
}

func (s *Server) handleLockStatus(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "Missing path", http.StatusBadRequest)
		return
	}

	tracked, err := s.remote.Contains(r.Context(), path)
	if err != nil {
		http.Error(w, "Failed to query backend", http.StatusBadGateway)
		return
	}

	resp := lockStatusResponse{Tracked: tracked}
	if tracked {
		lock, err := s.remote.GetFileInfo(r.Context(), path)
		if err != nil {
			http.Error(w, "Failed to query backend", http.StatusBadGateway)
			return
		}
		if lock != nil {
			resp.Locked = true
			resp.Owner = lock.OwnerName
			if resp.Owner == "" {
				resp.Owner = lock.Owner
			}
			resp.Since = lock.AcquiredAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeResult(w http.ResponseWriter, res coordinator.Result) {
	resp := eventResponse{Outcome: res.Outcome}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("bridge: write response: %v", err)
	}
}
