// Package server exposes the session registry over a local HTTP control
// API plus a WebSocket event stream, so the status, stop and list commands
// can talk to a running daemon.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rdevtools/rdev/internal/domain"
	"github.com/rdevtools/rdev/internal/domain/events"
	"github.com/rdevtools/rdev/internal/domain/ports"
	"github.com/rdevtools/rdev/internal/hub"
	"github.com/rdevtools/rdev/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The control API binds to loopback; origins are not meaningful there.
		return true
	},
}

// Server is the local control API for a running daemon.
type Server struct {
	registry *session.Registry
	hub      ports.EventHub

	addr       string
	httpServer *http.Server

	mu          sync.Mutex
	connections int
}

// New creates a control server bound to addr.
func New(addr string, registry *session.Registry, eventHub ports.EventHub) *Server {
	return &Server{
		registry: registry,
		hub:      eventHub,
		addr:     addr,
	}
}

// Router builds the control API routes. Exposed for in-process tests.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions", s.handleStartSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleStopSession).Methods("DELETE")

	// WebSocket event stream, optionally filtered to one session.
	router.HandleFunc("/ws", s.handleWebSocket)

	return router
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("starting control server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("control server error")
		}
	}()

	return nil
}

// Stop shuts the HTTP server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	log.Info().Msg("stopping control server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "rdev",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.registry.List(),
	})
}

// StartSessionRequest is the POST /api/sessions body.
type StartSessionRequest struct {
	Name                string   `json:"name,omitempty"`
	Server              string   `json:"server"`
	LocalPath           string   `json:"local_path"`
	RemotePath          string   `json:"remote_path"`
	RemoteWorkDir       string   `json:"remote_working_dir,omitempty"`
	Mode                string   `json:"mode"`
	Command             string   `json:"command"`
	Excludes            []string `json:"exclude,omitempty"`
	Method              string   `json:"method,omitempty"`
	DeleteExtra         bool     `json:"delete_remote_extra,omitempty"`
	DebounceMS          int      `json:"debounce_ms,omitempty"`
	PollIntervalSeconds int      `json:"poll_interval_seconds,omitempty"`
	LogLines            int      `json:"log_lines,omitempty"`
	FollowSeconds       int      `json:"follow_seconds,omitempty"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	snap, err := s.registry.Start(session.StartOptions{
		Name:                req.Name,
		Server:              req.Server,
		LocalPath:           req.LocalPath,
		RemotePath:          req.RemotePath,
		RemoteWorkDir:       req.RemoteWorkDir,
		Mode:                req.Mode,
		Command:             req.Command,
		Excludes:            req.Excludes,
		Method:              req.Method,
		DeleteExtra:         req.DeleteExtra,
		DebounceMS:          req.DebounceMS,
		PollIntervalSeconds: req.PollIntervalSeconds,
		LogLines:            req.LogLines,
		FollowSeconds:       req.FollowSeconds,
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			s.respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	refresh := r.URL.Query().Get("refresh") == "true"

	snap, err := s.registry.Status(id, refresh)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stopRemote := r.URL.Query().Get("stop_remote") == "true"
	signal := r.URL.Query().Get("signal")

	snap, killResult, err := s.registry.Stop(id, stopRemote, signal)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			s.respondError(w, http.StatusNotFound, err.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := map[string]interface{}{"session": snap}
	if killResult != nil {
		resp["kill_result"] = killResult
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// streamControlMessage is a client frame adjusting the event filter of an
// open /ws connection.
type streamControlMessage struct {
	Action    string `json:"action"` // subscribe, unsubscribe or subscribe_all
	SessionID string `json:"session_id,omitempty"`
}

// handleWebSocket streams hub events as JSON frames. The session_id query
// parameter narrows the initial stream to one session; clients can adjust
// the filter afterwards with subscribe/unsubscribe/subscribe_all control
// frames, each acknowledged with a subscription event. Global events
// always pass the filter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.connections++
	connID := s.connections
	s.mu.Unlock()

	sub := hub.NewChannelSubscriber(fmt.Sprintf("ws-%d", connID), 64)
	filtered := hub.NewFilteredSubscriber(sub)
	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		filtered.SubscribeSession(sessionID)
	}

	s.hub.Subscribe(filtered)
	defer s.hub.Unsubscribe(filtered.ID())

	log.Info().Int("connection", connID).Msg("websocket client connected")

	// Read loop: control frames adjust the filter; acknowledgements go
	// through the inner subscriber so they bypass the filter and share
	// the single writer below.
	go func() {
		defer func() { _ = sub.Close() }()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg streamControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			switch msg.Action {
			case "subscribe":
				if msg.SessionID == "" {
					continue
				}
				filtered.SubscribeSession(msg.SessionID)
			case "unsubscribe":
				if msg.SessionID == "" {
					continue
				}
				filtered.UnsubscribeSession(msg.SessionID)
			case "subscribe_all":
				filtered.SubscribeAll()
			default:
				continue
			}
			_ = sub.Send(events.NewSubscriptionEvent(filtered.IsFiltering(), filtered.SubscribedSessions()))
		}
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			data, err := event.ToJSON()
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = sub.Close()
				return
			}
		case <-sub.Done():
			return
		}
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]interface{}{
		"error": message,
	})
}
