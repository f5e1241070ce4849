package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
//
// Requests that match no route are dispatched on their path: anything
// containing "ws" subscribes, anything containing "reset" resets, and
// everything else triggers a cycle.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ws", s.handleSubscribe)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("POST /v1/reset", s.handleReset)
	mux.HandleFunc("POST /v1/trigger", s.handleTrigger)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/subscribers", s.handleSubscribers)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("/", s.handleFallback)
	return AuthMiddleware(authToken, mux)
}

func (s *Server) handleFallback(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.Contains(r.URL.Path, "ws"):
		s.handleSubscribe(w, r)
	case strings.Contains(r.URL.Path, "reset"):
		s.handleReset(w, r)
	default:
		s.handleTrigger(w, r)
	}
}

// handleTrigger handles POST /v1/trigger. Cycle failures are logged by the
// engine and never surface to the caller.
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	started, err := s.poller.Trigger(r.Context())
	if err != nil {
		s.logger.Warn("triggered cycle failed", "err", err)
	} else if !started {
		s.logger.Debug("trigger ignored, poller busy")
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReset handles POST /v1/reset.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.poller.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "reset failed: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus handles GET /v1/status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.poller.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"poller":      st,
		"subscribers": s.hub.Len(),
	})
}

// handleSubscribers handles GET /v1/subscribers.
// Optional stale_threshold_secs hides subscribers silent for longer.
func (s *Server) handleSubscribers(w http.ResponseWriter, r *http.Request) {
	var stale time.Duration
	if v := r.URL.Query().Get("stale_threshold_secs"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 0 {
			writeError(w, http.StatusBadRequest, "stale_threshold_secs must be a non-negative integer")
			return
		}
		stale = time.Duration(secs) * time.Second
	}
	entries := s.Presence.Roster(stale)
	writeJSON(w, http.StatusOK, map[string]any{
		"subscribers": entries,
		"count":       len(entries),
	})
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
