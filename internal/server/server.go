// Package server exposes the poller's control surface: live subscriber
// transports (WebSocket and SSE), the trigger/reset/status routes, and a gRPC
// health endpoint.
package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/alfredjeanlab/eventpoll/internal/poller"
	"github.com/alfredjeanlab/eventpoll/internal/presence"
)

// Poller is the part of the engine the control routes drive.
type Poller interface {
	Trigger(ctx context.Context) (bool, error)
	Reset(ctx context.Context) error
	Status() poller.Status
}

// Server serves the HTTP control surface for one poller.
type Server struct {
	poller   Poller
	hub      *Hub
	Presence *presence.Tracker
	logger   *slog.Logger
}

// New returns a Server that drives p and registers subscribers on hub. The
// same hub must be handed to the engine's fan-out as a broadcaster.
func New(p Poller, hub *Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if hub == nil {
		hub = NewHub(logger)
	}
	return &Server{
		poller:   p,
		hub:      hub,
		Presence: presence.New(),
		logger:   logger,
	}
}

// Hub returns the subscriber registry.
func (s *Server) Hub() *Hub { return s.hub }

// StartReaper disconnects subscribers that stay silent for longer than idle.
// A zero idle disables reaping.
func (s *Server) StartReaper(idle time.Duration) {
	if idle <= 0 {
		return
	}
	s.Presence.StartReaper(&presence.ReaperConfig{
		DeadThreshold: idle,
		EvictAfter:    2 * idle,
		SweepInterval: sweepInterval(idle),
		OnDead: func(id string) {
			if s.hub.Disconnect(id) {
				s.logger.Info("disconnected idle subscriber", "id", id, "idle_timeout", idle)
			}
		},
	})
}

// Stop halts background work started by the server.
func (s *Server) Stop() {
	s.Presence.Stop()
}

func sweepInterval(idle time.Duration) time.Duration {
	d := idle / 4
	if d < time.Second {
		return time.Second
	}
	if d > 30*time.Second {
		return 30 * time.Second
	}
	return d
}
