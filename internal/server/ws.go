package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/alfredjeanlab/eventpoll/internal/presence"
)

const (
	wsPing         = "ping"
	wsPong         = "pong"
	wsWriteTimeout = 10 * time.Second
)

// handleSubscribe handles GET /v1/ws. Each non-empty cycle arrives as one
// text message holding the JSON event array. A text "ping" is answered with
// "pong" without involving the poller.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	sub, err := s.hub.subscribe("websocket")
	if err != nil {
		s.logger.Error("failed to register subscriber", "err", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer s.hub.unsubscribe(sub)

	s.Presence.Record(presence.Activity{ID: sub.id, Transport: sub.transport, Remote: r.RemoteAddr, Kind: presence.KindConnect})
	defer s.Presence.Remove(sub.id)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readLoop(ctx, cancel, conn, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			conn.Close(websocket.StatusGoingAway, "idle timeout")
			return
		case msg := <-sub.ch:
			if err := writeText(ctx, conn, msg); err != nil {
				s.logger.Debug("websocket write failed", "id", sub.id, "err", err)
				return
			}
		}
	}
}

// readLoop answers probes until the peer goes away, then cancels ctx.
func (s *Server) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sub *subscriber) {
	defer cancel()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("websocket read failed", "id", sub.id, "err", err)
			}
			return
		}
		if typ == websocket.MessageText && string(data) == wsPing {
			s.Presence.Record(presence.Activity{ID: sub.id, Kind: presence.KindProbe})
			if err := writeText(ctx, conn, []byte(wsPong)); err != nil {
				return
			}
			continue
		}
		s.Presence.Record(presence.Activity{ID: sub.id, Kind: presence.KindMessage})
	}
}

func writeText(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
