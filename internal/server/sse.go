package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alfredjeanlab/eventpoll/internal/presence"
)

// sseKeepaliveInterval is how often keepalive comments are sent to
// prevent connection timeouts.
const sseKeepaliveInterval = 15 * time.Second

// handleEventStream handles GET /v1/events/stream (SSE endpoint). It is a
// read-only subscriber receiving the same broadcasts as /v1/ws.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub, err := s.hub.subscribe("sse")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}
	defer s.hub.unsubscribe(sub)

	s.Presence.Record(presence.Activity{ID: sub.id, Transport: sub.transport, Remote: r.RemoteAddr, Kind: presence.KindConnect})
	defer s.Presence.Remove(sub.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case msg := <-sub.ch:
			if err := writeSSEEvent(w, msg); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, ":keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
			s.Presence.Record(presence.Activity{ID: sub.id, Kind: presence.KindKeepalive})
		}
	}
}

// writeSSEEvent writes one broadcast as an "events" event. Each line of the
// payload becomes its own data field.
func writeSSEEvent(w io.Writer, data []byte) error {
	var b strings.Builder
	b.WriteString("event:events\n")
	for _, line := range strings.Split(string(data), "\n") {
		fmt.Fprintf(&b, "data:%s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
