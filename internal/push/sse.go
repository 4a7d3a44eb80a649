package push

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dbehnke/js8chat/internal/chat"
)

// keepAliveInterval keeps idle event streams open through proxies
const keepAliveInterval = 25 * time.Second

// handleEvents streams hub frames as server-sent events. Each event is a
// single "data:" line holding the JSON envelope.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	status, err := NewFrame(chat.EventConnectionStatus, chat.ConnectionStatus{Connected: s.service.Connected()})
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", status.JSON()); err != nil {
		return
	}
	flusher.Flush()

	if s.config.Debug && s.logger != nil {
		s.logger.Printf("SSE client connected: %s", r.RemoteAddr)
	}

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame.JSON()); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
