package httpapi

import (
	"net/http"
	"time"

	"github.com/harryaskham/io-mcp/pkg/models"
)

const keepaliveInterval = 15 * time.Second

func newMessageEvent(sessionID, text string) models.Event {
	return models.NewEvent(models.EventSettingsChanged, sessionID, map[string]any{"pending_message": text})
}

// handleEvents implements `GET /api/events`: on connect,
// immediately send a `connected` event, then forward every subsequent
// publish to this subscriber's queue until the client disconnects. Uses
// a flusher plus http.NewResponseController write-deadline resets to
// keep the connection alive.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	rc := http.NewResponseController(w)

	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	connected := models.NewEvent(models.EventType("connected"), "", nil)
	if !writeSSEEvent(w, rc, flusher, connected) {
		return
	}

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if !writeSSEEvent(w, rc, flusher, ev) {
				return
			}
		case <-ticker.C:
			_ = rc.SetWriteDeadline(time.Now().Add(keepaliveInterval * 2))
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, rc *http.ResponseController, flusher http.Flusher, ev models.Event) bool {
	_ = rc.SetWriteDeadline(time.Now().Add(keepaliveInterval * 2))
	body, err := ev.ToSSE()
	if err != nil {
		return false
	}
	if _, err := w.Write(body); err != nil {
		return false
	}
	flusher.Flush()
	return true
}
