package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/basket/genie/internal/bus"
)

// handleSSE implements GET /sse. Each connection owns one hub subscription
// for its lifetime; the handler goroutine drains it onto the wire.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := s.cfg.Hub.Subscribe()
	defer s.cfg.Hub.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	s.logger.DebugContext(ctx, "sse: client connected", "subscribers", s.cfg.Hub.SubscriberCount())
	keepAlive := time.NewTicker(s.cfg.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.DebugContext(ctx, "sse: client disconnected")
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case n, ok := <-sub.Ch():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", n.Encode()); err != nil {
				s.logger.DebugContext(ctx, "sse: write failed", "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

// handleTriggerSSE implements GET /api/trigger_sse?text=cmd&parms=a&parms=b,
// an operator hook that publishes an arbitrary notification.
func (s *Server) handleTriggerSSE(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	text := strings.TrimSpace(q.Get("text"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	params := q["parms"]
	if params == nil {
		params = []string{}
	}
	n := s.cfg.Hub.Publish(bus.Notification{Command: text, Parameters: params})
	writeJSON(w, http.StatusOK, map[string]any{"status": "sent", "message": text, "receivers": n})
}
