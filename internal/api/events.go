// ABOUTME: Server-sent events endpoint streaming bus events as JSON envelopes
// ABOUTME: Every stream opens with a snapshot of all agents

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleEvents handles GET /api/events. ?agent=<id> limits the stream to
// events scoped to that agent.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.logger.Error("streaming not supported")
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()
	events, subID := s.stream.Subscribe(ctx, r.URL.Query().Get("agent"))
	defer s.stream.Unsubscribe(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSEEvent(w, s.snapshot())
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			s.writeSSEEvent(w, env)
			flusher.Flush()
		}
	}
}

func (s *Server) snapshot() Envelope {
	return Envelope{Kind: KindSnapshot, At: s.stream.now(), Data: s.views()}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (s *Server) writeSSEEvent(w http.ResponseWriter, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", env.Kind)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
