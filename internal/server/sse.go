package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rendis/flowsketch/internal/streaming"
)

// handleSSEStats streams stats events. The current snapshot is sent first so
// a fresh page does not wait for the next change.
func (s *Server) handleSSEStats(w http.ResponseWriter, r *http.Request) {
	s.serveSSE(w, r, streaming.EventFilter{Topic: streaming.TopicStats}, true)
}

// serveSSE is the common SSE implementation.
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, filter streaming.EventFilter, withSnapshot bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if s.deps.Hub == nil {
		http.Error(w, "event hub not configured", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch, cancel, err := s.deps.Hub.Subscribe(r.Context(), filter)
	if err != nil {
		s.deps.Logger.Error("SSE subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.WriteHeader(http.StatusOK)
	if withSnapshot && s.deps.Stats != nil {
		if snap, err := s.deps.Stats.Snapshot(r.Context()); err == nil {
			writeSSE(w, "stats.snapshot", streaming.StreamEvent{
				Topic:     streaming.TopicStats,
				EventType: "stats.snapshot",
				Payload:   snap,
			})
		}
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event.EventType, event)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, event streaming.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}
