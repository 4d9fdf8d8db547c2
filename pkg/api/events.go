package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// streamEvents serves broker events as server-sent events. The optional
// tenant_id and session_id query parameters filter on event metadata.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if s.deps.Events == nil || !ok {
		writeError(w, http.StatusNotImplemented, "not_configured", "event streaming is not available")
		return
	}

	tenantID := r.URL.Query().Get("tenant_id")
	sessionID := r.URL.Query().Get("session_id")

	sub := s.deps.Events.Subscribe()
	defer s.deps.Events.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if tenantID != "" && event.Metadata["tenant_id"] != tenantID {
				continue
			}
			if sessionID != "" && event.Metadata["session_id"] != sessionID {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.logger.Warn().Err(err).Msg("Failed to encode event")
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Type, data)
			flusher.Flush()
		}
	}
}
