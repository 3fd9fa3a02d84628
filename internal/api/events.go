package api

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/core"
)

// listenerCount is one entry of GET /api/events.
type listenerCount struct {
	Event         string `json:"event"`
	ListenerCount int    `json:"listener_count"`
}

// handleListEvents answers GET /api/events.
func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	listeners := s.bus.Listeners()
	out := make([]listenerCount, 0, len(listeners))
	for ev, n := range listeners {
		out = append(out, listenerCount{Event: ev, ListenerCount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	writeJSON(w, http.StatusOK, out)
}

// handleFireEvent answers POST /api/events/{event_type}. state_changed is
// reserved for the state store.
func (s *Server) handleFireEvent(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "event_type")
	if eventType == core.EventStateChanged {
		writeBadRequest(w, "state_changed events are fired by the state store only.")
		return
	}

	data, err := decodeJSONObject(r)
	if err != nil {
		writeBadRequest(w, "Event data should be valid JSON.")
		return
	}

	s.bus.Fire(r.Context(), eventType, data, core.OriginRemote)
	writeMessage(w, http.StatusOK, fmt.Sprintf("Event %s fired.", eventType))
}
