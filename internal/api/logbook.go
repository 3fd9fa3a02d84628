package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/logbook"
)

// logbookEntry is the wire form of one entry.
type logbookEntry struct {
	When      string `json:"when"`
	Name      string `json:"name"`
	Message   string `json:"message"`
	Domain    string `json:"domain,omitempty"`
	EntityID  string `json:"entity_id,omitempty"`
	State     string `json:"state,omitempty"`
	EventType string `json:"context_event_type,omitempty"`
	UserID    string `json:"context_user_id,omitempty"`
	Source    string `json:"source,omitempty"`
}

// handleLogbook answers GET /api/logbook[/{timestamp}].
//
// Query parameters: entity, end_time.
func (s *Server) handleLogbook(w http.ResponseWriter, r *http.Request) {
	if s.logbook == nil {
		writeUnavailable(w, "logbook is not enabled")
		return
	}

	now := time.Now()
	start := now.Add(-defaultHistoryPeriod)
	if raw := chi.URLParam(r, "timestamp"); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			writeBadRequest(w, "Invalid datetime")
			return
		}
		start = t
	}

	q := r.URL.Query()
	end := now
	if raw := q.Get("end_time"); raw != "" {
		t, err := parseTimestamp(raw)
		if err != nil {
			writeBadRequest(w, "Invalid end_time")
			return
		}
		end = t
	}

	entries, err := s.logbook.Entries(r.Context(), logbook.Filter{
		Start:    start,
		End:      end,
		EntityID: strings.ToLower(strings.TrimSpace(q.Get("entity"))),
	})
	if err != nil {
		if errors.Is(err, logbook.ErrInvalidFilter) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("logbook query failed", "error", err)
		writeInternalError(w, "failed to query logbook")
		return
	}

	out := make([]logbookEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, logbookEntry{
			When:      core.FormatTime(e.When),
			Name:      e.Name,
			Message:   e.Message,
			Domain:    e.Domain,
			EntityID:  e.EntityID,
			State:     e.State,
			EventType: e.EventType,
			UserID:    e.UserID,
			Source:    e.Source,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
