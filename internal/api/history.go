package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/recorder"
)

const (
	// defaultHistoryPeriod applies when no start timestamp is given.
	defaultHistoryPeriod = 24 * time.Hour

	// maxQueryParamLen bounds entity filter lists.
	maxQueryParamLen = 4096
)

// minimalState is the reduced row minimal_response returns after the first.
type minimalState struct {
	State       string `json:"state"`
	LastChanged string `json:"last_changed"`
}

// handleHistory answers GET /api/history/period[/{timestamp}].
//
// Query parameters: filter_entity_id (comma separated), end_time,
// minimal_response, no_attributes.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeUnavailable(w, "recorder is not enabled")
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

	filter := q.Get("filter_entity_id")
	if len(filter) > maxQueryParamLen {
		writeBadRequest(w, "filter_entity_id is too long")
		return
	}
	var ids []string
	for _, id := range strings.Split(filter, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, strings.ToLower(id))
		}
	}

	_, noAttrs := q["no_attributes"]
	_, minimal := q["minimal_response"]

	history, err := s.recorder.History(r.Context(), recorder.Query{
		EntityIDs:    ids,
		Start:        start,
		End:          end,
		NoAttributes: noAttrs,
	})
	if err != nil {
		if errors.Is(err, recorder.ErrInvalidQuery) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w, "failed to query history")
		return
	}

	if !minimal {
		writeJSON(w, http.StatusOK, history)
		return
	}
	writeJSON(w, http.StatusOK, minimize(history))
}

// minimize keeps the first row of each series whole and reduces the rest
// to state and last_changed.
func minimize(history [][]core.EntityState) [][]any {
	out := make([][]any, 0, len(history))
	for _, series := range history {
		rows := make([]any, 0, len(series))
		for i, st := range series {
			if i == 0 {
				rows = append(rows, st)
				continue
			}
			rows = append(rows, minimalState{State: st.State, LastChanged: core.FormatTime(st.LastChanged)})
		}
		out = append(out, rows)
	}
	return out
}

// parseTimestamp accepts RFC 3339 with or without fractional seconds.
func parseTimestamp(raw string) (time.Time, error) {
	// A '+' in a query string arrives as a space.
	raw = strings.ReplaceAll(raw, " ", "+")
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05.999999", raw)
}
