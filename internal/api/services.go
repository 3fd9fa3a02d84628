package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/service"
)

// handleListServices answers GET /api/services.
func (s *Server) handleListServices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.services.Services())
}

// handleCallService answers POST /api/services/{domain}/{service} with the
// states the call changed.
func (s *Server) handleCallService(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	svc := chi.URLParam(r, "service")

	data, err := decodeJSONObject(r)
	if err != nil {
		writeBadRequest(w, "Data should be valid JSON.")
		return
	}

	result, err := s.services.Call(r.Context(), domain, svc, nil, data)
	if err != nil {
		if errors.Is(err, service.ErrInvalidData) || errors.Is(err, service.ErrInvalidService) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Warn("service call failed", "service", domain+"."+svc, "error", err)
		writeInternalError(w, err.Error())
		return
	}

	changed := result.Changed
	if changed == nil {
		changed = []core.EntityState{}
	}
	writeJSON(w, http.StatusOK, changed)
}
