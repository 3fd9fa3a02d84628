package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/state"
)

// setStateRequest is the body of POST /api/states/{entity_id}.
type setStateRequest struct {
	State      *string        `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// handleListStates answers GET /api/states.
func (s *Server) handleListStates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.states.List(state.Filter{}))
}

// handleGetState answers GET /api/states/{entity_id}.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	st, err := s.states.Get(chi.URLParam(r, "entity_id"))
	if err != nil {
		writeNotFound(w, "Entity not found.")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleSetState answers POST /api/states/{entity_id}: 201 on create, 200 on update.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entity_id")
	if !core.ValidEntityID(entityID) {
		writeBadRequest(w, "Invalid entity ID specified.")
		return
	}

	var req setStateRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON specified.")
		return
	}
	if req.State == nil {
		writeBadRequest(w, "No state specified.")
		return
	}
	st, created, err := s.states.Set(r.Context(), entityID, *req.State, req.Attributes)
	if err != nil {
		if errors.Is(err, core.ErrInvalidEntityID) {
			writeBadRequest(w, "Invalid entity ID specified.")
			return
		}
		s.logger.Error("setting state failed", "entity_id", entityID, "error", err)
		writeInternalError(w, "failed to set state")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", fmt.Sprintf("/api/states/%s", entityID))
	}
	writeJSON(w, status, st)
}

// handleDeleteState answers DELETE /api/states/{entity_id}.
func (s *Server) handleDeleteState(w http.ResponseWriter, r *http.Request) {
	if !s.states.Delete(r.Context(), chi.URLParam(r, "entity_id")) {
		writeNotFound(w, "Entity not found.")
		return
	}
	writeMessage(w, http.StatusOK, "Entity removed.")
}
