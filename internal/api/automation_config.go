package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
)

// configStore returns the automation file store, or nil when automations
// are not editable.
func (s *Server) configStore() *automation.FileStore {
	if s.automations == nil {
		return nil
	}
	return s.automations.Store()
}

// handleGetAutomationConfig returns one raw automation definition.
func (s *Server) handleGetAutomationConfig(w http.ResponseWriter, r *http.Request) {
	store := s.configStore()
	if store == nil {
		writeUnavailable(w, "automation config is not enabled")
		return
	}
	raw, err := store.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Resource not found")
			return
		}
		s.logger.Error("reading automation config failed", "error", err)
		writeInternalError(w, "failed to read automation config")
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

// handleSaveAutomationConfig validates, stores and reloads.
func (s *Server) handleSaveAutomationConfig(w http.ResponseWriter, r *http.Request) {
	store := s.configStore()
	if store == nil {
		writeUnavailable(w, "automation config is not enabled")
		return
	}
	raw, err := decodeJSONObject(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Message format incorrect: "+err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := store.Put(id, raw); err != nil {
		if errors.Is(err, automation.ErrInvalidConfig) {
			writeMessage(w, http.StatusBadRequest, "Message malformed: "+err.Error())
			return
		}
		s.logger.Error("writing automation config failed", "automation", id, "error", err)
		writeInternalError(w, "failed to write automation config")
		return
	}
	s.reloadAutomations(r)
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// handleDeleteAutomationConfig removes a definition and reloads.
func (s *Server) handleDeleteAutomationConfig(w http.ResponseWriter, r *http.Request) {
	store := s.configStore()
	if store == nil {
		writeUnavailable(w, "automation config is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := store.Delete(id); err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeMessage(w, http.StatusNotFound, "Resource not found")
			return
		}
		s.logger.Error("deleting automation config failed", "automation", id, "error", err)
		writeInternalError(w, "failed to delete automation config")
		return
	}
	s.reloadAutomations(r)
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func (s *Server) reloadAutomations(r *http.Request) {
	if err := s.automations.Reload(r.Context()); err != nil {
		s.logger.Error("reloading automations failed", "error", err)
	}
}
