package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/scene"
)

// handleGetSceneConfig returns a scene definition in the config file shape.
func (s *Server) handleGetSceneConfig(w http.ResponseWriter, r *http.Request) {
	if s.scenes == nil {
		writeUnavailable(w, "scenes are not enabled")
		return
	}
	sc, err := s.scenes.Registry().GetScene(chi.URLParam(r, "id"))
	if err != nil {
		if scene.IsNotFound(err) {
			writeMessage(w, http.StatusNotFound, "Resource not found")
			return
		}
		writeInternalError(w, "failed to load scene")
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// handleSaveSceneConfig creates or replaces a stored scene.
func (s *Server) handleSaveSceneConfig(w http.ResponseWriter, r *http.Request) {
	if s.scenes == nil {
		writeUnavailable(w, "scenes are not enabled")
		return
	}
	raw, err := decodeJSONObject(r)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "Message format incorrect: "+err.Error())
		return
	}
	raw["id"] = chi.URLParam(r, "id")

	sc, err := scene.Decode(raw)
	if err == nil {
		err = s.scenes.Save(r.Context(), sc)
	}
	if err != nil {
		if isSceneClientError(err) {
			writeMessage(w, http.StatusBadRequest, "Message malformed: "+err.Error())
			return
		}
		s.logger.Error("saving scene failed", "scene", raw["id"], "error", err)
		writeInternalError(w, "failed to save scene")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// handleDeleteSceneConfig removes a stored scene.
func (s *Server) handleDeleteSceneConfig(w http.ResponseWriter, r *http.Request) {
	if s.scenes == nil {
		writeUnavailable(w, "scenes are not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.scenes.Delete(r.Context(), id); err != nil {
		switch {
		case scene.IsNotFound(err):
			writeMessage(w, http.StatusNotFound, "Resource not found")
		case errors.Is(err, scene.ErrReadOnly):
			writeMessage(w, http.StatusBadRequest, "Scene is defined in the configuration file")
		default:
			s.logger.Error("deleting scene failed", "scene", id, "error", err)
			writeInternalError(w, "failed to delete scene")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func isSceneClientError(err error) bool {
	return errors.Is(err, scene.ErrInvalidScene) ||
		errors.Is(err, scene.ErrInvalidName) ||
		errors.Is(err, scene.ErrNoEntities) ||
		errors.Is(err, scene.ErrReadOnly)
}
