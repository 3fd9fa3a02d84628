package api

import (
	"encoding/json"
	"net/http"
)

// renderTemplateRequest is the body of POST /api/template.
type renderTemplateRequest struct {
	Template  string         `json:"template"`
	Variables map[string]any `json:"variables"`
}

// handleRenderTemplate answers POST /api/template with the rendered text.
func (s *Server) handleRenderTemplate(w http.ResponseWriter, r *http.Request) {
	if s.renderer == nil {
		writeUnavailable(w, "templates are not available")
		return
	}

	var req renderTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid JSON specified.")
		return
	}

	out, err := s.renderer.Render(req.Template, req.Variables)
	if err != nil {
		writeBadRequest(w, "Error rendering template: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // Best-effort write to response; connection may be closed
	w.Write([]byte(out))
}
