package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
)

// handleWebhook hands a webhook request to the automation engine. It always
// answers 200 so callers cannot probe which webhook ids exist.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhook_id")

	if s.automations != nil {
		if !s.automations.HandleWebhook(r.Context(), webhookID, webhookRequest(r)) {
			s.logger.Debug("webhook matched no automation", "webhook_id", webhookID)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// webhookRequest decodes the body as form data or JSON depending on the
// content type. A body that is neither is passed through as data.body.
func webhookRequest(r *http.Request) automation.WebhookRequest {
	req := automation.WebhookRequest{
		Method: r.Method,
		Query:  flatten(r.URL.Query()),
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 {
		return req
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if form, err := url.ParseQuery(string(body)); err == nil {
			req.Data = flatten(form)
		}
		return req
	}

	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		req.JSON = v
	} else {
		req.Data = map[string]any{"body": string(body)}
	}
	return req
}

// flatten keeps the first value of each key.
func flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
