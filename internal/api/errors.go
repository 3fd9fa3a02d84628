package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// Error is the body of every non-2xx response. Message comes first so HA
// clients that only read "message" keep working.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeUnauthorized   = "unauthorized"
	ErrCodeNotFound       = "not_found"
	ErrCodeMethodNotAllow = "method_not_allowed"
	ErrCodeInternal       = "internal_error"
	ErrCodeUnavailable    = "service_unavailable"
)

var codeStatus = map[string]int{
	ErrCodeBadRequest:     http.StatusBadRequest,
	ErrCodeUnauthorized:   http.StatusUnauthorized,
	ErrCodeNotFound:       http.StatusNotFound,
	ErrCodeMethodNotAllow: http.StatusMethodNotAllowed,
	ErrCodeInternal:       http.StatusInternalServerError,
	ErrCodeUnavailable:    http.StatusServiceUnavailable,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // client may already be gone
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes an Error with the status that belongs to code.
// Unknown codes are answered as 500.
func writeError(w http.ResponseWriter, code, message string) {
	status, ok := codeStatus[code]
	if !ok {
		status, code = http.StatusInternalServerError, ErrCodeInternal
	}
	writeJSON(w, status, Error{Message: message, Code: code})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeInternal, message)
}

// writeUnavailable is the answer for optional features that are switched off.
func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeUnavailable, message)
}

// writeMessage writes a {"message": ...} body, the shape HA clients expect
// for acknowledgements.
func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// decodeJSONObject reads an optional JSON object body. An empty body is an empty map.
func decodeJSONObject(r *http.Request) (map[string]any, error) {
	data := map[string]any{}
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}
