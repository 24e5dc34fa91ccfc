// Package httputil holds the JSON response helpers for the ops surface.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "ledgerd/pkg/domain-errors"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteError maps a domain error to an HTTP response. Internal errors never
// leak their message to the client.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)

	body := errorBody{Error: string(code)}
	status := http.StatusInternalServerError

	switch code {
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
		body.Description = err.Error()
	case dErrors.CodeInvalidInput:
		status = http.StatusBadRequest
		body.Description = err.Error()
	case dErrors.CodeInvariantViolation:
		status = http.StatusConflict
		body.Description = err.Error()
	case dErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	default:
		body.Error = string(dErrors.CodeInternal)
	}

	WriteJSON(w, status, body)
}
