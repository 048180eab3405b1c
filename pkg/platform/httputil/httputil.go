// Package httputil renders JSON bodies and domain errors for HTTP handlers.
package httputil

import (
	"encoding/json"
	"net/http"

	dErrors "github.com/ebellera/SSO/pkg/domain-errors"
)

// ErrorResponse is the wire shape of every failure.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and a stable error code. Errors without a
// domain code, and internal errors, never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	de, ok := dErrors.As(err)
	if !ok {
		de = dErrors.New(dErrors.CodeInternal, "internal error")
	}

	resp := ErrorResponse{Error: string(de.Code), Description: de.Message}
	if de.Code == dErrors.CodeInternal {
		resp.Description = ""
	}
	WriteJSON(w, StatusFor(de.Code), resp)
}

// StatusFor returns the HTTP status for a domain error code.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeForbiddenOrigin:
		return http.StatusBadRequest
	case dErrors.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case dErrors.CodeUnauthorized, dErrors.CodeForbidden, dErrors.CodeUnknownPolicy:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
