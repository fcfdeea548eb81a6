// ABOUTME: JSON response helpers and the error-kind to HTTP status mapping
// ABOUTME: Unknown errors are logged and answered with a generic 500

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/todovex/internal/apperr"
	"github.com/2389/todovex/internal/store"
)

const msgInternal = "internal server error"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an error to an HTTP status. ok is false when the error has
// no kind the API knows how to present.
func statusFor(err error) (status int, ok bool) {
	switch apperr.KindOf(err) {
	case apperr.InvalidArgument:
		return http.StatusBadRequest, true
	case apperr.NotFound:
		return http.StatusNotFound, true
	case apperr.InvalidResponse, apperr.Upstream:
		return http.StatusBadGateway, true
	case apperr.ContextLength:
		return http.StatusRequestEntityTooLarge, true
	case apperr.Configuration:
		return http.StatusServiceUnavailable, true
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, true
	}
	return http.StatusInternalServerError, false
}

// writeError answers with the error's own message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, ok := statusFor(err)
	if !ok || status >= 500 {
		a.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	if !ok {
		sendJSONError(w, status, msgInternal)
		return
	}
	sendJSONError(w, status, apperr.Message(err))
}

// writeSuggestError answers suggestion failures with the presentation
// table's wording for scope.
func (a *API) writeSuggestError(w http.ResponseWriter, r *http.Request, scope apperr.Scope, err error) {
	status, ok := statusFor(err)
	if !ok {
		a.logger.Error("suggestion request failed", "path", r.URL.Path, "error", err)
		sendJSONError(w, status, msgInternal)
		return
	}
	sendJSONError(w, status, apperr.UserMessage(scope, err))
}
