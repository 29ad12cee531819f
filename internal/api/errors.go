// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/StagOS/android-system-apex/internal/activation"
	"github.com/StagOS/android-system-apex/internal/apex"
	"github.com/StagOS/android-system-apex/internal/hooks"
	"github.com/StagOS/android-system-apex/internal/session/lifecycle"
	"github.com/StagOS/android-system-apex/internal/session/store"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOK writes the success envelope, optionally with a payload.
func writeOK(w http.ResponseWriter, payload map[string]any) {
	body := map[string]any{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	writeJSON(w, http.StatusOK, body)
}

// writeError maps a typed domain error to an HTTP status and the failure
// envelope. Every mutating operation reports a simple "did it work" plus a
// human-readable message.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// writeBadRequest rejects malformed request bodies.
func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// writeNotFound writes a 404 Not Found response.
func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"success": false,
		"error":   "not found",
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrUnknownSession):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrWrongState), errors.Is(err, lifecycle.ErrConflictingSession):
		return http.StatusConflict
	case errors.Is(err, apex.ErrVerification):
		return http.StatusBadRequest
	case errors.Is(err, activation.ErrActivation), errors.Is(err, hooks.ErrHook), errors.Is(err, store.ErrStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
