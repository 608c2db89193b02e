package handlers

import (
	"encoding/json"
	"net/http"

	"phonereset/internal/apperror"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONErrorResponse(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
		"code":    code,
	})
}

// writeAppError renders any error as the standard JSON error body. Causes
// are never exposed to the client.
func writeAppError(w http.ResponseWriter, err error) {
	appErr := apperror.As(err)
	writeJSONErrorResponse(w, appErr.HTTPStatus, string(appErr.Code), appErr.Message)
}
