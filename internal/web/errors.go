package web

// errors.go provides unified error response handling for the web layer.
//
// All errors are logged with full technical detail server-side, keyed by
// the chi request ID, and returned to clients as JSON. Parse failures are
// not errors at this layer: they travel inside the slot snapshot with a
// mapped user message, so the HTTP status stays 200 and the client reads
// the slot state instead.

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// writeError writes a plain JSON error for request-shape problems that
// have no ingest category (bad slot ID, missing form field).
func writeError(w http.ResponseWriter, status int, message string) {
	slog.Error("request error", "status", status, "error", message)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
