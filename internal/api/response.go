package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/whatsadvisor/funnelbot/internal/models"
)

// fallbackError is marshaled once so an encoding failure at request time
// still produces valid JSON.
var fallbackError = []byte(`{"status":"error","message":"Internal server error"}`)

// writeJSONResponse marshals before touching the ResponseWriter so encoding
// errors can still change the status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response models.APIResponse) {
	body, err := json.Marshal(response)
	if err != nil {
		slog.Error("writeJSONResponse: failed to marshal response", "error", err)
		body = fallbackError
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("writeJSONResponse: failed to write response", "error", err)
	}
}
