// Package httputil holds the small HTTP helpers shared by the API
// handlers.
package httputil

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// WriteJSON writes v as a JSON response. Encoding failures are logged;
// by then the status line is already on the wire.
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// DecodeJSONBody decodes a request body into v. Unknown fields are
// ignored, matching the query-parameter decoder.
func DecodeJSONBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}
