// Package httpapi holds the HTTP plumbing shared by the HRV store and the
// gateway status API.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorResponse is the body of every non-2xx reply. Status repeats the HTTP
// code so a body that was logged or relayed still carries it.
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("httpapi: write JSON reply", "status", status, "error", err)
	}
}

// WriteError replies with an ErrorResponse. msg is shown to API clients, so
// it must not carry internal detail.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Status:  status,
		Message: msg,
	})
}
