package httpapi

import (
	"context"
	"log/slog"
	"net/http"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type healthchecker struct {
	db Pinger
}

func (h *healthchecker) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			slog.Error("failed to check database connectivity", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NewMux returns a mux with GET /healthz registered. A nil db makes the
// check unconditional.
func NewMux(db Pinger) *http.ServeMux {
	mux := http.NewServeMux()
	h := &healthchecker{db: db}
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	return mux
}
