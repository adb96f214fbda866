// Package statusapi serves the gateway's live session over HTTP and websocket.
package statusapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oliverhazley/MindMend/internal/ble"
	"github.com/oliverhazley/MindMend/internal/httpapi"
	"github.com/oliverhazley/MindMend/internal/session"
)

// Session is the slice of *session.Session the API drives.
type Session interface {
	session.View
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Flush(ctx context.Context) (session.Reading, bool, error)
}

type flushResponse struct {
	Uploaded bool       `json:"uploaded"`
	HRVValue *float64   `json:"hrv_value,omitempty"`
	Time     *time.Time `json:"time,omitempty"`
}

type controller struct {
	session Session
	hub     *Hub
	logger  *slog.Logger
}

// NewHandler returns the gateway mux: GET /healthz plus the /api/session routes.
func NewHandler(s Session, hub *Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	c := &controller{session: s, hub: hub, logger: logger}
	mux := httpapi.NewMux(nil)
	mux.HandleFunc("GET /api/session", c.handleSnapshot)
	mux.HandleFunc("POST /api/session/connect", c.handleConnect)
	mux.HandleFunc("POST /api/session/disconnect", c.handleDisconnect)
	mux.HandleFunc("POST /api/session/flush", c.handleFlush)
	if hub != nil {
		mux.HandleFunc("GET /api/session/ws", c.handleWS)
	}
	return mux
}

func (c *controller) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteJSON(w, http.StatusOK, c.session.Snapshot())
}

func (c *controller) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := c.session.Connect(r.Context()); err != nil {
		c.logger.Warn("statusapi: connect failed", "error", err)
		httpapi.WriteError(w, connectErrorStatus(err), err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, c.session.Snapshot())
}

func (c *controller) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := c.session.Disconnect(r.Context()); err != nil {
		c.logger.Warn("statusapi: disconnect failed", "error", err)
		httpapi.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, c.session.Snapshot())
}

func (c *controller) handleFlush(w http.ResponseWriter, r *http.Request) {
	reading, uploaded, err := c.session.Flush(r.Context())
	switch {
	case errors.Is(err, session.ErrNotConnected):
		httpapi.WriteError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		c.logger.Warn("statusapi: flush failed", "error", err)
		httpapi.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := flushResponse{Uploaded: uploaded}
	if uploaded {
		resp.HRVValue = &reading.Value
		resp.Time = &reading.Time
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

func (c *controller) handleWS(w http.ResponseWriter, r *http.Request) {
	c.hub.serveWS(w, r, c.session.Snapshot())
}

func connectErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, ble.ErrTransportUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ble.ErrUserCancelled), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, ble.ErrLinkFailure), errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
