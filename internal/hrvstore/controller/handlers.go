package controller

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/oliverhazley/MindMend/internal/httpapi"
)

const maxBodyBytes = 1 << 16

func (c *hrvControllerImpl) handleAddReading(w http.ResponseWriter, r *http.Request) {
	var body addReadingRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := body.validate(); err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !c.authorizeSelf(w, r, string(body.UserID)) {
		return
	}

	id, err := c.repository.InsertReading(r.Context(), string(body.UserID), c.now(), *body.HRVValue)
	if err != nil {
		slog.Error("store hrv reading failed", "user_id", string(body.UserID), "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, "server error storing HRV")
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, map[string]any{
		"message": "HRV reading stored",
		"hrv_id":  id,
	})
}

func (c *hrvControllerImpl) handleReadings(w http.ResponseWriter, r *http.Request) {
	userID, limit, err := parseReadingsQuery(r)
	if err != nil {
		httpapi.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !c.authorizeSelf(w, r, userID) {
		return
	}

	readings, err := c.repository.GetReadings(r.Context(), userID, limit)
	if err != nil {
		slog.Error("list hrv readings failed", "user_id", userID, "error", err)
		httpapi.WriteError(w, http.StatusInternalServerError, "server error reading HRV")
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, readings)
}

// authorizeSelf writes 403 unless the authenticated user owns userID.
// Requests that reach here without authentication are let through.
func (c *hrvControllerImpl) authorizeSelf(w http.ResponseWriter, r *http.Request, userID string) bool {
	caller, ok := httpapi.UserIDFromContext(r.Context())
	if !ok || caller == userID {
		return true
	}
	httpapi.WriteError(w, http.StatusForbidden, "you can only access your own data")
	return false
}
