package controller

import (
	"net/http"
	"time"

	"github.com/oliverhazley/MindMend/internal/hrvstore/repository"
)

type HRVController interface {
	RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler)
}

type hrvControllerImpl struct {
	repository repository.HRVRepository
	now        func() time.Time
}

func NewHRVController(repository repository.HRVRepository) HRVController {
	return &hrvControllerImpl{repository: repository, now: time.Now}
}

// RegisterRoutes mounts the HRV endpoints. wrap is applied to every handler
// and is where authentication goes.
func (c *hrvControllerImpl) RegisterRoutes(mux *http.ServeMux, wrap func(http.Handler) http.Handler) {
	if wrap == nil {
		wrap = func(h http.Handler) http.Handler { return h }
	}
	mux.Handle("POST /api/hrv", wrap(http.HandlerFunc(c.handleAddReading)))
	mux.Handle("GET /api/hrv", wrap(http.HandlerFunc(c.handleReadings)))
}
