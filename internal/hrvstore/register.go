// Package hrvstore persists HRV readings and serves them over HTTP.
package hrvstore

import (
	"database/sql"
	"net/http"

	"github.com/oliverhazley/MindMend/internal/hrvstore/controller"
	"github.com/oliverhazley/MindMend/internal/hrvstore/repository"
	"github.com/oliverhazley/MindMend/internal/httpapi"
)

func RegisterFeature(mux *http.ServeMux, db *sql.DB, verifier httpapi.TokenVerifier) {
	hrvRepository := repository.NewRepository(db)
	hrvController := controller.NewHRVController(hrvRepository)
	hrvController.RegisterRoutes(mux, func(h http.Handler) http.Handler {
		return httpapi.RequireAuth(verifier, h)
	})
}
