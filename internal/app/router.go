package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sda-logistics/fleetsheet/internal/directory"
	"github.com/sda-logistics/fleetsheet/internal/sheets"
	"github.com/sda-logistics/fleetsheet/internal/shipments"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SheetHandler     *sheets.Handler
	ShipmentHandler  *shipments.Handler
	DirectoryHandler *directory.Handler
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(params.Config) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/sheets", params.SheetHandler.MountRoutes)
	r.Route("/shipments", params.ShipmentHandler.MountRoutes)
	r.Route("/drivers", params.SheetHandler.MountDriverRoutes)
	r.Route("/localities", params.DirectoryHandler.MountRoutes)

	return r
}
