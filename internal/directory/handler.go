package directory

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sda-logistics/fleetsheet/internal/platform/httpx"
)

// LocalityReader is the slice of the directory the HTTP surface exposes.
type LocalityReader interface {
	GetLocality(ctx context.Context, id int64) (*Locality, error)
	SearchLocalities(ctx context.Context, query string) ([]Locality, error)
}

// Handler serves the locality lookup endpoints used by shipment intake
// forms.
type Handler struct {
	logger *slog.Logger
	svc    LocalityReader
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, svc LocalityReader) *Handler {
	return &Handler{logger: logger, svc: svc}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.search)
	r.Get("/{id}", h.show)
}

// search handles GET /localities?q=
func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	localities, err := h.svc.SearchLocalities(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.logger.Error("locality search failed", slog.Any("error", err))
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, SearchResponse{Localities: localities})
}

// show handles GET /localities/{id}
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.BadRequest(w, "invalid locality id")
		return
	}
	locality, err := h.svc.GetLocality(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.NotFound(w, err.Error())
			return
		}
		h.logger.Error("locality lookup failed", slog.Any("error", err))
		httpx.Internal(w)
		return
	}
	httpx.JSON(w, http.StatusOK, locality)
}

// SearchResponse is the payload of the locality search endpoint.
type SearchResponse struct {
	Localities []Locality `json:"localities"`
}
