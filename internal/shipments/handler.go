package shipments

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sda-logistics/fleetsheet/internal/platform/httpx"
	"github.com/sda-logistics/fleetsheet/internal/shared"
)

// Handler manages shipment HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{code}", h.show)
	r.Post("/{id}/status", h.recordStatus)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.NotFound(w, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Unprocessable(w, err.Error())
	case errors.Is(err, ErrUnknownStatus), errors.Is(err, ErrLocationMissing), errors.Is(err, ErrRefNotFound):
		httpx.BadRequest(w, err.Error())
	case errors.Is(err, ErrTransient):
		httpx.Unavailable(w, "storage temporarily unavailable")
	default:
		h.logger.Error("shipment request failed", slog.Any("error", err))
		httpx.Internal(w)
	}
}

// create handles POST /shipments
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	sh, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sh)
}

// show handles GET /shipments/{code}
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	sh, err := h.service.GetByTrackingCode(r.Context(), code)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sh)
}

// recordStatus handles POST /shipments/{id}/status
func (h *Handler) recordStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.BadRequest(w, "invalid shipment id")
		return
	}

	var req RecordStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	sh, err := h.service.RecordStatus(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sh)
}

// list handles GET /shipments
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var req ListRequest

	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		status := Status(s)
		if !status.IsValid() {
			httpx.BadRequest(w, "unknown status filter")
			return
		}
		req.Status = &status
	}
	if s := q.Get("locality_id"); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			req.LocalityID = &id
		}
	}
	if s := q.Get("sheet_id"); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			req.SheetID = &id
		}
	}
	if s := q.Get("from"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			req.DateFrom = &t
		}
	}
	if s := q.Get("to"); s != "" {
		if t, err := time.Parse("2006-01-02", s); err == nil {
			req.DateTo = &t
		}
	}
	if s := q.Get("search"); s != "" {
		req.Search = &s
	}
	page, perPage := 1, shared.DefaultPerPage
	if s := q.Get("page"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			page = n
		}
	}
	if s := q.Get("per_page"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 1000 {
			perPage = n
		}
	}
	req.Limit = perPage
	req.Offset = shared.Pagination{Page: page, PerPage: perPage}.Offset()

	items, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ListResponse{
		Shipments:  items,
		Pagination: shared.NewPagination(page, perPage, total),
	})
}
