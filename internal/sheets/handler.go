package sheets

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
	"github.com/sda-logistics/fleetsheet/internal/shipments"
)

// Handler manages delivery sheet HTTP endpoints.
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
	r.Get("/{id}", h.show)
	r.Patch("/{id}", h.update)
	r.Post("/{id}/confirm", h.confirm)
	r.Post("/{id}/close", h.close)
}

// MountDriverRoutes registers the driver-facing lookup.
func (h *Handler) MountDriverRoutes(r chi.Router) {
	r.Get("/{driverID}/sheets/today", h.todayForDriver)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, shipments.ErrNotFound):
		httpx.NotFound(w, err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
		httpx.Conflict(w, err.Error())
	case errors.Is(err, shipments.ErrInvalidTransition):
		httpx.Unprocessable(w, err.Error())
	case errors.Is(err, ErrEmptyShipments), errors.Is(err, ErrNotBookable), errors.Is(err, ErrRefNotFound):
		httpx.BadRequest(w, err.Error())
	case errors.Is(err, ErrTransient), errors.Is(err, shipments.ErrTransient):
		httpx.Unavailable(w, "storage temporarily unavailable")
	default:
		h.logger.Error("sheet request failed", slog.Any("error", err))
		httpx.Internal(w)
	}
}

func parseID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

// create handles POST /sheets
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

	sheet, err := h.service.CreatePreliminary(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sheet)
}

// update handles PATCH /sheets/{id}
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid sheet id")
		return
	}

	var req UpdateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	sheet, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

// confirm handles POST /sheets/{id}/confirm
func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid sheet id")
		return
	}

	var req ConfirmRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	result, err := h.service.Confirm(r.Context(), id, req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	// 207 when some shipment updates need remediation, 200 otherwise.
	status := http.StatusOK
	if len(result.Failed) > 0 {
		status = http.StatusMultiStatus
	}
	httpx.JSON(w, status, result)
}

// close handles POST /sheets/{id}/close
func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid sheet id")
		return
	}

	var req CloseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.BadRequest(w, "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.BadRequest(w, err.Error())
		return
	}

	sheet, err := h.service.Close(r.Context(), id, req, false)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

// show handles GET /sheets/{id}
func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		httpx.BadRequest(w, "invalid sheet id")
		return
	}
	sheet, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

// todayForDriver handles GET /drivers/{driverID}/sheets/today
func (h *Handler) todayForDriver(w http.ResponseWriter, r *http.Request) {
	driverID, err := parseID(r, "driverID")
	if err != nil {
		httpx.BadRequest(w, "invalid driver id")
		return
	}
	sheet, err := h.service.FindTodayForDriver(r.Context(), driverID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

// list handles GET /sheets
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var req ListRequest

	q := r.URL.Query()
	if s := q.Get("number"); s != "" {
		req.Number = &s
	}
	if s := q.Get("status"); s != "" {
		status := Status(s)
		if !status.IsValid() {
			httpx.BadRequest(w, "unknown status filter")
			return
		}
		req.Status = &status
	}
	if s := q.Get("driver_id"); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			req.DriverID = &id
		}
	}
	if s := q.Get("route_id"); s != "" {
		if id, err := strconv.ParseInt(s, 10, 64); err == nil {
			req.RouteID = &id
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
		Sheets:     items,
		Pagination: shared.NewPagination(page, perPage, total),
	})
}
