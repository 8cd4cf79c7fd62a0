package rentals

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/rbac"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("rentals.view", "rentals.edit"))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("rentals.edit"))
		r.Post("/", h.create)
		r.Post("/{id}/pickup", h.pickup)
		r.Post("/{id}/extend", h.extend)
		r.Post("/{id}/return", h.returnRental)
		r.Post("/{id}/cancel", h.cancel)
	})
}

type rentalLineRequest struct {
	ItemID   int64 `json:"item_id" validate:"required,gt=0"`
	Quantity int   `json:"quantity" validate:"required,gt=0"`
}

type rentalRequest struct {
	CustomerID int64               `json:"customer_id" validate:"required,gt=0"`
	LocationID int64               `json:"location_id" validate:"required,gt=0"`
	StartDate  string              `json:"start_date" validate:"required"`
	EndDate    string              `json:"end_date" validate:"required"`
	Notes      string              `json:"notes" validate:"max=1000"`
	Lines      []rentalLineRequest `json:"lines" validate:"required,min=1,max=50,dive"`
}

type extendRequest struct {
	EndDate string `json:"end_date" validate:"required"`
}

type returnLineRequest struct {
	UnitID       int64           `json:"unit_id" validate:"required,gt=0"`
	Condition    string          `json:"condition" validate:"required,oneof=OK DAMAGED"`
	DamageCharge decimal.Decimal `json:"damage_charge"`
	Note         string          `json:"note" validate:"max=500"`
}

type returnRequest struct {
	ReturnedAt string              `json:"returned_at"`
	Lines      []returnLineRequest `json:"lines" validate:"required,min=1,max=200,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Page:       shared.ParsePageRequest(r),
		CustomerID: queryInt64(q.Get("customer_id")),
		LocationID: queryInt64(q.Get("location_id")),
	}
	if raw := q.Get("status"); raw != "" {
		status := Status(raw)
		if !ValidStatus(status) {
			httpx.Error(w, r, httpx.NewValidationError("status", "unknown rental status"))
			return
		}
		filter.Status = status
	}
	var err error
	if filter.From, err = parseDate(q.Get("from")); err != nil {
		httpx.Error(w, r, httpx.NewValidationError("from", "must be YYYY-MM-DD"))
		return
	}
	if filter.To, err = parseDate(q.Get("to")); err != nil {
		httpx.Error(w, r, httpx.NewValidationError("to", "must be YYYY-MM-DD"))
		return
	}

	rentals, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list rentals", "error", err)
		httpx.Error(w, r, err)
		return
	}
	if rentals == nil {
		rentals = []Rental{}
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       rentals,
		Pagination: shared.NewPagination(filter.Page, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	rental, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rental)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req rentalRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		httpx.Error(w, r, httpx.NewValidationError("start_date", "must be YYYY-MM-DD"))
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		httpx.Error(w, r, httpx.NewValidationError("end_date", "must be YYYY-MM-DD"))
		return
	}

	input := CreateInput{
		CustomerID:     req.CustomerID,
		LocationID:     req.LocationID,
		StartDate:      start,
		EndDate:        end,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        shared.ActorID(r.Context()),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, CreateLineInput{ItemID: line.ItemID, Quantity: line.Quantity})
	}

	rental, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create rental", "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rental)
}

func (h *Handler) pickup(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	rental, err := h.service.Pickup(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("rental pickup", "rental_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rental)
}

func (h *Handler) extend(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req extendRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		httpx.Error(w, r, httpx.NewValidationError("end_date", "must be YYYY-MM-DD"))
		return
	}
	rental, err := h.service.Extend(r.Context(), id, end, shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("rental extend", "rental_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rental)
}

func (h *Handler) returnRental(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req returnRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	input := ReturnInput{RentalID: id, ActorID: shared.ActorID(r.Context())}
	if req.ReturnedAt != "" {
		input.ReturnedAt, err = parseTimestamp(req.ReturnedAt)
		if err != nil {
			httpx.Error(w, r, httpx.NewValidationError("returned_at", "must be RFC3339 or YYYY-MM-DD"))
			return
		}
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, ReturnLineInput{
			UnitID:       line.UnitID,
			Condition:    line.Condition,
			DamageCharge: line.DamageCharge,
			Note:         line.Note,
		})
	}

	rental, err := h.service.Return(r.Context(), input)
	if err != nil {
		h.logger.Error("rental return", "rental_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rental)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req cancelRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	rental, err := h.service.Cancel(r.Context(), id, shared.ActorID(r.Context()), req.Reason)
	if err != nil {
		h.logger.Error("cancel rental", "rental_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rental)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

func queryInt64(raw string) int64 {
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}

func parseTimestamp(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
