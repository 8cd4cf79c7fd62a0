package inventory

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
		r.Use(h.rbac.RequireAny("inventory.view", "inventory.edit"))
		r.Get("/units", h.listUnits)
		r.Get("/units/{id}", h.getUnit)
		r.Get("/movements", h.listMovements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("inventory.edit"))
		r.Post("/units", h.receive)
		r.Patch("/units/{id}/status", h.changeStatus)
		r.Post("/transfers", h.transfer)
	})
}

type receiveRequest struct {
	ItemID        int64           `json:"item_id" validate:"required,gt=0"`
	LocationID    int64           `json:"location_id" validate:"required,gt=0"`
	SerialNumbers []string        `json:"serial_numbers" validate:"required,min=1,max=500,dive,required,max=64"`
	AcquiredCost  decimal.Decimal `json:"acquired_cost"`
	Note          string          `json:"note" validate:"max=500"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=AVAILABLE MAINTENANCE DAMAGED"`
	Note   string `json:"note" validate:"max=500"`
}

type transferRequest struct {
	UnitIDs      []int64 `json:"unit_ids" validate:"required,min=1,max=200,dive,gt=0"`
	ToLocationID int64   `json:"to_location_id" validate:"required,gt=0"`
	Note         string  `json:"note" validate:"max=500"`
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	units, err := h.service.Receive(r.Context(), ReceiveInput{
		ItemID:        req.ItemID,
		LocationID:    req.LocationID,
		SerialNumbers: req.SerialNumbers,
		AcquiredCost:  req.AcquiredCost,
		Note:          req.Note,
		ActorID:       shared.ActorID(r.Context()),
	})
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, units)
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := UnitFilter{
		Page:           shared.ParsePageRequest(r),
		ItemID:         queryInt64(q.Get("item_id")),
		LocationID:     queryInt64(q.Get("location_id")),
		SerialSearch:   q.Get("q"),
		IncludeRetired: q.Get("include_retired") == "true",
	}
	if status := q.Get("status"); status != "" {
		if !ValidUnitStatus(status) {
			httpx.Error(w, r, httpx.NewValidationError("status", "unknown unit status"))
			return
		}
		filter.Status = UnitStatus(status)
	}
	units, total, err := h.service.ListUnits(r.Context(), filter)
	if err != nil {
		h.logger.Error("list inventory units", "error", err)
		httpx.Error(w, r, err)
		return
	}
	if units == nil {
		units = []InventoryUnit{}
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       units,
		Pagination: shared.NewPagination(filter.Page, total),
	})
}

func (h *Handler) getUnit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	unit, err := h.service.GetUnit(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	unit, err := h.service.ChangeStatus(r.Context(), StatusChangeInput{
		UnitID:  id,
		Status:  UnitStatus(req.Status),
		Note:    req.Note,
		ActorID: shared.ActorID(r.Context()),
	})
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, unit)
}

func (h *Handler) transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	err := h.service.Transfer(r.Context(), TransferInput{
		UnitIDs:      req.UnitIDs,
		ToLocationID: req.ToLocationID,
		Note:         req.Note,
		ActorID:      shared.ActorID(r.Context()),
	})
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := MovementFilter{
		Page:       shared.ParsePageRequest(r),
		ItemID:     queryInt64(q.Get("item_id")),
		LocationID: queryInt64(q.Get("location_id")),
		UnitID:     queryInt64(q.Get("unit_id")),
		RefModule:  q.Get("ref_module"),
	}
	if mt := q.Get("movement_type"); mt != "" {
		filter.MovementType = MovementType(mt)
	}
	var err error
	if filter.From, err = queryTime(q.Get("from")); err != nil {
		httpx.Error(w, r, httpx.NewValidationError("from", "must be an RFC3339 timestamp or YYYY-MM-DD date"))
		return
	}
	if filter.To, err = queryTime(q.Get("to")); err != nil {
		httpx.Error(w, r, httpx.NewValidationError("to", "must be an RFC3339 timestamp or YYYY-MM-DD date"))
		return
	}
	movements, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list stock movements", "error", err)
		httpx.Error(w, r, err)
		return
	}
	if movements == nil {
		movements = []StockMovement{}
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       movements,
		Pagination: shared.NewPagination(filter.Page, total),
	})
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

// queryTime accepts RFC3339 timestamps and bare dates.
func queryTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
