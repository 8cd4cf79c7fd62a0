package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/meridian-rms/meridian-rms/internal/inventory"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/rbac"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

// InventoryPort exposes the stock views the item detail endpoints need.
type InventoryPort interface {
	ItemStock(ctx context.Context, itemID int64) ([]inventory.StockLevel, error)
	ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, int, error)
}

type Handler struct {
	logger  *slog.Logger
	service *Service
	stock   InventoryPort
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, stock InventoryPort, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, stock: stock, rbac: rbac}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("catalog.view", "catalog.edit"))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Get("/{id}/stock", h.itemStock)
		r.Get("/{id}/movements", h.itemMovements)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("catalog.edit"))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

type itemRequest struct {
	SKU              string          `json:"sku" validate:"required,max=64"`
	Name             string          `json:"name" validate:"required,max=160"`
	Description      string          `json:"description" validate:"max=2000"`
	BrandID          *int64          `json:"brand_id" validate:"omitempty,gt=0"`
	UnitID           int64           `json:"unit_id" validate:"required,gt=0"`
	SupplierID       *int64          `json:"supplier_id" validate:"omitempty,gt=0"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	DailyRate        decimal.Decimal `json:"daily_rate"`
	WeeklyRate       decimal.Decimal `json:"weekly_rate"`
	MonthlyRate      decimal.Decimal `json:"monthly_rate"`
	DepositAmount    decimal.Decimal `json:"deposit_amount"`
	ReplacementValue decimal.Decimal `json:"replacement_value"`
	LateFeePerDay    decimal.Decimal `json:"late_fee_per_day"`
	IsRentable       bool            `json:"is_rentable"`
	IsSellable       bool            `json:"is_sellable"`
	IsActive         *bool           `json:"is_active"`
}

func (req itemRequest) toModel() Item {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return Item{
		SKU:              req.SKU,
		Name:             req.Name,
		Description:      req.Description,
		BrandID:          req.BrandID,
		UnitID:           req.UnitID,
		SupplierID:       req.SupplierID,
		SalePrice:        req.SalePrice,
		DailyRate:        req.DailyRate,
		WeeklyRate:       req.WeeklyRate,
		MonthlyRate:      req.MonthlyRate,
		DepositAmount:    req.DepositAmount,
		ReplacementValue: req.ReplacementValue,
		LateFeePerDay:    req.LateFeePerDay,
		IsRentable:       req.IsRentable,
		IsSellable:       req.IsSellable,
		IsActive:         active,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Page:            shared.ParsePageRequest(r),
		Search:          q.Get("search"),
		BrandID:         queryInt64(q.Get("brand_id")),
		SupplierID:      queryInt64(q.Get("supplier_id")),
		IncludeInactive: q.Get("include_inactive") == "true",
	}
	if v := q.Get("is_rentable"); v != "" {
		b := v == "true"
		filter.Rentable = &b
	}
	if v := q.Get("is_sellable"); v != "" {
		b := v == "true"
		filter.Sellable = &b
	}
	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list items", "error", err)
		httpx.Error(w, r, err)
		return
	}
	if items == nil {
		items = []Item{}
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       items,
		Pagination: shared.NewPagination(filter.Page, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	item, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) itemStock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if _, err := h.service.Get(r.Context(), id); err != nil {
		httpx.Error(w, r, err)
		return
	}
	levels, err := h.stock.ItemStock(r.Context(), id)
	if err != nil {
		h.logger.Error("item stock", "item_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	if levels == nil {
		levels = []inventory.StockLevel{}
	}
	httpx.JSON(w, http.StatusOK, levels)
}

func (h *Handler) itemMovements(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if _, err := h.service.Get(r.Context(), id); err != nil {
		httpx.Error(w, r, err)
		return
	}
	filter := inventory.MovementFilter{
		Page:       shared.ParsePageRequest(r),
		ItemID:     id,
		LocationID: queryInt64(r.URL.Query().Get("location_id")),
	}
	movements, total, err := h.stock.ListMovements(r.Context(), filter)
	if err != nil {
		h.logger.Error("item movements", "item_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	if movements == nil {
		movements = []inventory.StockMovement{}
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       movements,
		Pagination: shared.NewPagination(filter.Page, total),
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	item, err := h.service.Create(r.Context(), req.toModel(), shared.ActorID(r.Context()))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req itemRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	item, err := h.service.Update(r.Context(), id, req.toModel(), shared.ActorID(r.Context()))
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorID(r.Context())); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
