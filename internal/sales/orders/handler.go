package orders

import (
	"context"
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
	logger     *slog.Logger
	service    *Service
	rbac       rbac.Middleware
	defaultTax decimal.Decimal
}

// NewHandler wires the sales order routes. Lines that omit tax_percent pick
// up defaultTax; an explicit zero stays zero.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware, defaultTax decimal.Decimal) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, defaultTax: defaultTax}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny("sales.view", "sales.edit"))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("sales.edit"))
		r.Post("/", h.create)
		r.Post("/{id}/confirm", h.confirm)
		r.Post("/{id}/fulfill", h.fulfill)
		r.Post("/{id}/cancel", h.cancel)
	})
}

type lineRequest struct {
	ItemID          int64            `json:"item_id" validate:"required,gt=0"`
	Quantity        int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice       decimal.Decimal  `json:"unit_price"`
	DiscountPercent decimal.Decimal  `json:"discount_percent"`
	TaxPercent      *decimal.Decimal `json:"tax_percent"`
}

type orderRequest struct {
	CustomerID int64         `json:"customer_id" validate:"required,gt=0"`
	LocationID int64         `json:"location_id" validate:"required,gt=0"`
	Notes      string        `json:"notes" validate:"max=1000"`
	Lines      []lineRequest `json:"lines" validate:"required,min=1,max=100,dive"`
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
			httpx.Error(w, r, httpx.NewValidationError("status", "unknown order status"))
			return
		}
		filter.Status = status
	}
	var err error
	if filter.From, err = queryTime(q.Get("from")); err != nil {
		httpx.Error(w, r, httpx.NewValidationError("from", "must be RFC3339 or YYYY-MM-DD"))
		return
	}
	if filter.To, err = queryTime(q.Get("to")); err != nil {
		httpx.Error(w, r, httpx.NewValidationError("to", "must be RFC3339 or YYYY-MM-DD"))
		return
	}

	ordersList, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list sales orders", "error", err)
		httpx.Error(w, r, err)
		return
	}
	if ordersList == nil {
		ordersList = []SalesOrder{}
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       ordersList,
		Pagination: shared.NewPagination(filter.Page, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	input := CreateInput{
		CustomerID:     req.CustomerID,
		LocationID:     req.LocationID,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        shared.ActorID(r.Context()),
	}
	for _, line := range req.Lines {
		tax := h.defaultTax
		if line.TaxPercent != nil {
			tax = *line.TaxPercent
		}
		input.Lines = append(input.Lines, LineInput{
			ItemID:          line.ItemID,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			TaxPercent:      tax,
		})
	}
	order, err := h.service.Create(r.Context(), input)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Confirm)
}

func (h *Handler) fulfill(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Fulfill)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id, actorID int64) (SalesOrder, error)) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	order, err := fn(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("sales order transition", "order_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
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
	order, err := h.service.Cancel(r.Context(), id, shared.ActorID(r.Context()), req.Reason)
	if err != nil {
		h.logger.Error("cancel sales order", "order_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
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

func queryTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}
