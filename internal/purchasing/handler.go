package purchasing

import (
	"log/slog"
	"net/http"
	"strconv"

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
		r.Use(h.rbac.RequireAny("purchasing.view", "purchasing.edit", "purchasing.approve"))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("purchasing.edit"))
		r.Post("/", h.create)
		r.Post("/{id}/ship", h.ship)
		r.Post("/{id}/credit", h.credit)
		r.Post("/{id}/cancel", h.cancel)
	})
	// Sign-off is a separate permission so the creator cannot approve
	// their own return.
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll("purchasing.approve"))
		r.Post("/{id}/approve", h.approve)
	})
}

type returnLineRequest struct {
	ItemID         int64           `json:"item_id" validate:"required,gt=0"`
	Reason         string          `json:"reason" validate:"required,oneof=DEFECTIVE OVERSTOCK RECALL WARRANTY"`
	ExpectedCredit decimal.Decimal `json:"expected_credit"`
	UnitIDs        []int64         `json:"unit_ids" validate:"required,min=1,max=200,dive,gt=0"`
}

type returnRequest struct {
	SupplierID int64               `json:"supplier_id" validate:"required,gt=0"`
	LocationID int64               `json:"location_id" validate:"required,gt=0"`
	Notes      string              `json:"notes" validate:"max=1000"`
	Lines      []returnLineRequest `json:"lines" validate:"required,min=1,max=50,dive"`
}

type creditRequest struct {
	CreditAmount decimal.Decimal `json:"credit_amount"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Page:       shared.ParsePageRequest(r),
		SupplierID: queryInt64(q.Get("supplier_id")),
		LocationID: queryInt64(q.Get("location_id")),
	}
	if raw := q.Get("status"); raw != "" {
		status := Status(raw)
		if !ValidStatus(status) {
			httpx.Error(w, r, httpx.NewValidationError("status", "unknown purchase return status"))
			return
		}
		filter.Status = status
	}

	returns, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list purchase returns", "error", err)
		httpx.Error(w, r, err)
		return
	}
	if returns == nil {
		returns = []PurchaseReturn{}
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       returns,
		Pagination: shared.NewPagination(filter.Page, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	ret, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}

	input := CreateInput{
		SupplierID:     req.SupplierID,
		LocationID:     req.LocationID,
		Notes:          req.Notes,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		ActorID:        shared.ActorID(r.Context()),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, CreateLineInput{
			ItemID:         line.ItemID,
			Reason:         line.Reason,
			ExpectedCredit: line.ExpectedCredit,
			UnitIDs:        line.UnitIDs,
		})
	}

	ret, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.logger.Error("create purchase return", "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, ret)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	ret, err := h.service.Approve(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("approve purchase return", "return_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) ship(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	ret, err := h.service.Ship(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("ship purchase return", "return_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func (h *Handler) credit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req creditRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	ret, err := h.service.Credit(r.Context(), id, req.CreditAmount, shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("credit purchase return", "return_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
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
	ret, err := h.service.Cancel(r.Context(), id, shared.ActorID(r.Context()), req.Reason)
	if err != nil {
		h.logger.Error("cancel purchase return", "return_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ret)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

func queryInt64(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
