package webhooks

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

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
		r.Use(h.rbac.RequireAll("webhooks.manage"))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/event-types", h.eventTypes)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Get("/{id}/deliveries", h.deliveries)
	})
}

type subscriptionRequest struct {
	URL         string   `json:"url" validate:"required,max=2048"`
	Secret      string   `json:"secret" validate:"omitempty,min=16,max=128"`
	Events      []string `json:"events" validate:"required,min=1,max=8"`
	Description string   `json:"description" validate:"max=500"`
	IsActive    *bool    `json:"is_active"`
}

func (r subscriptionRequest) input() SubscriptionInput {
	return SubscriptionInput{
		URL:         r.URL,
		Secret:      r.Secret,
		Events:      r.Events,
		Description: r.Description,
		IsActive:    r.IsActive,
	}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePageRequest(r)
	subs, total, err := h.service.ListSubscriptions(r.Context(), page)
	if err != nil {
		h.logger.Error("list webhook subscriptions", "error", err)
		httpx.Error(w, r, err)
		return
	}
	if subs == nil {
		subs = []Subscription{}
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       subs,
		Pagination: shared.NewPagination(page, total),
	})
}

func (h *Handler) eventTypes(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"event_types": EventTypes()})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	sub, err := h.service.GetSubscription(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sub)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	sub, err := h.service.CreateSubscription(r.Context(), req.input(), shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("create webhook subscription", "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sub)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	var req subscriptionRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.Error(w, r, err)
		return
	}
	sub, err := h.service.UpdateSubscription(r.Context(), id, req.input(), shared.ActorID(r.Context()))
	if err != nil {
		h.logger.Error("update webhook subscription", "subscription_id", id, "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sub)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if err := h.service.DeleteSubscription(r.Context(), id, shared.ActorID(r.Context())); err != nil {
		httpx.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deliveries(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	page := shared.ParsePageRequest(r)
	deliveries, total, err := h.service.ListDeliveries(r.Context(), id, page)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []Delivery{}
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       deliveries,
		Pagination: shared.NewPagination(page, total),
	})
}

func pathUUID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, httpx.NewValidationError("id", "must be a UUID")
	}
	return id, nil
}
