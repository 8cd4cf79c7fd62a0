package audit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

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
		r.Use(h.rbac.RequireAll("audit.view"))
		r.Get("/", h.list)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}

	entries, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list audit logs", "error", err)
		httpx.Error(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, shared.ListResponse{
		Data:       entries,
		Pagination: shared.NewPagination(filter.Page, total),
	})
}

func parseFilter(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	filter := ListFilter{
		Page:     shared.ParsePageRequest(r),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Action:   q.Get("action"),
	}
	// The trail reads newest first unless the caller asks otherwise.
	if filter.Page.SortBy == "" {
		filter.Page.SortBy = "occurred_at"
		filter.Page.SortDesc = true
	}
	if raw := q.Get("actor_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return ListFilter{}, httpx.NewValidationError("actor_id", "must be a positive integer")
		}
		filter.ActorID = id
	}
	var err error
	if filter.From, err = parseDate(q.Get("from")); err != nil {
		return ListFilter{}, httpx.NewValidationError("from", "must be YYYY-MM-DD")
	}
	if filter.To, err = parseDate(q.Get("to")); err != nil {
		return ListFilter{}, httpx.NewValidationError("to", "must be YYYY-MM-DD")
	}
	return filter, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}
