package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-rms/meridian-rms/internal/audit"
	"github.com/meridian-rms/meridian-rms/internal/auth"
	"github.com/meridian-rms/meridian-rms/internal/catalog"
	"github.com/meridian-rms/meridian-rms/internal/inventory"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/brands"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/companies"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/locations"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/suppliers"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/units"
	"github.com/meridian-rms/meridian-rms/internal/observability"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/purchasing"
	"github.com/meridian-rms/meridian-rms/internal/rbac"
	"github.com/meridian-rms/meridian-rms/internal/rentals"
	"github.com/meridian-rms/meridian-rms/internal/reports"
	"github.com/meridian-rms/meridian-rms/internal/sales/customers"
	"github.com/meridian-rms/meridian-rms/internal/sales/orders"
	"github.com/meridian-rms/meridian-rms/internal/users"
	"github.com/meridian-rms/meridian-rms/internal/webhooks"
	"github.com/meridian-rms/meridian-rms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	Tokens  *auth.TokenIssuer
	RBAC    rbac.Middleware

	AuthHandler       *auth.Handler
	UsersHandler      *users.Handler
	RBACHandler       *rbac.Handler
	CompaniesHandler  *companies.Handler
	BrandsHandler     *brands.Handler
	UnitsHandler      *units.Handler
	SuppliersHandler  *suppliers.Handler
	LocationsHandler  *locations.Handler
	CatalogHandler    *catalog.Handler
	InventoryHandler  *inventory.Handler
	CustomersHandler  *customers.Handler
	OrdersHandler     *orders.Handler
	RentalsHandler    *rentals.Handler
	PurchasingHandler *purchasing.Handler
	WebhooksHandler   *webhooks.Handler
	ReportsHandler    *reports.Handler
	AuditHandler      *audit.Handler
	JobsHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router serving the versioned API. Everything
// under /api/v1 except login requires a bearer token; per-route permissions
// live in the handlers.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.ErrorWithCode(w, r, http.StatusNotFound, httpx.CodeNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.ErrorWithCode(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Route("/auth", func(ar chi.Router) {
			params.AuthHandler.MountPublicRoutes(ar)
			ar.Group(func(ar chi.Router) {
				ar.Use(auth.RequireBearer(params.Tokens, params.Logger))
				params.AuthHandler.MountProtectedRoutes(ar)
			})
		})

		api.Group(func(api chi.Router) {
			api.Use(auth.RequireBearer(params.Tokens, params.Logger))

			api.Route("/users", params.UsersHandler.MountRoutes)
			params.RBACHandler.MountRoutes(api)

			api.Route("/companies", params.CompaniesHandler.MountRoutes)
			api.Route("/brands", params.BrandsHandler.MountRoutes)
			api.Route("/units", params.UnitsHandler.MountRoutes)
			api.Route("/suppliers", params.SuppliersHandler.MountRoutes)
			api.Route("/locations", params.LocationsHandler.MountRoutes)

			api.Route("/items", params.CatalogHandler.MountRoutes)
			api.Route("/inventory", params.InventoryHandler.MountRoutes)
			api.Route("/customers", params.CustomersHandler.MountRoutes)
			api.Route("/sales-orders", params.OrdersHandler.MountRoutes)
			api.Route("/rentals", params.RentalsHandler.MountRoutes)
			api.Route("/purchase-returns", params.PurchasingHandler.MountRoutes)
			api.Route("/webhooks", params.WebhooksHandler.MountRoutes)
			api.Route("/reports", params.ReportsHandler.MountRoutes)
			api.Route("/audit-logs", params.AuditHandler.MountRoutes)

			if params.JobsHandler != nil {
				api.Route("/jobs", func(jr chi.Router) {
					jr.Use(params.RBAC.RequireAll("users.manage"))
					params.JobsHandler.MountRoutes(jr)
				})
			}
		})
	})

	return r
}
