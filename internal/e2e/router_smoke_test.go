package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-rms/meridian-rms/internal/app"
	"github.com/meridian-rms/meridian-rms/internal/audit"
	"github.com/meridian-rms/meridian-rms/internal/auth"
	"github.com/meridian-rms/meridian-rms/internal/catalog"
	"github.com/meridian-rms/meridian-rms/internal/inventory"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/brands"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/companies"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/locations"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/suppliers"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/units"
	"github.com/meridian-rms/meridian-rms/internal/purchasing"
	"github.com/meridian-rms/meridian-rms/internal/rbac"
	"github.com/meridian-rms/meridian-rms/internal/rentals"
	"github.com/meridian-rms/meridian-rms/internal/reports"
	"github.com/meridian-rms/meridian-rms/internal/sales/customers"
	"github.com/meridian-rms/meridian-rms/internal/sales/orders"
	"github.com/meridian-rms/meridian-rms/internal/users"
	"github.com/meridian-rms/meridian-rms/internal/webhooks"
)

// newSmokeRouter assembles the full route table with nil services. None of
// the requests below ever reach a service: they exercise the layers in front
// of the handlers, where the envelope and auth rejections are produced.
func newSmokeRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := quietLogger()
	tokens, err := auth.NewTokenIssuer("router-smoke-secret", time.Minute)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	var mw rbac.Middleware

	return app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: &app.Config{RateLimitPerMinute: 30},
		Tokens: tokens,
		RBAC:   mw,

		AuthHandler:       auth.NewHandler(logger, nil, nil),
		UsersHandler:      users.NewHandler(logger, nil, mw),
		RBACHandler:       rbac.NewHandler(logger, nil, mw),
		CompaniesHandler:  companies.NewHandler(logger, nil, mw),
		BrandsHandler:     brands.NewHandler(logger, nil, mw),
		UnitsHandler:      units.NewHandler(logger, nil, mw),
		SuppliersHandler:  suppliers.NewHandler(logger, nil, mw),
		LocationsHandler:  locations.NewHandler(logger, nil, mw),
		CatalogHandler:    catalog.NewHandler(logger, nil, nil, mw),
		InventoryHandler:  inventory.NewHandler(logger, nil, mw),
		CustomersHandler:  customers.NewHandler(logger, nil, mw),
		OrdersHandler:     orders.NewHandler(logger, nil, mw, decimal.Zero),
		RentalsHandler:    rentals.NewHandler(logger, nil, mw),
		PurchasingHandler: purchasing.NewHandler(logger, nil, mw),
		WebhooksHandler:   webhooks.NewHandler(logger, nil, mw),
		ReportsHandler:    reports.NewHandler(logger, nil, mw),
		AuditHandler:      audit.NewHandler(logger, nil, mw),
	})
}

type envelopeBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

func doRequest(t *testing.T, router http.Handler, method, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelopeBody {
	t.Helper()
	var body envelopeBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode envelope from %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestRouterSmoke(t *testing.T) {
	router := newSmokeRouter(t)

	t.Run("healthz is public", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/healthz", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("healthz status = %d, want 200", rec.Code)
		}
		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode healthz: %v", err)
		}
		if body["status"] != "ok" {
			t.Fatalf("healthz body = %v", body)
		}
	})

	t.Run("unknown route gets the envelope", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/no-such-resource", "")
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
		body := decodeEnvelope(t, rec)
		if body.Error.Code != "RESOURCE_NOT_FOUND" {
			t.Fatalf("code = %q, want RESOURCE_NOT_FOUND", body.Error.Code)
		}
		if body.Error.RequestID == "" {
			t.Fatal("request_id missing from 404 envelope")
		}
	})

	t.Run("wrong method gets the envelope", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodDelete, "/healthz", "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rec.Code)
		}
		if body := decodeEnvelope(t, rec); body.Error.Code != "METHOD_NOT_ALLOWED" {
			t.Fatalf("code = %q, want METHOD_NOT_ALLOWED", body.Error.Code)
		}
	})

	t.Run("protected routes demand a bearer token", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/rentals", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status without token = %d, want 401", rec.Code)
		}
		if body := decodeEnvelope(t, rec); body.Error.Code != "AUTHENTICATION_REQUIRED" {
			t.Fatalf("code = %q, want AUTHENTICATION_REQUIRED", body.Error.Code)
		}

		rec = doRequest(t, router, http.MethodGet, "/api/v1/rentals", "not-a-jwt")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status with garbage token = %d, want 401", rec.Code)
		}
	})

	t.Run("rate limiter answers in the envelope", func(t *testing.T) {
		var limited *httptest.ResponseRecorder
		for i := 0; i < 40; i++ {
			rec := doRequest(t, router, http.MethodGet, "/healthz", "")
			if rec.Code == http.StatusTooManyRequests {
				limited = rec
				break
			}
		}
		if limited == nil {
			t.Fatal("no 429 seen after exceeding the per-minute limit")
		}
		if body := decodeEnvelope(t, limited); body.Error.Code != "RATE_LIMIT_EXCEEDED" {
			t.Fatalf("code = %q, want RATE_LIMIT_EXCEEDED", body.Error.Code)
		}
	})
}
