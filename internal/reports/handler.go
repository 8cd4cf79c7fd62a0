package reports

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/rbac"
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
		r.Use(h.rbac.RequireAll("reports.view"))
		r.Get("/sales-summary", h.salesSummary)
		r.Get("/rental-utilization", h.rentalUtilization)
		r.Get("/stock-levels", h.stockLevels)
	})
}

func (h *Handler) salesSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	summary, err := h.service.SalesSummary(r.Context(), from, to, queryInt64(r, "location_id"))
	if err != nil {
		h.logger.Error("sales summary report", "error", err)
		httpx.Error(w, r, err)
		return
	}

	if wantsCSV(r) {
		rows := [][]string{{"day", "orders", "revenue"}}
		for _, day := range summary.ByDay {
			rows = append(rows, []string{day.Day, strconv.Itoa(day.Orders), day.Revenue.String()})
		}
		writeCSV(w, "sales-summary.csv", rows)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) rentalUtilization(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		httpx.Error(w, r, err)
		return
	}
	report, err := h.service.RentalUtilization(r.Context(), from, to, queryInt64(r, "item_id"))
	if err != nil {
		h.logger.Error("rental utilization report", "error", err)
		httpx.Error(w, r, err)
		return
	}

	if wantsCSV(r) {
		rows := [][]string{{"item_id", "sku", "name", "fleet_size", "rented_unit_days", "utilization_pct", "revenue"}}
		for _, item := range report.Items {
			rows = append(rows, []string{
				strconv.FormatInt(item.ItemID, 10),
				item.SKU,
				item.Name,
				strconv.Itoa(item.FleetSize),
				strconv.Itoa(item.RentedUnitDays),
				item.UtilizationPct.String(),
				item.Revenue.String(),
			})
		}
		writeCSV(w, "rental-utilization.csv", rows)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) stockLevels(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.StockLevels(r.Context(), queryInt64(r, "location_id"))
	if err != nil {
		h.logger.Error("stock levels report", "error", err)
		httpx.Error(w, r, err)
		return
	}

	if wantsCSV(r) {
		rows := [][]string{{"item_id", "sku", "name", "location_id", "on_hand", "available",
			"reserved", "rented", "maintenance", "damaged", "valuation"}}
		for _, row := range report.Rows {
			rows = append(rows, []string{
				strconv.FormatInt(row.ItemID, 10),
				row.SKU,
				row.Name,
				strconv.FormatInt(row.LocationID, 10),
				strconv.Itoa(row.OnHand),
				strconv.Itoa(row.Available),
				strconv.Itoa(row.Reserved),
				strconv.Itoa(row.Rented),
				strconv.Itoa(row.Maintenance),
				strconv.Itoa(row.Damaged),
				row.Valuation.String(),
			})
		}
		writeCSV(w, "stock-levels.csv", rows)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func windowParams(r *http.Request) (time.Time, time.Time, error) {
	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, httpx.NewValidationError("from", "must be YYYY-MM-DD")
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, httpx.NewValidationError("to", "must be YYYY-MM-DD")
	}
	return from, to, nil
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", raw)
}

func queryInt64(r *http.Request, name string) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func wantsCSV(r *http.Request) bool {
	return r.URL.Query().Get("format") == "csv"
}

func writeCSV(w http.ResponseWriter, filename string, rows [][]string) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	cw := csv.NewWriter(w)
	_ = cw.WriteAll(rows)
	cw.Flush()
}
