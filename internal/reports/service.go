package reports

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
)

// Service builds reports behind the cache. Concurrent requests for the same
// key collapse into one query via singleflight.
type Service struct {
	repo  Repository
	cache *Cache
	group singleflight.Group
}

func NewService(repo Repository, cache *Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

const dayFormat = "2006-01-02"

// window normalizes a report range. Zero times default to the last 30 days.
func window(from, to time.Time) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	if to.IsZero() {
		to = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if from.IsZero() {
		from = to.AddDate(0, 0, -29)
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, httpx.NewValidationError("from", "window start must not be after its end")
	}
	if to.Sub(from) > 366*24*time.Hour {
		return time.Time{}, time.Time{}, httpx.NewValidationError("from", "window cannot exceed one year")
	}
	return from, to, nil
}

// SalesSummary aggregates order counts and fulfilled revenue between two
// dates, inclusive.
func (s *Service) SalesSummary(ctx context.Context, from, to time.Time, locationID int64) (SalesSummary, error) {
	from, to, err := window(from, to)
	if err != nil {
		return SalesSummary{}, err
	}

	key, err := s.cache.BuildKey(ctx, "reports", "sales",
		from.Format(dayFormat), to.Format(dayFormat), strconv.FormatInt(locationID, 10))
	if err != nil {
		return SalesSummary{}, err
	}

	var summary SalesSummary
	err = s.cached(ctx, key, &summary, func(ctx context.Context) (any, error) {
		out, err := s.repo.SalesSummary(ctx, from, to.AddDate(0, 0, 1), locationID)
		if err != nil {
			return nil, err
		}
		out.From = from.Format(dayFormat)
		out.To = to.Format(dayFormat)
		out.LocationID = locationID
		if out.ByDay == nil {
			out.ByDay = []SalesDay{}
		}
		out.GeneratedAt = time.Now().UTC()
		return out, nil
	})
	return summary, err
}

// RentalUtilization reports fleet usage per item between two dates,
// inclusive.
func (s *Service) RentalUtilization(ctx context.Context, from, to time.Time, itemID int64) (UtilizationReport, error) {
	from, to, err := window(from, to)
	if err != nil {
		return UtilizationReport{}, err
	}

	key, err := s.cache.BuildKey(ctx, "reports", "utilization",
		from.Format(dayFormat), to.Format(dayFormat), strconv.FormatInt(itemID, 10))
	if err != nil {
		return UtilizationReport{}, err
	}

	days := int(to.Sub(from).Hours()/24) + 1
	var report UtilizationReport
	err = s.cached(ctx, key, &report, func(ctx context.Context) (any, error) {
		items, err := s.repo.RentalUtilization(ctx, from, to, itemID)
		if err != nil {
			return nil, err
		}
		for i := range items {
			items[i].UtilizationPct = utilizationPct(items[i].RentedUnitDays, items[i].FleetSize, days)
		}
		if items == nil {
			items = []ItemUtilization{}
		}
		return UtilizationReport{
			From:        from.Format(dayFormat),
			To:          to.Format(dayFormat),
			Items:       items,
			GeneratedAt: time.Now().UTC(),
		}, nil
	})
	return report, err
}

// StockLevels reports current levels with valuation at acquired cost.
func (s *Service) StockLevels(ctx context.Context, locationID int64) (StockReport, error) {
	key, err := s.cache.BuildKey(ctx, "reports", "stock", strconv.FormatInt(locationID, 10))
	if err != nil {
		return StockReport{}, err
	}

	var report StockReport
	err = s.cached(ctx, key, &report, func(ctx context.Context) (any, error) {
		rows, err := s.repo.StockLevels(ctx, locationID)
		if err != nil {
			return nil, err
		}
		total := decimal.Zero
		for _, row := range rows {
			total = total.Add(row.Valuation)
		}
		if rows == nil {
			rows = []StockRow{}
		}
		return StockReport{
			LocationID:     locationID,
			Rows:           rows,
			TotalValuation: total,
			GeneratedAt:    time.Now().UTC(),
		}, nil
	})
	return report, err
}

// Invalidate orphans every cached report. Called after bulk stock rebuilds.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// cached collapses concurrent builders for the same key and round-trips the
// result through JSON so every caller gets its own copy.
func (s *Service) cached(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	resultChan := s.group.DoChan(key, func() (any, error) {
		var raw json.RawMessage
		if err := s.cache.FetchJSON(ctx, key, &raw, loader); err != nil {
			return nil, err
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.(json.RawMessage), dest)
	}
}

func utilizationPct(rentedDays, fleet, windowDays int) decimal.Decimal {
	capacity := int64(fleet) * int64(windowDays)
	if capacity <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(rentedDays) * 100).
		Div(decimal.NewFromInt(capacity)).
		Round(1)
}
