package reports

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	_ "github.com/meridian-rms/meridian-rms/testing"
)

type mockRepo struct {
	sales      SalesSummary
	salesCalls int
	util       []ItemUtilization
	utilCalls  int
	stock      []StockRow
	stockCalls int
}

func (m *mockRepo) SalesSummary(ctx context.Context, from, to time.Time, locationID int64) (SalesSummary, error) {
	m.salesCalls++
	return m.sales, nil
}

func (m *mockRepo) RentalUtilization(ctx context.Context, from, to time.Time, itemID int64) ([]ItemUtilization, error) {
	m.utilCalls++
	return m.util, nil
}

func (m *mockRepo) StockLevels(ctx context.Context, locationID int64) ([]StockRow, error) {
	m.stockCalls++
	return m.stock, nil
}

func newTestService(t *testing.T, repo Repository) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewService(repo, NewCache(client, time.Minute))
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestSalesSummaryCaches(t *testing.T) {
	repo := &mockRepo{sales: SalesSummary{
		TotalOrders:     12,
		FulfilledOrders: 9,
		Revenue:         decimal.NewFromInt(4500),
		Tax:             decimal.NewFromInt(450),
		ByDay:           []SalesDay{{Day: "2026-03-01", Orders: 12, Revenue: decimal.NewFromInt(4500)}},
	}}
	svc := newTestService(t, repo)

	from, to := date(t, "2026-03-01"), date(t, "2026-03-31")
	first, err := svc.SalesSummary(context.Background(), from, to, 0)
	require.NoError(t, err)
	require.Equal(t, "2026-03-01", first.From)
	require.Equal(t, "2026-03-31", first.To)
	require.Equal(t, 12, first.TotalOrders)
	require.True(t, first.Revenue.Equal(decimal.NewFromInt(4500)), "revenue %s", first.Revenue)

	second, err := svc.SalesSummary(context.Background(), from, to, 0)
	require.NoError(t, err)
	require.Equal(t, first.TotalOrders, second.TotalOrders)
	require.Equal(t, 1, repo.salesCalls)

	// A different window misses the cache.
	_, err = svc.SalesSummary(context.Background(), from, date(t, "2026-03-15"), 0)
	require.NoError(t, err)
	require.Equal(t, 2, repo.salesCalls)
}

func TestSalesSummaryValidatesWindow(t *testing.T) {
	svc := newTestService(t, &mockRepo{})

	_, err := svc.SalesSummary(context.Background(), date(t, "2026-03-31"), date(t, "2026-03-01"), 0)
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.SalesSummary(context.Background(), date(t, "2024-01-01"), date(t, "2026-03-01"), 0)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestRentalUtilizationComputesPct(t *testing.T) {
	repo := &mockRepo{util: []ItemUtilization{
		{ItemID: 1, SKU: "CAM-001", FleetSize: 2, RentedUnitDays: 3, Revenue: decimal.NewFromInt(30)},
		{ItemID: 2, SKU: "NEW-ITEM", FleetSize: 0, RentedUnitDays: 0},
	}}
	svc := newTestService(t, repo)

	// Five-day window, fleet of two: capacity 10 unit-days.
	report, err := svc.RentalUtilization(context.Background(), date(t, "2026-03-01"), date(t, "2026-03-05"), 0)
	require.NoError(t, err)
	require.Len(t, report.Items, 2)
	require.True(t, report.Items[0].UtilizationPct.Equal(decimal.NewFromInt(30)),
		"pct %s", report.Items[0].UtilizationPct)
	require.True(t, report.Items[1].UtilizationPct.IsZero())
}

func TestStockLevelsTotalsValuation(t *testing.T) {
	repo := &mockRepo{stock: []StockRow{
		{ItemID: 1, SKU: "CAM-001", Available: 3, Valuation: decimal.RequireFromString("10.50")},
		{ItemID: 2, SKU: "LENS-002", Available: 1, Valuation: decimal.RequireFromString("4.50")},
	}}
	svc := newTestService(t, repo)

	report, err := svc.StockLevels(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, report.TotalValuation.Equal(decimal.NewFromInt(15)),
		"valuation %s", report.TotalValuation)
}

func TestInvalidateOrphansCachedReports(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(t, repo)

	_, err := svc.StockLevels(context.Background(), 0)
	require.NoError(t, err)
	_, err = svc.StockLevels(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, repo.stockCalls)

	require.NoError(t, svc.Invalidate(context.Background()))

	_, err = svc.StockLevels(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, repo.stockCalls)
}

func TestReportsWorkWithoutRedis(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo, NewCache(nil, 0))

	_, err := svc.StockLevels(context.Background(), 0)
	require.NoError(t, err)
	_, err = svc.StockLevels(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, repo.stockCalls)
}
