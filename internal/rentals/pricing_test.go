package rentals

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	_ "github.com/meridian-rms/meridian-rms/testing"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestChargeableDaysMinimumOneDay(t *testing.T) {
	require.Equal(t, 1, ChargeableDays(date("2026-03-10"), date("2026-03-10")))
	require.Equal(t, 1, ChargeableDays(date("2026-03-10"), date("2026-03-11")))
	require.Equal(t, 1, ChargeableDays(date("2026-03-11"), date("2026-03-10")))
}

func TestChargeableDaysRoundsUp(t *testing.T) {
	require.Equal(t, 3, ChargeableDays(date("2026-03-10"), date("2026-03-13")))
	// A partial day counts in full.
	start := date("2026-03-10")
	require.Equal(t, 3, ChargeableDays(start, start.Add(49*time.Hour)))
	require.Equal(t, 7, ChargeableDays(date("2026-03-10"), date("2026-03-17")))
}

func TestLateDays(t *testing.T) {
	end := date("2026-03-17")
	require.Equal(t, 0, LateDays(end, end))
	require.Equal(t, 0, LateDays(end, end.Add(-time.Hour)))
	require.Equal(t, 1, LateDays(end, end.Add(time.Hour)))
	require.Equal(t, 2, LateDays(end, end.Add(25*time.Hour)))
}

func TestUnitChargeDailyOnly(t *testing.T) {
	got := UnitCharge(3, decimal.NewFromInt(10), decimal.Zero, decimal.Zero)
	require.True(t, got.Equal(decimal.NewFromInt(30)), "got %s", got)
}

func TestUnitChargeWeeklyBanding(t *testing.T) {
	daily := decimal.NewFromInt(20)
	weekly := decimal.NewFromInt(100)

	// Six days at the daily rate would cost 120; a full week is cheaper.
	got := UnitCharge(6, daily, weekly, decimal.Zero)
	require.True(t, got.Equal(decimal.NewFromInt(100)), "got %s", got)

	got = UnitCharge(7, daily, weekly, decimal.Zero)
	require.True(t, got.Equal(decimal.NewFromInt(100)), "got %s", got)

	// One week plus one day: 100 + 20 beats two weeks and eight daily.
	got = UnitCharge(8, daily, weekly, decimal.Zero)
	require.True(t, got.Equal(decimal.NewFromInt(120)), "got %s", got)

	got = UnitCharge(10, daily, weekly, decimal.Zero)
	require.True(t, got.Equal(decimal.NewFromInt(160)), "got %s", got)
}

func TestUnitChargeMonthlyBanding(t *testing.T) {
	daily := decimal.NewFromInt(10)
	weekly := decimal.NewFromInt(60)
	monthly := decimal.NewFromInt(200)

	got := UnitCharge(30, daily, weekly, monthly)
	require.True(t, got.Equal(decimal.NewFromInt(200)), "got %s", got)

	// 25 days: rounding up into a month (200) beats three weeks + 4 days (220).
	got = UnitCharge(25, daily, weekly, monthly)
	require.True(t, got.Equal(decimal.NewFromInt(200)), "got %s", got)

	// 35 days: a month plus five daily days.
	got = UnitCharge(35, daily, weekly, monthly)
	require.True(t, got.Equal(decimal.NewFromInt(250)), "got %s", got)
}

func TestChargeMultipliesQuantity(t *testing.T) {
	lines := []RentalLine{
		{Quantity: 2, DailyRate: decimal.NewFromInt(10)},
		{Quantity: 1, DailyRate: decimal.NewFromInt(5)},
	}
	got := Charge(lines, 3)
	require.True(t, got.Equal(decimal.NewFromInt(75)), "got %s", got)
}

func TestLineLateFeeFallsBackToDailyRate(t *testing.T) {
	configured := RentalLine{Quantity: 2, DailyRate: decimal.NewFromInt(10), LateFeePerDay: decimal.NewFromInt(5)}
	got := LineLateFee(configured, 3)
	require.True(t, got.Equal(decimal.NewFromInt(30)), "got %s", got)

	fallback := RentalLine{Quantity: 2, DailyRate: decimal.NewFromInt(10)}
	got = LineLateFee(fallback, 3)
	require.True(t, got.Equal(decimal.NewFromInt(60)), "got %s", got)

	require.True(t, LineLateFee(configured, 0).IsZero())
}

func TestReconcile(t *testing.T) {
	deposit := decimal.NewFromInt(100)

	refund, balance := Reconcile(deposit, decimal.NewFromInt(30), decimal.Zero)
	require.True(t, refund.Equal(decimal.NewFromInt(70)), "refund %s", refund)
	require.True(t, balance.IsZero())

	refund, balance = Reconcile(deposit, decimal.NewFromInt(50), decimal.NewFromInt(80))
	require.True(t, refund.IsZero())
	require.True(t, balance.Equal(decimal.NewFromInt(30)), "balance %s", balance)

	refund, balance = Reconcile(deposit, decimal.NewFromInt(100), decimal.Zero)
	require.True(t, refund.IsZero())
	require.True(t, balance.IsZero())
}
