package rentals

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// ChargeableDays counts rental days between start and end. Partial days round
// up and the minimum is one day, so same-day rentals still charge.
func ChargeableDays(start, end time.Time) int {
	if !end.After(start) {
		return 1
	}
	days := int(math.Ceil(end.Sub(start).Hours() / 24))
	if days < 1 {
		days = 1
	}
	return days
}

// LateDays counts started days past the due end. A return on the due date
// itself is on time.
func LateDays(end, returnedAt time.Time) int {
	if !returnedAt.After(end) {
		return 0
	}
	return int(math.Ceil(returnedAt.Sub(end).Hours() / 24))
}

// UnitCharge prices one unit for the given day count at the cheapest of the
// configured rate bands. Weekly and monthly rates of zero mean the band is
// not offered. Remainder days are priced at the next band down, and rounding
// up into a full week or month applies whenever that comes out cheaper.
func UnitCharge(days int, daily, weekly, monthly decimal.Decimal) decimal.Decimal {
	if days < 1 {
		days = 1
	}
	best := daily.Mul(decimal.NewFromInt(int64(days)))
	if weekly.IsPositive() {
		weeks := int64(days / 7)
		rem := int64(days % 7)
		split := weekly.Mul(decimal.NewFromInt(weeks)).Add(daily.Mul(decimal.NewFromInt(rem)))
		best = cheaper(best, split)
		if rem > 0 {
			best = cheaper(best, weekly.Mul(decimal.NewFromInt(weeks+1)))
		}
	}
	if monthly.IsPositive() {
		months := int64(days / 30)
		rem := days % 30
		split := monthly.Mul(decimal.NewFromInt(months))
		if rem > 0 {
			split = split.Add(UnitCharge(rem, daily, weekly, decimal.Zero))
		}
		best = cheaper(best, split)
		if rem > 0 {
			best = cheaper(best, monthly.Mul(decimal.NewFromInt(months+1)))
		}
	}
	return best
}

// Charge prices every line for the window.
func Charge(lines []RentalLine, days int) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		per := UnitCharge(days, line.DailyRate, line.WeeklyRate, line.MonthlyRate)
		total = total.Add(per.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// TotalDeposit sums the per-unit deposits across lines.
func TotalDeposit(lines []RentalLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.DepositPerUnit.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return total
}

// LineLateFee charges every unit on the line for the late days. Lines without
// a configured late fee fall back to their daily rate.
func LineLateFee(line RentalLine, lateDays int) decimal.Decimal {
	if lateDays <= 0 {
		return decimal.Zero
	}
	perDay := line.LateFeePerDay
	if !perDay.IsPositive() {
		perDay = line.DailyRate
	}
	return perDay.Mul(decimal.NewFromInt(int64(lateDays))).Mul(decimal.NewFromInt(int64(line.Quantity)))
}

// Reconcile settles the deposit against the return charges. At most one of
// refund and balance is positive.
func Reconcile(deposit, lateFee, damage decimal.Decimal) (refund, balance decimal.Decimal) {
	charges := lateFee.Add(damage)
	refund = deposit.Sub(charges)
	if refund.IsNegative() {
		refund = decimal.Zero
	}
	balance = charges.Sub(deposit)
	if balance.IsNegative() {
		balance = decimal.Zero
	}
	return refund, balance
}

func cheaper(a, b decimal.Decimal) decimal.Decimal {
	if b.LessThan(a) {
		return b
	}
	return a
}
