package rentals

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusReserved  Status = "RESERVED"
	StatusActive    Status = "ACTIVE"
	StatusOverdue   Status = "OVERDUE"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// ValidStatus reports whether s is a known rental status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusReserved, StatusActive, StatusOverdue, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Rental is a reservation of serialized units for a date window. Dates are
// date-only: the start day is chargeable, the end day is not (exclusive), and
// a window of zero or one day charges one day.
type Rental struct {
	ID                 int64           `json:"id"`
	DocNumber          string          `json:"doc_number"`
	CustomerID         int64           `json:"customer_id"`
	LocationID         int64           `json:"location_id"`
	Status             Status          `json:"status"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            time.Time       `json:"end_date"`
	PickedUpAt         *time.Time      `json:"picked_up_at,omitempty"`
	ReturnedAt         *time.Time      `json:"returned_at,omitempty"`
	RentalCharge       decimal.Decimal `json:"rental_charge"`
	DepositAmount      decimal.Decimal `json:"deposit_amount"`
	LateFee            decimal.Decimal `json:"late_fee"`
	DamageCharge       decimal.Decimal `json:"damage_charge"`
	RefundAmount       decimal.Decimal `json:"refund_amount"`
	BalanceDue         decimal.Decimal `json:"balance_due"`
	Notes              string          `json:"notes,omitempty"`
	CreatedBy          int64           `json:"created_by"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Lines              []RentalLine    `json:"lines,omitempty"`
}

// RentalLine snapshots the item's rates at reservation time so later
// repricing (extensions, late fees) does not chase catalog edits.
type RentalLine struct {
	ID             int64           `json:"id"`
	RentalID       int64           `json:"rental_id"`
	ItemID         int64           `json:"item_id"`
	Quantity       int             `json:"quantity"`
	DailyRate      decimal.Decimal `json:"daily_rate"`
	WeeklyRate     decimal.Decimal `json:"weekly_rate"`
	MonthlyRate    decimal.Decimal `json:"monthly_rate"`
	LateFeePerDay  decimal.Decimal `json:"late_fee_per_day"`
	DepositPerUnit decimal.Decimal `json:"deposit_per_unit"`
	UnitIDs        []int64         `json:"unit_ids,omitempty"`
}

// Settlement is the money outcome of a return.
type Settlement struct {
	LateFee      decimal.Decimal
	DamageCharge decimal.Decimal
	Refund       decimal.Decimal
	BalanceDue   decimal.Decimal
}
