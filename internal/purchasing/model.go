package purchasing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the purchase return lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusApproved  Status = "APPROVED"
	StatusShipped   Status = "SHIPPED"
	StatusCredited  Status = "CREDITED"
	StatusCancelled Status = "CANCELLED"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusShipped, StatusCredited, StatusCancelled:
		return true
	}
	return false
}

// Return reasons accepted on RMA lines.
const (
	ReasonDefective = "DEFECTIVE"
	ReasonOverstock = "OVERSTOCK"
	ReasonRecall    = "RECALL"
	ReasonWarranty  = "WARRANTY"
)

// ValidReason reports whether r is an accepted return reason.
func ValidReason(r string) bool {
	switch r {
	case ReasonDefective, ReasonOverstock, ReasonRecall, ReasonWarranty:
		return true
	}
	return false
}

// PurchaseReturn is an RMA back to a supplier. Units stay in stock until the
// return ships; shipping retires them from the fleet.
type PurchaseReturn struct {
	ID                 int64           `json:"id"`
	RMANumber          string          `json:"rma_number"`
	SupplierID         int64           `json:"supplier_id"`
	LocationID         int64           `json:"location_id"`
	Status             Status          `json:"status"`
	CreditAmount       decimal.Decimal `json:"credit_amount"`
	Notes              string          `json:"notes,omitempty"`
	CreatedBy          int64           `json:"created_by"`
	ApprovedBy         *int64          `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time      `json:"approved_at,omitempty"`
	ShippedAt          *time.Time      `json:"shipped_at,omitempty"`
	CreditedAt         *time.Time      `json:"credited_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Lines              []ReturnLine    `json:"lines,omitempty"`
}

// ReturnLine groups the units of one item going back, with the reason and the
// credit the supplier is expected to issue for them.
type ReturnLine struct {
	ID             int64           `json:"id"`
	ReturnID       int64           `json:"return_id"`
	ItemID         int64           `json:"item_id"`
	Reason         string          `json:"reason"`
	ExpectedCredit decimal.Decimal `json:"expected_credit"`
	UnitIDs        []int64         `json:"unit_ids"`
}
