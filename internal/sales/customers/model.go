package customers

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a rental/sales counterparty. OutstandingBalance tracks open
// exposure (confirmed orders, active rentals); CreditLimit caps it. A zero
// limit means the customer has no credit at all.
type Customer struct {
	ID                 int64           `json:"id"`
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	Email              string          `json:"email,omitempty"`
	Phone              string          `json:"phone,omitempty"`
	BillingAddress     string          `json:"billing_address,omitempty"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	IsActive           bool            `json:"is_active"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}
