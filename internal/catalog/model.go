package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// TrackingSerialized is the only tracking mode: every physical unit carries a
// serial number and its own status.
const TrackingSerialized = "SERIALIZED"

// Item is a catalog entry that can be rented out, sold, or both. All money
// fields are decimals; rates are per billing period.
type Item struct {
	ID               int64           `json:"id"`
	SKU              string          `json:"sku"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	BrandID          *int64          `json:"brand_id,omitempty"`
	UnitID           int64           `json:"unit_id"`
	SupplierID       *int64          `json:"supplier_id,omitempty"`
	Tracking         string          `json:"tracking"`
	SalePrice        decimal.Decimal `json:"sale_price"`
	DailyRate        decimal.Decimal `json:"daily_rate"`
	WeeklyRate       decimal.Decimal `json:"weekly_rate"`
	MonthlyRate      decimal.Decimal `json:"monthly_rate"`
	DepositAmount    decimal.Decimal `json:"deposit_amount"`
	ReplacementValue decimal.Decimal `json:"replacement_value"`
	LateFeePerDay    decimal.Decimal `json:"late_fee_per_day"`
	IsRentable       bool            `json:"is_rentable"`
	IsSellable       bool            `json:"is_sellable"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
