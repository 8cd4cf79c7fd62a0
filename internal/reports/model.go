package reports

import (
	"time"

	"github.com/shopspring/decimal"
)

// SalesDay is one bucket of the sales-summary series.
type SalesDay struct {
	Day     string          `json:"day"`
	Orders  int             `json:"orders"`
	Revenue decimal.Decimal `json:"revenue"`
}

// SalesSummary aggregates order activity inside a window. Revenue and tax
// count fulfilled orders only; order counts include everything but
// cancellations.
type SalesSummary struct {
	From            string          `json:"from"`
	To              string          `json:"to"`
	LocationID      int64           `json:"location_id,omitempty"`
	TotalOrders     int             `json:"total_orders"`
	FulfilledOrders int             `json:"fulfilled_orders"`
	Revenue         decimal.Decimal `json:"revenue"`
	Tax             decimal.Decimal `json:"tax"`
	ByDay           []SalesDay      `json:"by_day"`
	GeneratedAt     time.Time       `json:"generated_at"`
}

// ItemUtilization reports one rentable item's fleet usage inside a window.
// Revenue is the daily-rate share of each rental; band discounts stay on the
// rental document.
type ItemUtilization struct {
	ItemID         int64           `json:"item_id"`
	SKU            string          `json:"sku"`
	Name           string          `json:"name"`
	FleetSize      int             `json:"fleet_size"`
	RentedUnitDays int             `json:"rented_unit_days"`
	UtilizationPct decimal.Decimal `json:"utilization_pct"`
	Revenue        decimal.Decimal `json:"revenue"`
}

// UtilizationReport is the rental-utilization response.
type UtilizationReport struct {
	From        string            `json:"from"`
	To          string            `json:"to"`
	Items       []ItemUtilization `json:"items"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// StockRow is one item/location stock level with its valuation at acquired
// cost.
type StockRow struct {
	ItemID      int64           `json:"item_id"`
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	LocationID  int64           `json:"location_id"`
	OnHand      int             `json:"on_hand"`
	Available   int             `json:"available"`
	Reserved    int             `json:"reserved"`
	Rented      int             `json:"rented"`
	Maintenance int             `json:"maintenance"`
	Damaged     int             `json:"damaged"`
	Valuation   decimal.Decimal `json:"valuation"`
}

// StockReport is the stock-levels response.
type StockReport struct {
	LocationID     int64           `json:"location_id,omitempty"`
	Rows           []StockRow      `json:"rows"`
	TotalValuation decimal.Decimal `json:"total_valuation"`
	GeneratedAt    time.Time       `json:"generated_at"`
}
