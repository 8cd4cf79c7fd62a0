package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnitStatus enumerates the lifecycle states of a serialized inventory unit.
type UnitStatus string

const (
	UnitStatusAvailable   UnitStatus = "AVAILABLE"
	UnitStatusReserved    UnitStatus = "RESERVED"
	UnitStatusRented      UnitStatus = "RENTED"
	UnitStatusMaintenance UnitStatus = "MAINTENANCE"
	UnitStatusDamaged     UnitStatus = "DAMAGED"
	UnitStatusSold        UnitStatus = "SOLD"
)

// legalTransitions is the unit status graph. SOLD is terminal; retired units
// (is_active=false) leave the graph entirely.
var legalTransitions = map[UnitStatus][]UnitStatus{
	UnitStatusAvailable:   {UnitStatusReserved, UnitStatusRented, UnitStatusMaintenance, UnitStatusDamaged, UnitStatusSold},
	UnitStatusReserved:    {UnitStatusAvailable, UnitStatusRented, UnitStatusSold},
	UnitStatusRented:      {UnitStatusAvailable, UnitStatusDamaged, UnitStatusMaintenance},
	UnitStatusMaintenance: {UnitStatusAvailable, UnitStatusDamaged},
	UnitStatusDamaged:     {UnitStatusMaintenance, UnitStatusAvailable},
	UnitStatusSold:        nil,
}

// CanTransition reports whether from → to is a legal unit status move.
func CanTransition(from, to UnitStatus) bool {
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidUnitStatus reports whether the string names a known status.
func ValidUnitStatus(s string) bool {
	switch UnitStatus(s) {
	case UnitStatusAvailable, UnitStatusReserved, UnitStatusRented,
		UnitStatusMaintenance, UnitStatusDamaged, UnitStatusSold:
		return true
	}
	return false
}

// MovementType enumerates stock movement causes.
type MovementType string

const (
	MovementReceipt        MovementType = "RECEIPT"
	MovementReserve        MovementType = "RESERVE"
	MovementRelease        MovementType = "RELEASE"
	MovementPickup         MovementType = "PICKUP"
	MovementReturn         MovementType = "RETURN"
	MovementMaintenanceIn  MovementType = "MAINTENANCE_IN"
	MovementMaintenanceOut MovementType = "MAINTENANCE_OUT"
	MovementDamage         MovementType = "DAMAGE"
	MovementRepair         MovementType = "REPAIR"
	MovementSale           MovementType = "SALE"
	MovementPurchaseReturn MovementType = "PURCHASE_RETURN"
	MovementTransferIn     MovementType = "TRANSFER_IN"
	MovementTransferOut    MovementType = "TRANSFER_OUT"
	MovementAdjustment     MovementType = "ADJUSTMENT"
)

// movementFor maps a status transition onto the movement type recorded for
// it. Transitions reached through dedicated flows (transfer, retire) carry
// their own movement types and never pass through here.
func movementFor(from, to UnitStatus) MovementType {
	switch {
	case from == UnitStatusAvailable && to == UnitStatusReserved:
		return MovementReserve
	case from == UnitStatusReserved && to == UnitStatusAvailable:
		return MovementRelease
	case from == UnitStatusReserved && to == UnitStatusRented,
		from == UnitStatusAvailable && to == UnitStatusRented:
		return MovementPickup
	case from == UnitStatusRented && to == UnitStatusAvailable:
		return MovementReturn
	case to == UnitStatusMaintenance:
		return MovementMaintenanceIn
	case from == UnitStatusMaintenance && to == UnitStatusAvailable:
		return MovementMaintenanceOut
	case to == UnitStatusDamaged:
		return MovementDamage
	case from == UnitStatusDamaged && to == UnitStatusAvailable:
		return MovementRepair
	case to == UnitStatusSold:
		return MovementSale
	default:
		return MovementAdjustment
	}
}

// InventoryUnit is one serialized, individually tracked item instance.
type InventoryUnit struct {
	ID           int64           `json:"id"`
	ItemID       int64           `json:"item_id"`
	LocationID   int64           `json:"location_id"`
	SerialNumber string          `json:"serial_number"`
	Status       UnitStatus      `json:"status"`
	Condition    string          `json:"condition,omitempty"`
	AcquiredCost decimal.Decimal `json:"acquired_cost"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// StockMovement is the append-only ledger row written for every unit change.
type StockMovement struct {
	ID           int64        `json:"id"`
	ItemID       int64        `json:"item_id"`
	LocationID   int64        `json:"location_id"`
	UnitID       int64        `json:"unit_id"`
	MovementType MovementType `json:"movement_type"`
	Quantity     int          `json:"quantity"`
	RefModule    string       `json:"ref_module,omitempty"`
	RefID        string       `json:"ref_id,omitempty"`
	ActorID      int64        `json:"actor_id,omitempty"`
	Note         string       `json:"note,omitempty"`
	OccurredAt   time.Time    `json:"occurred_at"`
}

// StockLevel is the per (item, location) counter row kept in lockstep with
// unit transitions. on_hand = available+reserved+rented+maintenance+damaged;
// SOLD and retired units are excluded.
type StockLevel struct {
	ItemID      int64     `json:"item_id"`
	LocationID  int64     `json:"location_id"`
	OnHand      int       `json:"on_hand"`
	Available   int       `json:"available"`
	Reserved    int       `json:"reserved"`
	Rented      int       `json:"rented"`
	Maintenance int       `json:"maintenance"`
	Damaged     int       `json:"damaged"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LevelDelta carries signed adjustments applied to a stock level row.
type LevelDelta struct {
	OnHand      int
	Available   int
	Reserved    int
	Rented      int
	Maintenance int
	Damaged     int
}

// IsZero reports whether the delta changes nothing.
func (d LevelDelta) IsZero() bool {
	return d == LevelDelta{}
}

func (d LevelDelta) add(other LevelDelta) LevelDelta {
	return LevelDelta{
		OnHand:      d.OnHand + other.OnHand,
		Available:   d.Available + other.Available,
		Reserved:    d.Reserved + other.Reserved,
		Rented:      d.Rented + other.Rented,
		Maintenance: d.Maintenance + other.Maintenance,
		Damaged:     d.Damaged + other.Damaged,
	}
}

// bucketDelta returns the delta that moves one unit into (sign=+1) or out of
// (sign=-1) the level bucket for the given status. SOLD has no bucket.
func bucketDelta(status UnitStatus, sign int) LevelDelta {
	switch status {
	case UnitStatusAvailable:
		return LevelDelta{OnHand: sign, Available: sign}
	case UnitStatusReserved:
		return LevelDelta{OnHand: sign, Reserved: sign}
	case UnitStatusRented:
		return LevelDelta{OnHand: sign, Rented: sign}
	case UnitStatusMaintenance:
		return LevelDelta{OnHand: sign, Maintenance: sign}
	case UnitStatusDamaged:
		return LevelDelta{OnHand: sign, Damaged: sign}
	default:
		return LevelDelta{}
	}
}

// transitionDelta combines leaving the old bucket and entering the new one.
func transitionDelta(from, to UnitStatus) LevelDelta {
	return bucketDelta(from, -1).add(bucketDelta(to, +1))
}
