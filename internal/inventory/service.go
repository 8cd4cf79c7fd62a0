package inventory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

// AuditPort records state changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPort publishes integration events. Implementations must not fail the
// calling operation; delivery happens out of band.
type EventPort interface {
	Emit(ctx context.Context, eventType string, data any)
}

// Service coordinates inventory unit lifecycle operations. Every status
// change writes exactly one stock movement and a matching level delta inside
// one transaction.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	events EventPort
}

// NewService builds a Service.
func NewService(repo RepositoryPort, audit AuditPort, events EventPort) *Service {
	return &Service{repo: repo, audit: audit, events: events}
}

// ReceiveInput describes a bulk receipt of serialized units.
type ReceiveInput struct {
	ItemID        int64
	LocationID    int64
	SerialNumbers []string
	AcquiredCost  decimal.Decimal
	Note          string
	ActorID       int64
}

// StatusChangeInput describes a manual unit status move.
type StatusChangeInput struct {
	UnitID  int64
	Status  UnitStatus
	Note    string
	ActorID int64
}

// TransferInput moves AVAILABLE units to another location.
type TransferInput struct {
	UnitIDs      []int64
	ToLocationID int64
	Note         string
	ActorID      int64
}

// ReserveInput claims AVAILABLE units for a sales order or rental.
type ReserveInput struct {
	ItemID     int64
	LocationID int64
	Quantity   int
	RefModule  string
	RefID      string
	ActorID    int64
}

// UnitReturn describes the per-unit outcome of a rental return.
type UnitReturn struct {
	UnitID  int64
	Damaged bool
	Note    string
}

// Ref ties movements back to the document that caused them.
type Ref struct {
	Module  string
	ID      string
	ActorID int64
	Note    string
}

// Receive inserts the units as AVAILABLE with RECEIPT movements. Serial
// numbers are normalized; a duplicate anywhere in the batch rejects the
// whole batch.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) ([]InventoryUnit, error) {
	if input.ItemID <= 0 || input.LocationID <= 0 {
		return nil, httpx.NewValidationError("item_id", "item and location are required")
	}
	if len(input.SerialNumbers) == 0 {
		return nil, httpx.NewValidationError("serial_numbers", "at least one serial number is required")
	}
	if input.AcquiredCost.IsNegative() {
		return nil, httpx.NewValidationError("acquired_cost", "must not be negative")
	}
	serials := make([]string, 0, len(input.SerialNumbers))
	seen := make(map[string]struct{}, len(input.SerialNumbers))
	for _, raw := range input.SerialNumbers {
		serial := shared.NormalizeCode(raw)
		if serial == "" {
			return nil, httpx.NewValidationError("serial_numbers", "serial numbers must not be blank")
		}
		if _, dup := seen[serial]; dup {
			return nil, fmt.Errorf("inventory: duplicate serial %s in batch: %w", serial, httpx.ErrConflict)
		}
		seen[serial] = struct{}{}
		serials = append(serials, serial)
	}

	now := time.Now()
	units := make([]InventoryUnit, 0, len(serials))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, serial := range serials {
			unit := InventoryUnit{
				ItemID:       input.ItemID,
				LocationID:   input.LocationID,
				SerialNumber: serial,
				Status:       UnitStatusAvailable,
				AcquiredCost: input.AcquiredCost,
				IsActive:     true,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			id, err := tx.InsertUnit(ctx, unit)
			if err != nil {
				return fmt.Errorf("inventory: receive serial %s: %w", serial, err)
			}
			unit.ID = id
			if _, err := tx.InsertMovement(ctx, StockMovement{
				ItemID:       input.ItemID,
				LocationID:   input.LocationID,
				UnitID:       id,
				MovementType: MovementReceipt,
				Quantity:     1,
				RefModule:    "inventory",
				ActorID:      input.ActorID,
				Note:         input.Note,
				OccurredAt:   now,
			}); err != nil {
				return err
			}
			units = append(units, unit)
		}
		return tx.ApplyLevelDelta(ctx, input.ItemID, input.LocationID,
			LevelDelta{OnHand: len(serials), Available: len(serials)})
	})
	if err != nil {
		return nil, err
	}
	s.record(ctx, input.ActorID, "inventory:receive", "item", input.ItemID, map[string]any{
		"location_id": input.LocationID,
		"count":       len(serials),
	})
	return units, nil
}

// ChangeStatus performs a manual unit transition. Only the maintenance and
// damage lanes are reachable here; reservation, rental and sale moves belong
// to their owning documents.
func (s *Service) ChangeStatus(ctx context.Context, input StatusChangeInput) (InventoryUnit, error) {
	switch input.Status {
	case UnitStatusAvailable, UnitStatusMaintenance, UnitStatusDamaged:
	default:
		return InventoryUnit{}, httpx.NewValidationError("status",
			"manual moves may only target AVAILABLE, MAINTENANCE or DAMAGED")
	}
	var updated InventoryUnit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		unit, err := tx.GetUnitForUpdate(ctx, input.UnitID)
		if err != nil {
			return err
		}
		if !unit.IsActive {
			return fmt.Errorf("inventory: unit %d is retired: %w", unit.ID, httpx.ErrConflict)
		}
		if unit.Status == input.Status {
			return fmt.Errorf("inventory: unit %d already %s: %w", unit.ID, unit.Status, httpx.ErrConflict)
		}
		switch unit.Status {
		case UnitStatusAvailable, UnitStatusMaintenance, UnitStatusDamaged:
		default:
			// RESERVED/RENTED units belong to their order or rental; SOLD is
			// terminal.
			return fmt.Errorf("inventory: unit %d is %s and owned by its document: %w",
				unit.ID, unit.Status, httpx.ErrConflict)
		}
		ref := Ref{Module: "inventory", ActorID: input.ActorID, Note: input.Note}
		if err := s.transition(ctx, tx, &unit, input.Status, ref, time.Now(), input.Note); err != nil {
			return err
		}
		updated = unit
		return nil
	})
	if err != nil {
		return InventoryUnit{}, err
	}
	s.record(ctx, input.ActorID, "inventory:status_change", "inventory_unit", input.UnitID, map[string]any{
		"status": string(input.Status),
	})
	s.emit(ctx, "inventory.unit_status_changed", map[string]any{
		"unit_id":       updated.ID,
		"item_id":       updated.ItemID,
		"location_id":   updated.LocationID,
		"serial_number": updated.SerialNumber,
		"status":        string(updated.Status),
	})
	return updated, nil
}

// Transfer relocates AVAILABLE units, writing TRANSFER_OUT at the source and
// TRANSFER_IN at the destination.
func (s *Service) Transfer(ctx context.Context, input TransferInput) error {
	if len(input.UnitIDs) == 0 {
		return httpx.NewValidationError("unit_ids", "at least one unit is required")
	}
	if input.ToLocationID <= 0 {
		return httpx.NewValidationError("to_location_id", "destination location is required")
	}
	now := time.Now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, unitID := range input.UnitIDs {
			unit, err := tx.GetUnitForUpdate(ctx, unitID)
			if err != nil {
				return err
			}
			if !unit.IsActive {
				return fmt.Errorf("inventory: unit %d is retired: %w", unitID, httpx.ErrConflict)
			}
			if unit.Status != UnitStatusAvailable {
				return fmt.Errorf("inventory: unit %d is %s, only AVAILABLE units transfer: %w",
					unitID, unit.Status, httpx.ErrConflict)
			}
			if unit.LocationID == input.ToLocationID {
				return httpx.NewValidationError("to_location_id", "destination equals current location")
			}
			if err := tx.MoveUnit(ctx, unitID, input.ToLocationID); err != nil {
				return err
			}
			out := StockMovement{
				ItemID:       unit.ItemID,
				LocationID:   unit.LocationID,
				UnitID:       unitID,
				MovementType: MovementTransferOut,
				Quantity:     -1,
				RefModule:    "inventory",
				ActorID:      input.ActorID,
				Note:         input.Note,
				OccurredAt:   now,
			}
			if _, err := tx.InsertMovement(ctx, out); err != nil {
				return err
			}
			in := out
			in.LocationID = input.ToLocationID
			in.MovementType = MovementTransferIn
			in.Quantity = 1
			if _, err := tx.InsertMovement(ctx, in); err != nil {
				return err
			}
			if err := tx.ApplyLevelDelta(ctx, unit.ItemID, unit.LocationID,
				LevelDelta{OnHand: -1, Available: -1}); err != nil {
				return err
			}
			if err := tx.ApplyLevelDelta(ctx, unit.ItemID, input.ToLocationID,
				LevelDelta{OnHand: 1, Available: 1}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.record(ctx, input.ActorID, "inventory:transfer", "location", input.ToLocationID, map[string]any{
		"unit_ids": input.UnitIDs,
	})
	return nil
}

// Reserve claims Quantity AVAILABLE units for the referenced document using
// FOR UPDATE SKIP LOCKED, so concurrent reservations split the pool instead
// of blocking. Insufficient stock fails the whole reservation.
func (s *Service) Reserve(ctx context.Context, input ReserveInput) ([]InventoryUnit, error) {
	if input.Quantity <= 0 {
		return nil, httpx.NewValidationError("quantity", "must be positive")
	}
	var reserved []InventoryUnit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		units, err := tx.LockAvailableUnits(ctx, input.ItemID, input.LocationID, input.Quantity)
		if err != nil {
			return err
		}
		if len(units) < input.Quantity {
			return fmt.Errorf("inventory: %d of %d units available for item %d at location %d: %w",
				len(units), input.Quantity, input.ItemID, input.LocationID, httpx.ErrStockUnavailable)
		}
		now := time.Now()
		ref := Ref{Module: input.RefModule, ID: input.RefID, ActorID: input.ActorID}
		for i := range units {
			if err := s.transition(ctx, tx, &units[i], UnitStatusReserved, ref, now, ""); err != nil {
				return err
			}
		}
		reserved = units
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reserved, nil
}

// Release returns reserved units to AVAILABLE (order cancelled, rental
// cancelled).
func (s *Service) Release(ctx context.Context, unitIDs []int64, ref Ref) error {
	return s.bulkTransition(ctx, unitIDs, UnitStatusReserved, UnitStatusAvailable, ref)
}

// MarkRented flips reserved units to RENTED at rental pickup.
func (s *Service) MarkRented(ctx context.Context, unitIDs []int64, ref Ref) error {
	return s.bulkTransition(ctx, unitIDs, UnitStatusReserved, UnitStatusRented, ref)
}

// MarkSold flips reserved units to SOLD at order fulfilment. SOLD leaves
// on_hand.
func (s *Service) MarkSold(ctx context.Context, unitIDs []int64, ref Ref) error {
	return s.bulkTransition(ctx, unitIDs, UnitStatusReserved, UnitStatusSold, ref)
}

// ReturnUnits settles rented units on rental return: undamaged units go back
// to AVAILABLE, damaged ones to DAMAGED.
func (s *Service) ReturnUnits(ctx context.Context, returns []UnitReturn, ref Ref) error {
	if len(returns) == 0 {
		return httpx.NewValidationError("lines", "at least one unit is required")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := time.Now()
		for _, ret := range returns {
			unit, err := tx.GetUnitForUpdate(ctx, ret.UnitID)
			if err != nil {
				return err
			}
			if unit.Status != UnitStatusRented {
				return fmt.Errorf("inventory: unit %d is %s, expected RENTED: %w",
					unit.ID, unit.Status, httpx.ErrConflict)
			}
			target := UnitStatusAvailable
			if ret.Damaged {
				target = UnitStatusDamaged
			}
			unitRef := ref
			if ret.Note != "" {
				unitRef.Note = ret.Note
			}
			if err := s.transition(ctx, tx, &unit, target, unitRef, now, ret.Note); err != nil {
				return err
			}
		}
		return nil
	})
}

// Retire removes units from stock for a shipped purchase return. Units must
// be AVAILABLE or DAMAGED.
func (s *Service) Retire(ctx context.Context, unitIDs []int64, ref Ref) error {
	if len(unitIDs) == 0 {
		return httpx.NewValidationError("unit_ids", "at least one unit is required")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := time.Now()
		for _, unitID := range unitIDs {
			unit, err := tx.GetUnitForUpdate(ctx, unitID)
			if err != nil {
				return err
			}
			if !unit.IsActive {
				return fmt.Errorf("inventory: unit %d already retired: %w", unitID, httpx.ErrConflict)
			}
			if unit.Status != UnitStatusAvailable && unit.Status != UnitStatusDamaged {
				return fmt.Errorf("inventory: unit %d is %s, only AVAILABLE or DAMAGED units ship back: %w",
					unitID, unit.Status, httpx.ErrConflict)
			}
			if err := tx.RetireUnit(ctx, unitID); err != nil {
				return err
			}
			if _, err := tx.InsertMovement(ctx, StockMovement{
				ItemID:       unit.ItemID,
				LocationID:   unit.LocationID,
				UnitID:       unitID,
				MovementType: MovementPurchaseReturn,
				Quantity:     -1,
				RefModule:    ref.Module,
				RefID:        ref.ID,
				ActorID:      ref.ActorID,
				Note:         ref.Note,
				OccurredAt:   now,
			}); err != nil {
				return err
			}
			if err := tx.ApplyLevelDelta(ctx, unit.ItemID, unit.LocationID,
				bucketDelta(unit.Status, -1)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Availability counts AVAILABLE units for the item at the location.
func (s *Service) Availability(ctx context.Context, itemID, locationID int64) (int, error) {
	return s.repo.CountAvailable(ctx, itemID, locationID)
}

// GetUnit loads one unit.
func (s *Service) GetUnit(ctx context.Context, id int64) (InventoryUnit, error) {
	return s.repo.GetUnit(ctx, id)
}

// ListUnits lists units with filters.
func (s *Service) ListUnits(ctx context.Context, filter UnitFilter) ([]InventoryUnit, int, error) {
	return s.repo.ListUnits(ctx, filter)
}

// ListMovements lists the movement ledger with filters.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error) {
	return s.repo.ListMovements(ctx, filter)
}

// ItemStock returns the per-location level rows for an item.
func (s *Service) ItemStock(ctx context.Context, itemID int64) ([]StockLevel, error) {
	return s.repo.StockLevelsForItem(ctx, itemID)
}

// Recount rebuilds stock levels from the units table (nightly job), returning
// the number of rows that drifted.
func (s *Service) Recount(ctx context.Context) (int, error) {
	return s.repo.RecountLevels(ctx)
}

// bulkTransition moves each unit from the expected status to the target in
// one transaction, rejecting the batch on any mismatch.
func (s *Service) bulkTransition(ctx context.Context, unitIDs []int64, expected, target UnitStatus, ref Ref) error {
	if len(unitIDs) == 0 {
		return httpx.NewValidationError("unit_ids", "at least one unit is required")
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := time.Now()
		for _, unitID := range unitIDs {
			unit, err := tx.GetUnitForUpdate(ctx, unitID)
			if err != nil {
				return err
			}
			if unit.Status != expected {
				return fmt.Errorf("inventory: unit %d is %s, expected %s: %w",
					unitID, unit.Status, expected, httpx.ErrConflict)
			}
			if err := s.transition(ctx, tx, &unit, target, ref, now, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

// transition applies one legal status move: unit update, movement row, level
// delta. A non-empty condition replaces the unit's condition notes.
func (s *Service) transition(ctx context.Context, tx TxRepository, unit *InventoryUnit, target UnitStatus, ref Ref, now time.Time, condition string) error {
	if !CanTransition(unit.Status, target) {
		return fmt.Errorf("inventory: illegal transition %s to %s: %w", unit.Status, target, httpx.ErrConflict)
	}
	if err := tx.UpdateUnitStatus(ctx, unit.ID, target, condition); err != nil {
		return err
	}
	quantity := 1
	if target == UnitStatusSold {
		quantity = -1
	}
	if _, err := tx.InsertMovement(ctx, StockMovement{
		ItemID:       unit.ItemID,
		LocationID:   unit.LocationID,
		UnitID:       unit.ID,
		MovementType: movementFor(unit.Status, target),
		Quantity:     quantity,
		RefModule:    ref.Module,
		RefID:        ref.ID,
		ActorID:      ref.ActorID,
		Note:         ref.Note,
		OccurredAt:   now,
	}); err != nil {
		return err
	}
	if err := tx.ApplyLevelDelta(ctx, unit.ItemID, unit.LocationID, transitionDelta(unit.Status, target)); err != nil {
		return err
	}
	unit.Status = target
	if condition != "" {
		unit.Condition = condition
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
}

func (s *Service) emit(ctx context.Context, eventType string, data any) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, eventType, data)
}
