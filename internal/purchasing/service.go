package purchasing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-rms/meridian-rms/internal/catalog"
	"github.com/meridian-rms/meridian-rms/internal/inventory"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/suppliers"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

const refModule = "purchasing"

// SupplierPort resolves the supplier a return goes back to.
type SupplierPort interface {
	Get(ctx context.Context, id int64) (suppliers.Supplier, error)
}

// CatalogPort checks that returned items are sourced from the supplier.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (catalog.Item, error)
}

// InventoryPort covers the unit checks at creation and the retirement at ship.
type InventoryPort interface {
	GetUnit(ctx context.Context, id int64) (inventory.InventoryUnit, error)
	Retire(ctx context.Context, unitIDs []int64, ref inventory.Ref) error
}

// IdempotencyPort guards return creation against duplicate submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Release(ctx context.Context, key string) error
}

// AuditPort records state changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// EventPort publishes integration events out of band.
type EventPort interface {
	Emit(ctx context.Context, eventType string, data any)
}

// Service drives the RMA lifecycle. Units stay in stock through PENDING and
// APPROVED; the ship step retires them, so a unit rented out in the meantime
// blocks the shipment with a conflict instead of leaving the fleet silently.
type Service struct {
	repo        Repository
	suppliers   SupplierPort
	items       CatalogPort
	inventory   InventoryPort
	idempotency IdempotencyPort
	audit       AuditPort
	events      EventPort
}

func NewService(repo Repository, sup SupplierPort, items CatalogPort, inv InventoryPort, idempotency IdempotencyPort, audit AuditPort, events EventPort) *Service {
	return &Service{
		repo:        repo,
		suppliers:   sup,
		items:       items,
		inventory:   inv,
		idempotency: idempotency,
		audit:       audit,
		events:      events,
	}
}

// CreateLineInput sends units of one item back for a reason.
type CreateLineInput struct {
	ItemID         int64
	Reason         string
	ExpectedCredit decimal.Decimal
	UnitIDs        []int64
}

// CreateInput describes a new return to a supplier.
type CreateInput struct {
	SupplierID     int64
	LocationID     int64
	Notes          string
	Lines          []CreateLineInput
	IdempotencyKey string
	ActorID        int64
}

// Create validates the document against the supplier, catalog, and unit state
// and stores it as PENDING. No stock moves until the return ships.
func (s *Service) Create(ctx context.Context, input CreateInput) (PurchaseReturn, error) {
	if input.SupplierID <= 0 || input.LocationID <= 0 {
		return PurchaseReturn{}, httpx.NewValidationError("supplier_id", "supplier and location are required")
	}
	if len(input.Lines) == 0 {
		return PurchaseReturn{}, httpx.NewValidationError("lines", "at least one line is required")
	}

	supplier, err := s.suppliers.Get(ctx, input.SupplierID)
	if err != nil {
		if errors.Is(err, httpx.ErrNotFound) {
			return PurchaseReturn{}, httpx.NewValidationError("supplier_id", "supplier does not exist")
		}
		return PurchaseReturn{}, fmt.Errorf("verify supplier %d: %w", input.SupplierID, err)
	}
	if !supplier.IsActive {
		return PurchaseReturn{}, httpx.NewValidationError("supplier_id", "supplier is inactive")
	}

	lines, err := s.buildLines(ctx, input)
	if err != nil {
		return PurchaseReturn{}, err
	}

	if input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, refModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return PurchaseReturn{}, fmt.Errorf("duplicate request: %w", httpx.ErrConflict)
			}
			return PurchaseReturn{}, err
		}
	}

	var id int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		docNumber, err := tx.NextDocNumber(ctx, time.Now())
		if err != nil {
			return err
		}
		id, err = tx.Create(ctx, PurchaseReturn{
			RMANumber:  docNumber,
			SupplierID: input.SupplierID,
			LocationID: input.LocationID,
			Status:     StatusPending,
			Notes:      input.Notes,
			CreatedBy:  input.ActorID,
		})
		if err != nil {
			return err
		}
		for _, line := range lines {
			line.ReturnID = id
			lineID, err := tx.InsertLine(ctx, line)
			if err != nil {
				return err
			}
			if err := tx.SaveUnits(ctx, id, lineID, line.UnitIDs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, input.IdempotencyKey)
		return PurchaseReturn{}, err
	}

	s.record(ctx, input.ActorID, "purchasing:create", id, map[string]any{
		"supplier_id": input.SupplierID,
		"lines":       len(lines),
	})
	return s.repo.Get(ctx, id)
}

// Approve signs off a PENDING return for shipment.
func (s *Service) Approve(ctx context.Context, id, actorID int64) (PurchaseReturn, error) {
	ret, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseReturn{}, err
	}
	if ret.Status != StatusPending {
		return PurchaseReturn{}, fmt.Errorf("purchase return %s is %s, only PENDING returns can be approved: %w",
			ret.RMANumber, ret.Status, httpx.ErrConflict)
	}
	ok, err := s.repo.Approve(ctx, id, actorID)
	if err != nil {
		return PurchaseReturn{}, err
	}
	if !ok {
		return PurchaseReturn{}, fmt.Errorf("purchase return %s changed state: %w", ret.RMANumber, httpx.ErrConflict)
	}
	s.record(ctx, actorID, "purchasing:approve", id, nil)
	return s.repo.Get(ctx, id)
}

// Ship retires the units from stock and marks the return SHIPPED. A unit no
// longer AVAILABLE or DAMAGED blocks the whole shipment.
func (s *Service) Ship(ctx context.Context, id, actorID int64) (PurchaseReturn, error) {
	ret, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseReturn{}, err
	}
	if ret.Status != StatusApproved {
		return PurchaseReturn{}, fmt.Errorf("purchase return %s is %s, only APPROVED returns ship: %w",
			ret.RMANumber, ret.Status, httpx.ErrConflict)
	}

	ok, err := s.repo.UpdateStatus(ctx, id, StatusApproved, StatusShipped, "")
	if err != nil {
		return PurchaseReturn{}, err
	}
	if !ok {
		return PurchaseReturn{}, fmt.Errorf("purchase return %s changed state: %w", ret.RMANumber, httpx.ErrConflict)
	}

	ref := inventory.Ref{
		Module:  refModule,
		ID:      strconv.FormatInt(id, 10),
		ActorID: actorID,
		Note:    "RMA " + ret.RMANumber,
	}
	if err := s.inventory.Retire(ctx, ret.unitIDs(), ref); err != nil {
		if _, revertErr := s.repo.UpdateStatus(ctx, id, StatusShipped, StatusApproved, ""); revertErr != nil {
			err = errors.Join(err, revertErr)
		}
		return PurchaseReturn{}, fmt.Errorf("retire units: %w", err)
	}

	s.record(ctx, actorID, "purchasing:ship", id, map[string]any{"units": len(ret.unitIDs())})
	return s.repo.Get(ctx, id)
}

// Credit records the supplier's credit note and closes the return.
func (s *Service) Credit(ctx context.Context, id int64, amount decimal.Decimal, actorID int64) (PurchaseReturn, error) {
	if amount.IsNegative() {
		return PurchaseReturn{}, httpx.NewValidationError("credit_amount", "cannot be negative")
	}
	ret, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseReturn{}, err
	}
	if ret.Status != StatusShipped {
		return PurchaseReturn{}, fmt.Errorf("purchase return %s is %s, only SHIPPED returns take credit: %w",
			ret.RMANumber, ret.Status, httpx.ErrConflict)
	}
	ok, err := s.repo.Credit(ctx, id, amount)
	if err != nil {
		return PurchaseReturn{}, err
	}
	if !ok {
		return PurchaseReturn{}, fmt.Errorf("purchase return %s changed state: %w", ret.RMANumber, httpx.ErrConflict)
	}

	s.record(ctx, actorID, "purchasing:credit", id, map[string]any{"credit_amount": amount.String()})
	s.emit(ctx, "purchase_return.credited", map[string]any{
		"id":            id,
		"rma_number":    ret.RMANumber,
		"supplier_id":   ret.SupplierID,
		"credit_amount": amount.String(),
	})
	return s.repo.Get(ctx, id)
}

// Cancel voids a return that has not shipped yet.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, reason string) (PurchaseReturn, error) {
	ret, err := s.repo.Get(ctx, id)
	if err != nil {
		return PurchaseReturn{}, err
	}
	if ret.Status != StatusPending && ret.Status != StatusApproved {
		return PurchaseReturn{}, fmt.Errorf("purchase return %s is %s, only PENDING or APPROVED returns cancel: %w",
			ret.RMANumber, ret.Status, httpx.ErrConflict)
	}
	ok, err := s.repo.UpdateStatus(ctx, id, ret.Status, StatusCancelled, reason)
	if err != nil {
		return PurchaseReturn{}, err
	}
	if !ok {
		return PurchaseReturn{}, fmt.Errorf("purchase return %s changed state: %w", ret.RMANumber, httpx.ErrConflict)
	}
	s.record(ctx, actorID, "purchasing:cancel", id, map[string]any{"reason": reason})
	return s.repo.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id int64) (PurchaseReturn, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseReturn, int, error) {
	return s.repo.List(ctx, filter)
}

func (r PurchaseReturn) unitIDs() []int64 {
	var ids []int64
	for _, line := range r.Lines {
		ids = append(ids, line.UnitIDs...)
	}
	return ids
}

// buildLines validates every line and unit. Units must carry the line's item,
// sit at the return's location, and be AVAILABLE or DAMAGED right now.
func (s *Service) buildLines(ctx context.Context, input CreateInput) ([]ReturnLine, error) {
	lines := make([]ReturnLine, 0, len(input.Lines))
	fields := map[string]string{}
	seen := map[int64]bool{}
	for i, in := range input.Lines {
		key := "lines[" + strconv.Itoa(i) + "]"
		if !ValidReason(in.Reason) {
			fields[key+".reason"] = "must be DEFECTIVE, OVERSTOCK, RECALL, or WARRANTY"
			continue
		}
		if in.ExpectedCredit.IsNegative() {
			fields[key+".expected_credit"] = "cannot be negative"
			continue
		}
		if len(in.UnitIDs) == 0 {
			fields[key+".unit_ids"] = "at least one unit is required"
			continue
		}

		item, err := s.items.Get(ctx, in.ItemID)
		if err != nil {
			if errors.Is(err, httpx.ErrNotFound) {
				fields[key+".item_id"] = "item does not exist"
				continue
			}
			return nil, fmt.Errorf("verify item %d: %w", in.ItemID, err)
		}
		if item.SupplierID == nil || *item.SupplierID != input.SupplierID {
			fields[key+".item_id"] = "item is not sourced from this supplier"
			continue
		}

		for _, unitID := range in.UnitIDs {
			if seen[unitID] {
				fields[key+".unit_ids"] = fmt.Sprintf("unit %d listed twice", unitID)
				continue
			}
			seen[unitID] = true

			unit, err := s.inventory.GetUnit(ctx, unitID)
			if err != nil {
				if errors.Is(err, httpx.ErrNotFound) {
					fields[key+".unit_ids"] = fmt.Sprintf("unit %d does not exist", unitID)
					continue
				}
				return nil, fmt.Errorf("verify unit %d: %w", unitID, err)
			}
			if !unit.IsActive {
				fields[key+".unit_ids"] = fmt.Sprintf("unit %d is already retired", unitID)
				continue
			}
			if unit.ItemID != in.ItemID {
				fields[key+".unit_ids"] = fmt.Sprintf("unit %d is a different item", unitID)
				continue
			}
			if unit.LocationID != input.LocationID {
				fields[key+".unit_ids"] = fmt.Sprintf("unit %d is at another location", unitID)
				continue
			}
			if unit.Status != inventory.UnitStatusAvailable && unit.Status != inventory.UnitStatusDamaged {
				fields[key+".unit_ids"] = fmt.Sprintf("unit %d is %s, only AVAILABLE or DAMAGED units return", unitID, unit.Status)
				continue
			}
		}

		lines = append(lines, ReturnLine{
			ItemID:         in.ItemID,
			Reason:         in.Reason,
			ExpectedCredit: in.ExpectedCredit,
			UnitIDs:        in.UnitIDs,
		})
	}
	if len(fields) > 0 {
		return nil, &httpx.ValidationError{Message: "purchase return validation failed", Fields: fields}
	}
	return lines, nil
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key == "" {
		return
	}
	_ = s.idempotency.Release(ctx, key)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_return",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       time.Now(),
	})
}

func (s *Service) emit(ctx context.Context, eventType string, data any) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, eventType, data)
}
