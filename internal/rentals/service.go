package rentals

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-rms/meridian-rms/internal/catalog"
	"github.com/meridian-rms/meridian-rms/internal/inventory"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

const refModule = "rentals"

// Unit conditions reported on return.
const (
	ConditionOK      = "OK"
	ConditionDamaged = "DAMAGED"
)

// CustomerPort is the slice of the customer service rentals charge against.
// The binding credit step for a rental is the unit reservation itself, so
// pickup charges without a second limit check.
type CustomerPort interface {
	CheckCredit(ctx context.Context, id int64, amount decimal.Decimal) error
	ReleaseCredit(ctx context.Context, id int64, amount decimal.Decimal) error
	AddCharge(ctx context.Context, id int64, amount decimal.Decimal) error
}

// CatalogPort resolves items whose rates get snapshotted onto rental lines.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (catalog.Item, error)
}

// InventoryPort covers the unit movements a rental drives.
type InventoryPort interface {
	Reserve(ctx context.Context, input inventory.ReserveInput) ([]inventory.InventoryUnit, error)
	Release(ctx context.Context, unitIDs []int64, ref inventory.Ref) error
	MarkRented(ctx context.Context, unitIDs []int64, ref inventory.Ref) error
	ReturnUnits(ctx context.Context, returns []inventory.UnitReturn, ref inventory.Ref) error
}

// IdempotencyPort guards rental creation against duplicate submissions.
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

// Service drives the rental lifecycle. Units are claimed at reservation time,
// money moves at pickup and return, and cross-module failures compensate the
// steps already applied.
type Service struct {
	repo        Repository
	customers   CustomerPort
	items       CatalogPort
	inventory   InventoryPort
	idempotency IdempotencyPort
	audit       AuditPort
	events      EventPort
}

func NewService(repo Repository, customers CustomerPort, items CatalogPort, inv InventoryPort, idempotency IdempotencyPort, audit AuditPort, events EventPort) *Service {
	return &Service{
		repo:        repo,
		customers:   customers,
		items:       items,
		inventory:   inv,
		idempotency: idempotency,
		audit:       audit,
		events:      events,
	}
}

// CreateLineInput requests a quantity of one rentable item.
type CreateLineInput struct {
	ItemID   int64
	Quantity int
}

// CreateInput describes a new reservation.
type CreateInput struct {
	CustomerID     int64
	LocationID     int64
	StartDate      time.Time
	EndDate        time.Time
	Notes          string
	Lines          []CreateLineInput
	IdempotencyKey string
	ActorID        int64
}

// ReturnLineInput reports the condition of one returned unit.
type ReturnLineInput struct {
	UnitID       int64
	Condition    string
	DamageCharge decimal.Decimal
	Note         string
}

// ReturnInput closes out an active rental.
type ReturnInput struct {
	RentalID   int64
	ReturnedAt time.Time
	Lines      []ReturnLineInput
	ActorID    int64
}

// Create reserves units for the window and stores the priced estimate. Units
// that cannot be claimed surface as a rental conflict, not a stock error.
func (s *Service) Create(ctx context.Context, input CreateInput) (Rental, error) {
	if input.CustomerID <= 0 || input.LocationID <= 0 {
		return Rental{}, httpx.NewValidationError("customer_id", "customer and location are required")
	}
	if len(input.Lines) == 0 {
		return Rental{}, httpx.NewValidationError("lines", "at least one line is required")
	}
	if err := validateWindow(input.StartDate, input.EndDate, time.Now()); err != nil {
		return Rental{}, err
	}

	lines, err := s.buildLines(ctx, input.Lines)
	if err != nil {
		return Rental{}, err
	}

	days := ChargeableDays(input.StartDate, input.EndDate)
	estimate := Charge(lines, days)
	deposit := TotalDeposit(lines)

	if err := s.customers.CheckCredit(ctx, input.CustomerID, estimate.Add(deposit)); err != nil {
		return Rental{}, fmt.Errorf("credit check: %w", err)
	}

	if input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "rentals"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Rental{}, fmt.Errorf("rental already created for this key: %w", httpx.ErrConflict)
			}
			return Rental{}, err
		}
	}

	rental := Rental{
		CustomerID:    input.CustomerID,
		LocationID:    input.LocationID,
		Status:        StatusReserved,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		RentalCharge:  estimate,
		DepositAmount: deposit,
		Notes:         input.Notes,
		CreatedBy:     input.ActorID,
	}

	var rentalID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		docNumber, err := tx.NextDocNumber(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("generate doc number: %w", err)
		}
		rental.DocNumber = docNumber

		rentalID, err = tx.Create(ctx, rental)
		if err != nil {
			return fmt.Errorf("create rental: %w", err)
		}
		for i := range lines {
			lines[i].RentalID = rentalID
			lines[i].ID, err = tx.InsertLine(ctx, lines[i])
			if err != nil {
				return fmt.Errorf("insert rental line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.releaseKey(ctx, input.IdempotencyKey)
		return Rental{}, err
	}

	// Units are claimed after the rental row exists so movements can point at
	// it; a failed claim deletes the rental again.
	ref := inventory.Ref{Module: refModule, ID: strconv.FormatInt(rentalID, 10), ActorID: input.ActorID}
	var reserved []int64
	for i := range lines {
		units, err := s.inventory.Reserve(ctx, inventory.ReserveInput{
			ItemID:     lines[i].ItemID,
			LocationID: input.LocationID,
			Quantity:   lines[i].Quantity,
			RefModule:  refModule,
			RefID:      ref.ID,
			ActorID:    input.ActorID,
		})
		if err != nil {
			if errors.Is(err, httpx.ErrStockUnavailable) {
				err = fmt.Errorf("item %d has no free units for the window: %w", lines[i].ItemID, httpx.ErrRentalConflict)
			}
			return Rental{}, errors.Join(err, s.unwindCreate(ctx, rentalID, reserved, ref, input.IdempotencyKey))
		}
		unitIDs := make([]int64, len(units))
		for j, unit := range units {
			unitIDs[j] = unit.ID
		}
		reserved = append(reserved, unitIDs...)
		if err := s.repo.SaveUnits(ctx, rentalID, lines[i].ID, unitIDs); err != nil {
			return Rental{}, errors.Join(err, s.unwindCreate(ctx, rentalID, reserved, ref, input.IdempotencyKey))
		}
	}

	s.record(ctx, input.ActorID, "rentals:create", rentalID, map[string]any{
		"doc_number": rental.DocNumber,
		"estimate":   estimate.String(),
		"deposit":    deposit.String(),
	})
	s.emit(ctx, "rental.reserved", map[string]any{
		"id":          rentalID,
		"doc_number":  rental.DocNumber,
		"customer_id": rental.CustomerID,
		"start_date":  rental.StartDate.Format("2006-01-02"),
		"end_date":    rental.EndDate.Format("2006-01-02"),
	})
	return s.repo.Get(ctx, rentalID)
}

// Pickup hands the reserved units over: RESERVED becomes ACTIVE, units go
// RENTED, and the charge plus deposit lands on the customer's balance.
func (s *Service) Pickup(ctx context.Context, id, actorID int64) (Rental, error) {
	rental, err := s.repo.Get(ctx, id)
	if err != nil {
		return Rental{}, err
	}
	if rental.Status != StatusReserved {
		return Rental{}, fmt.Errorf("only reserved rentals can be picked up: %w", httpx.ErrConflict)
	}
	unitIDs := rental.unitIDs()
	if len(unitIDs) == 0 {
		return Rental{}, fmt.Errorf("rental holds no reserved units: %w", httpx.ErrConflict)
	}

	days := ChargeableDays(rental.StartDate, rental.EndDate)
	charge := Charge(rental.Lines, days)
	deposit := TotalDeposit(rental.Lines)
	now := time.Now()

	ok, err := s.repo.MarkPickedUp(ctx, id, now, charge, deposit)
	if err != nil {
		return Rental{}, err
	}
	if !ok {
		return Rental{}, fmt.Errorf("rental is no longer reserved: %w", httpx.ErrConflict)
	}

	if err := s.customers.AddCharge(ctx, rental.CustomerID, charge.Add(deposit)); err != nil {
		_, flipErr := s.repo.UpdateStatus(ctx, id, StatusActive, StatusReserved, "")
		return Rental{}, errors.Join(fmt.Errorf("charge customer: %w", err), flipErr)
	}

	ref := inventory.Ref{Module: refModule, ID: strconv.FormatInt(id, 10), ActorID: actorID}
	if err := s.inventory.MarkRented(ctx, unitIDs, ref); err != nil {
		_, flipErr := s.repo.UpdateStatus(ctx, id, StatusActive, StatusReserved, "")
		relErr := s.customers.ReleaseCredit(ctx, rental.CustomerID, charge.Add(deposit))
		return Rental{}, errors.Join(fmt.Errorf("hand over units: %w", err), flipErr, relErr)
	}

	s.record(ctx, actorID, "rentals:pickup", id, map[string]any{
		"charge":  charge.String(),
		"deposit": deposit.String(),
	})
	s.emit(ctx, "rental.picked_up", map[string]any{
		"id":          id,
		"doc_number":  rental.DocNumber,
		"customer_id": rental.CustomerID,
	})
	return s.repo.Get(ctx, id)
}

// Extend pushes the end date out and charges the difference, repricing the
// whole window from the original start. An overdue rental whose new end
// reaches today again becomes ACTIVE.
func (s *Service) Extend(ctx context.Context, id int64, newEnd time.Time, actorID int64) (Rental, error) {
	rental, err := s.repo.Get(ctx, id)
	if err != nil {
		return Rental{}, err
	}
	if rental.Status != StatusActive && rental.Status != StatusOverdue {
		return Rental{}, fmt.Errorf("only active or overdue rentals can be extended: %w", httpx.ErrConflict)
	}
	if !newEnd.After(rental.EndDate) {
		return Rental{}, httpx.NewValidationError("end_date", "must be after the current end date")
	}

	days := ChargeableDays(rental.StartDate, newEnd)
	newCharge := Charge(rental.Lines, days)
	delta := newCharge.Sub(rental.RentalCharge)
	if delta.IsNegative() {
		// Band pricing never lowers an already-charged amount.
		delta = decimal.Zero
		newCharge = rental.RentalCharge
	}

	target := rental.Status
	if rental.Status == StatusOverdue && !newEnd.Before(dayStart(time.Now())) {
		target = StatusActive
	}

	if !delta.IsZero() {
		if err := s.customers.AddCharge(ctx, rental.CustomerID, delta); err != nil {
			return Rental{}, fmt.Errorf("charge extension: %w", err)
		}
	}
	ok, err := s.repo.UpdateExtension(ctx, id, rental.Status, target, newEnd, newCharge)
	if err == nil && !ok {
		err = fmt.Errorf("rental status changed concurrently: %w", httpx.ErrConflict)
	}
	if err != nil {
		if !delta.IsZero() {
			err = errors.Join(err, s.customers.ReleaseCredit(ctx, rental.CustomerID, delta))
		}
		return Rental{}, err
	}

	s.record(ctx, actorID, "rentals:extend", id, map[string]any{
		"end_date": newEnd.Format("2006-01-02"),
		"delta":    delta.String(),
	})
	return s.repo.Get(ctx, id)
}

// Return closes the rental. Every rented unit must be accounted for; damaged
// units go to the damage lane with their charge, the deposit settles against
// late fees and damage, and the customer's balance is adjusted by the
// outcome.
func (s *Service) Return(ctx context.Context, input ReturnInput) (Rental, error) {
	rental, err := s.repo.Get(ctx, input.RentalID)
	if err != nil {
		return Rental{}, err
	}
	if rental.Status != StatusActive && rental.Status != StatusOverdue {
		return Rental{}, fmt.Errorf("only active or overdue rentals can be returned: %w", httpx.ErrConflict)
	}

	returnedAt := input.ReturnedAt
	if returnedAt.IsZero() {
		returnedAt = time.Now()
	}
	if rental.PickedUpAt != nil && returnedAt.Before(*rental.PickedUpAt) {
		return Rental{}, httpx.NewValidationError("returned_at", "precedes the pickup time")
	}

	returns, damage, err := buildReturns(rental, input.Lines)
	if err != nil {
		return Rental{}, err
	}

	lateDays := LateDays(rental.EndDate, returnedAt)
	lateFee := decimal.Zero
	for _, line := range rental.Lines {
		lateFee = lateFee.Add(LineLateFee(line, lateDays))
	}
	refund, balance := Reconcile(rental.DepositAmount, lateFee, damage)
	settlement := Settlement{LateFee: lateFee, DamageCharge: damage, Refund: refund, BalanceDue: balance}

	ok, err := s.repo.Complete(ctx, input.RentalID, rental.Status, returnedAt, settlement)
	if err != nil {
		return Rental{}, err
	}
	if !ok {
		return Rental{}, fmt.Errorf("rental status changed concurrently: %w", httpx.ErrConflict)
	}

	ref := inventory.Ref{Module: refModule, ID: strconv.FormatInt(input.RentalID, 10), ActorID: input.ActorID}
	if err := s.inventory.ReturnUnits(ctx, returns, ref); err != nil {
		_, flipErr := s.repo.UpdateStatus(ctx, input.RentalID, StatusCompleted, rental.Status, "")
		return Rental{}, errors.Join(fmt.Errorf("return units: %w", err), flipErr)
	}

	var moneyErr error
	if refund.IsPositive() {
		moneyErr = s.customers.ReleaseCredit(ctx, rental.CustomerID, refund)
	}
	if balance.IsPositive() {
		moneyErr = errors.Join(moneyErr, s.customers.AddCharge(ctx, rental.CustomerID, balance))
	}
	if moneyErr != nil {
		return Rental{}, fmt.Errorf("settle deposit: %w", moneyErr)
	}

	s.record(ctx, input.ActorID, "rentals:return", input.RentalID, map[string]any{
		"late_fee":      lateFee.String(),
		"damage_charge": damage.String(),
		"refund":        refund.String(),
		"balance_due":   balance.String(),
	})
	s.emit(ctx, "rental.returned", map[string]any{
		"id":            input.RentalID,
		"doc_number":    rental.DocNumber,
		"customer_id":   rental.CustomerID,
		"late_fee":      lateFee.String(),
		"damage_charge": damage.String(),
		"refund_amount": refund.String(),
		"balance_due":   balance.String(),
	})
	return s.repo.Get(ctx, input.RentalID)
}

// Cancel voids a reservation before pickup and frees its units.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, reason string) (Rental, error) {
	rental, err := s.repo.Get(ctx, id)
	if err != nil {
		return Rental{}, err
	}
	if rental.Status != StatusReserved {
		return Rental{}, fmt.Errorf("only reserved rentals can be cancelled: %w", httpx.ErrConflict)
	}

	ok, err := s.repo.UpdateStatus(ctx, id, StatusReserved, StatusCancelled, reason)
	if err != nil {
		return Rental{}, err
	}
	if !ok {
		return Rental{}, fmt.Errorf("rental status changed concurrently: %w", httpx.ErrConflict)
	}

	ref := inventory.Ref{Module: refModule, ID: strconv.FormatInt(id, 10), ActorID: actorID, Note: reason}
	if err := s.inventory.Release(ctx, rental.unitIDs(), ref); err != nil {
		return Rental{}, fmt.Errorf("release units: %w", err)
	}

	s.record(ctx, actorID, "rentals:cancel", id, map[string]any{"reason": reason})
	return s.repo.Get(ctx, id)
}

// MarkOverdue flips every ACTIVE rental past its end date and emits an event
// per rental. The scan is idempotent; rentals already OVERDUE are untouched.
func (s *Service) MarkOverdue(ctx context.Context, asOf time.Time) (int, error) {
	overdue, err := s.repo.MarkOverdue(ctx, asOf)
	if err != nil {
		return 0, err
	}
	for _, o := range overdue {
		s.emit(ctx, "rental.overdue", map[string]any{
			"id":          o.ID,
			"doc_number":  o.DocNumber,
			"customer_id": o.CustomerID,
		})
	}
	return len(overdue), nil
}

func (s *Service) Get(ctx context.Context, id int64) (Rental, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]Rental, int, error) {
	return s.repo.List(ctx, filter)
}

func (r Rental) unitIDs() []int64 {
	var ids []int64
	for _, line := range r.Lines {
		ids = append(ids, line.UnitIDs...)
	}
	return ids
}

// buildLines snapshots catalog rates onto rental lines.
func (s *Service) buildLines(ctx context.Context, inputs []CreateLineInput) ([]RentalLine, error) {
	lines := make([]RentalLine, 0, len(inputs))
	fields := map[string]string{}
	for i, in := range inputs {
		key := "lines[" + strconv.Itoa(i) + "]"
		if in.Quantity <= 0 {
			fields[key+".quantity"] = "quantity must be positive"
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
		if !item.IsActive {
			fields[key+".item_id"] = "item is inactive"
			continue
		}
		if !item.IsRentable || !item.DailyRate.IsPositive() {
			fields[key+".item_id"] = "item is not rentable"
			continue
		}
		lines = append(lines, RentalLine{
			ItemID:         in.ItemID,
			Quantity:       in.Quantity,
			DailyRate:      item.DailyRate,
			WeeklyRate:     item.WeeklyRate,
			MonthlyRate:    item.MonthlyRate,
			LateFeePerDay:  item.LateFeePerDay,
			DepositPerUnit: item.DepositAmount,
		})
	}
	if len(fields) > 0 {
		return nil, &httpx.ValidationError{Message: "rental line validation failed", Fields: fields}
	}
	return lines, nil
}

// buildReturns checks that the request covers exactly the rented units and
// translates it for the inventory service.
func buildReturns(rental Rental, lines []ReturnLineInput) ([]inventory.UnitReturn, decimal.Decimal, error) {
	expected := map[int64]bool{}
	for _, id := range rental.unitIDs() {
		expected[id] = false
	}

	returns := make([]inventory.UnitReturn, 0, len(lines))
	damage := decimal.Zero
	fields := map[string]string{}
	for i, in := range lines {
		key := "lines[" + strconv.Itoa(i) + "]"
		seen, ok := expected[in.UnitID]
		if !ok {
			fields[key+".unit_id"] = "unit does not belong to this rental"
			continue
		}
		if seen {
			fields[key+".unit_id"] = "unit listed twice"
			continue
		}
		expected[in.UnitID] = true

		switch in.Condition {
		case ConditionOK:
			if in.DamageCharge.IsPositive() {
				fields[key+".damage_charge"] = "only damaged units carry a damage charge"
				continue
			}
		case ConditionDamaged:
			if in.DamageCharge.IsNegative() {
				fields[key+".damage_charge"] = "cannot be negative"
				continue
			}
			damage = damage.Add(in.DamageCharge)
		default:
			fields[key+".condition"] = "must be OK or DAMAGED"
			continue
		}
		returns = append(returns, inventory.UnitReturn{
			UnitID:  in.UnitID,
			Damaged: in.Condition == ConditionDamaged,
			Note:    in.Note,
		})
	}
	for id, seen := range expected {
		if !seen {
			fields["lines"] = fmt.Sprintf("unit %d not accounted for; partial returns are not supported", id)
			break
		}
	}
	if len(fields) > 0 {
		return nil, decimal.Zero, &httpx.ValidationError{Message: "return validation failed", Fields: fields}
	}
	return returns, damage, nil
}

// unwindCreate reverses a partially built reservation.
func (s *Service) unwindCreate(ctx context.Context, rentalID int64, reserved []int64, ref inventory.Ref, idemKey string) error {
	var err error
	if len(reserved) > 0 {
		err = s.inventory.Release(ctx, reserved, ref)
	}
	err = errors.Join(err, s.repo.HardDelete(ctx, rentalID))
	s.releaseKey(ctx, idemKey)
	return err
}

func (s *Service) releaseKey(ctx context.Context, key string) {
	if key != "" {
		_ = s.idempotency.Release(ctx, key)
	}
}

func validateWindow(start, end time.Time, now time.Time) error {
	if start.IsZero() || end.IsZero() {
		return httpx.NewValidationError("start_date", "start and end dates are required")
	}
	if end.Before(start) {
		return httpx.NewValidationError("end_date", "must not precede start_date")
	}
	// One day of grace lets counters book a rental that started yesterday.
	if start.Before(dayStart(now).AddDate(0, 0, -1)) {
		return httpx.NewValidationError("start_date", "lies too far in the past")
	}
	return nil
}

func dayStart(t time.Time) time.Time {
	year, month, day := t.UTC().Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "rental",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	})
}

func (s *Service) emit(ctx context.Context, eventType string, data any) {
	if s.events == nil {
		return
	}
	s.events.Emit(ctx, eventType, data)
}
