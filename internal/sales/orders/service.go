package orders

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
	salesshared "github.com/meridian-rms/meridian-rms/internal/sales/shared"
	"github.com/meridian-rms/meridian-rms/internal/shared"
)

const refModule = "sales"

// CustomerPort is the slice of the customer service that order lifecycle
// needs. CheckCredit is advisory; ReserveCredit is the atomic claim.
type CustomerPort interface {
	CheckCredit(ctx context.Context, id int64, amount decimal.Decimal) error
	ReserveCredit(ctx context.Context, id int64, amount decimal.Decimal) error
	ReleaseCredit(ctx context.Context, id int64, amount decimal.Decimal) error
}

// CatalogPort resolves items for line validation.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (catalog.Item, error)
}

// InventoryPort covers the unit movements an order drives.
type InventoryPort interface {
	Availability(ctx context.Context, itemID, locationID int64) (int, error)
	Reserve(ctx context.Context, input inventory.ReserveInput) ([]inventory.InventoryUnit, error)
	Release(ctx context.Context, unitIDs []int64, ref inventory.Ref) error
	MarkSold(ctx context.Context, unitIDs []int64, ref inventory.Ref) error
}

// IdempotencyPort guards order creation against duplicate submissions.
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

// Service drives the sales order lifecycle. Confirm and fulfill span the
// customer and inventory modules; each module commits its own transaction and
// failures compensate the steps already applied.
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

// LineInput is one requested order line.
type LineInput struct {
	ItemID          int64
	Quantity        int
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
}

// CreateInput describes a new order.
type CreateInput struct {
	CustomerID     int64
	LocationID     int64
	Notes          string
	Lines          []LineInput
	IdempotencyKey string
	ActorID        int64
}

// Create validates the customer's credit and per-line stock, then inserts a
// PENDING order. Nothing is reserved yet; confirm claims stock and credit.
func (s *Service) Create(ctx context.Context, input CreateInput) (SalesOrder, error) {
	if input.CustomerID <= 0 || input.LocationID <= 0 {
		return SalesOrder{}, httpx.NewValidationError("customer_id", "customer and location are required")
	}
	if len(input.Lines) == 0 {
		return SalesOrder{}, httpx.NewValidationError("lines", "at least one line is required")
	}

	lines, totals, err := s.buildLines(ctx, input.Lines)
	if err != nil {
		return SalesOrder{}, err
	}

	if err := s.checkAvailability(ctx, input.LocationID, input.Lines); err != nil {
		return SalesOrder{}, err
	}
	if err := s.customers.CheckCredit(ctx, input.CustomerID, totals.total); err != nil {
		return SalesOrder{}, fmt.Errorf("credit check: %w", err)
	}

	if input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "sales_orders"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return SalesOrder{}, fmt.Errorf("order already created for this key: %w", httpx.ErrConflict)
			}
			return SalesOrder{}, err
		}
	}

	order := SalesOrder{
		CustomerID:  input.CustomerID,
		LocationID:  input.LocationID,
		Status:      StatusPending,
		Subtotal:    totals.subtotal,
		TaxAmount:   totals.tax,
		TotalAmount: totals.total,
		Notes:       input.Notes,
		CreatedBy:   input.ActorID,
	}

	var orderID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		docNumber, err := tx.NextDocNumber(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("generate doc number: %w", err)
		}
		order.DocNumber = docNumber

		orderID, err = tx.Create(ctx, order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		for i := range lines {
			lines[i].OrderID = orderID
			if _, err := tx.InsertLine(ctx, lines[i]); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" {
			_ = s.idempotency.Release(ctx, input.IdempotencyKey)
		}
		return SalesOrder{}, err
	}

	s.record(ctx, input.ActorID, "sales:order_create", orderID, map[string]any{
		"doc_number": order.DocNumber,
		"total":      order.TotalAmount.String(),
	})
	return s.repo.Get(ctx, orderID)
}

// Confirm moves PENDING to CONFIRMED: customer credit is claimed, units are
// reserved per line, and the reserved unit ids are pinned to the order. Any
// failure unwinds the steps already taken.
func (s *Service) Confirm(ctx context.Context, id, actorID int64) (SalesOrder, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return SalesOrder{}, err
	}
	if order.Status != StatusPending {
		return SalesOrder{}, fmt.Errorf("only pending orders can be confirmed: %w", httpx.ErrConflict)
	}

	if err := s.customers.ReserveCredit(ctx, order.CustomerID, order.TotalAmount); err != nil {
		return SalesOrder{}, fmt.Errorf("reserve credit: %w", err)
	}

	ref := inventory.Ref{Module: refModule, ID: strconv.FormatInt(order.ID, 10), ActorID: actorID}
	var reserved []int64
	for _, line := range order.Lines {
		units, err := s.inventory.Reserve(ctx, inventory.ReserveInput{
			ItemID:     line.ItemID,
			LocationID: order.LocationID,
			Quantity:   line.Quantity,
			RefModule:  refModule,
			RefID:      ref.ID,
			ActorID:    actorID,
		})
		if err != nil {
			return SalesOrder{}, errors.Join(
				fmt.Errorf("reserve item %d: %w", line.ItemID, err),
				s.unwindReservations(ctx, reserved, ref),
				s.customers.ReleaseCredit(ctx, order.CustomerID, order.TotalAmount),
			)
		}
		for _, unit := range units {
			reserved = append(reserved, unit.ID)
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		ok, err := tx.UpdateStatus(ctx, id, StatusPending, StatusConfirmed, "")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("order is no longer pending: %w", httpx.ErrConflict)
		}
		return tx.SaveUnits(ctx, id, reserved)
	})
	if err != nil {
		return SalesOrder{}, errors.Join(
			err,
			s.unwindReservations(ctx, reserved, ref),
			s.customers.ReleaseCredit(ctx, order.CustomerID, order.TotalAmount),
		)
	}

	s.record(ctx, actorID, "sales:order_confirm", id, map[string]any{"units": len(reserved)})
	s.emit(ctx, "sales_order.confirmed", map[string]any{
		"id":           order.ID,
		"doc_number":   order.DocNumber,
		"customer_id":  order.CustomerID,
		"total_amount": order.TotalAmount.String(),
	})
	return s.repo.Get(ctx, id)
}

// Fulfill moves CONFIRMED to FULFILLED and sells the reserved units. The
// status flip claims the transition; a failed sale flips it back.
func (s *Service) Fulfill(ctx context.Context, id, actorID int64) (SalesOrder, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return SalesOrder{}, err
	}
	if order.Status != StatusConfirmed {
		return SalesOrder{}, fmt.Errorf("only confirmed orders can be fulfilled: %w", httpx.ErrConflict)
	}

	units, err := s.repo.Units(ctx, id)
	if err != nil {
		return SalesOrder{}, err
	}
	if len(units) == 0 {
		return SalesOrder{}, fmt.Errorf("order holds no reserved units: %w", httpx.ErrConflict)
	}

	ok, err := s.repo.UpdateStatus(ctx, id, StatusConfirmed, StatusFulfilled, "")
	if err != nil {
		return SalesOrder{}, err
	}
	if !ok {
		return SalesOrder{}, fmt.Errorf("order is no longer confirmed: %w", httpx.ErrConflict)
	}

	ref := inventory.Ref{Module: refModule, ID: strconv.FormatInt(id, 10), ActorID: actorID}
	if err := s.inventory.MarkSold(ctx, units, ref); err != nil {
		_, flipErr := s.repo.UpdateStatus(ctx, id, StatusFulfilled, StatusConfirmed, "")
		return SalesOrder{}, errors.Join(fmt.Errorf("sell reserved units: %w", err), flipErr)
	}

	s.record(ctx, actorID, "sales:order_fulfill", id, map[string]any{"units": len(units)})
	s.emit(ctx, "sales_order.fulfilled", map[string]any{
		"id":           order.ID,
		"doc_number":   order.DocNumber,
		"customer_id":  order.CustomerID,
		"total_amount": order.TotalAmount.String(),
	})
	return s.repo.Get(ctx, id)
}

// Cancel voids a PENDING or CONFIRMED order. Confirmed orders give back their
// reserved units and the customer's credit.
func (s *Service) Cancel(ctx context.Context, id, actorID int64, reason string) (SalesOrder, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return SalesOrder{}, err
	}
	if order.Status != StatusPending && order.Status != StatusConfirmed {
		return SalesOrder{}, fmt.Errorf("only pending or confirmed orders can be cancelled: %w", httpx.ErrConflict)
	}

	ok, err := s.repo.UpdateStatus(ctx, id, order.Status, StatusCancelled, reason)
	if err != nil {
		return SalesOrder{}, err
	}
	if !ok {
		return SalesOrder{}, fmt.Errorf("order status changed concurrently: %w", httpx.ErrConflict)
	}

	if order.Status == StatusConfirmed {
		units, err := s.repo.Units(ctx, id)
		if err != nil {
			return SalesOrder{}, err
		}
		ref := inventory.Ref{Module: refModule, ID: strconv.FormatInt(id, 10), ActorID: actorID, Note: reason}
		if err := errors.Join(
			s.inventory.Release(ctx, units, ref),
			s.customers.ReleaseCredit(ctx, order.CustomerID, order.TotalAmount),
			s.repo.DeleteUnits(ctx, id),
		); err != nil {
			return SalesOrder{}, fmt.Errorf("cancel cleanup: %w", err)
		}
	}

	s.record(ctx, actorID, "sales:order_cancel", id, map[string]any{"reason": reason})
	return s.repo.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id int64) (SalesOrder, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]SalesOrder, int, error) {
	return s.repo.List(ctx, filter)
}

type orderTotals struct {
	subtotal decimal.Decimal
	tax      decimal.Decimal
	total    decimal.Decimal
}

// buildLines validates each requested line against the catalog and computes
// the money columns.
func (s *Service) buildLines(ctx context.Context, inputs []LineInput) ([]OrderLine, orderTotals, error) {
	lines := make([]OrderLine, 0, len(inputs))
	totals := orderTotals{subtotal: decimal.Zero, tax: decimal.Zero, total: decimal.Zero}
	fields := map[string]string{}

	for i, in := range inputs {
		key := "lines[" + strconv.Itoa(i) + "]"
		if in.Quantity <= 0 {
			fields[key+".quantity"] = "quantity must be positive"
			continue
		}
		if in.UnitPrice.IsNegative() {
			fields[key+".unit_price"] = "unit price cannot be negative"
			continue
		}
		if !percentInRange(in.DiscountPercent) {
			fields[key+".discount_percent"] = "must be between 0 and 100"
			continue
		}
		if !percentInRange(in.TaxPercent) {
			fields[key+".tax_percent"] = "must be between 0 and 100"
			continue
		}

		item, err := s.items.Get(ctx, in.ItemID)
		if err != nil {
			if errors.Is(err, httpx.ErrNotFound) {
				fields[key+".item_id"] = "item does not exist"
				continue
			}
			return nil, totals, fmt.Errorf("verify item %d: %w", in.ItemID, err)
		}
		if !item.IsActive {
			fields[key+".item_id"] = "item is inactive"
			continue
		}
		if !item.IsSellable {
			fields[key+".item_id"] = "item is not sellable"
			continue
		}

		lt := salesshared.CalculateLineTotals(int64(in.Quantity), in.UnitPrice, in.DiscountPercent, in.TaxPercent)
		lines = append(lines, OrderLine{
			ItemID:          in.ItemID,
			Quantity:        in.Quantity,
			UnitPrice:       in.UnitPrice,
			DiscountPercent: in.DiscountPercent,
			DiscountAmount:  lt.DiscountAmount,
			TaxPercent:      in.TaxPercent,
			TaxAmount:       lt.TaxAmount,
			LineTotal:       lt.LineTotal,
		})
		totals.subtotal = totals.subtotal.Add(lt.LineTotal.Sub(lt.TaxAmount))
		totals.tax = totals.tax.Add(lt.TaxAmount)
		totals.total = totals.total.Add(lt.LineTotal)
	}

	if len(fields) > 0 {
		return nil, totals, &httpx.ValidationError{Message: "order line validation failed", Fields: fields}
	}
	return lines, totals, nil
}

// checkAvailability sums quantities per item so two lines of the same item
// cannot pass individually while jointly exceeding stock.
func (s *Service) checkAvailability(ctx context.Context, locationID int64, inputs []LineInput) error {
	needs := map[int64]int{}
	order := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		if _, seen := needs[in.ItemID]; !seen {
			order = append(order, in.ItemID)
		}
		needs[in.ItemID] += in.Quantity
	}
	for _, itemID := range order {
		available, err := s.inventory.Availability(ctx, itemID, locationID)
		if err != nil {
			return fmt.Errorf("check availability for item %d: %w", itemID, err)
		}
		if available < needs[itemID] {
			return fmt.Errorf("item %d has %d of %d units available: %w",
				itemID, available, needs[itemID], httpx.ErrStockUnavailable)
		}
	}
	return nil
}

// unwindReservations releases units reserved before a later step failed.
func (s *Service) unwindReservations(ctx context.Context, unitIDs []int64, ref inventory.Ref) error {
	if len(unitIDs) == 0 {
		return nil
	}
	return s.inventory.Release(ctx, unitIDs, ref)
}

func percentInRange(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(decimal.NewFromInt(100))
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sales_order",
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
