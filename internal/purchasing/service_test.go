package purchasing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-rms/meridian-rms/internal/catalog"
	"github.com/meridian-rms/meridian-rms/internal/inventory"
	"github.com/meridian-rms/meridian-rms/internal/masterdata/suppliers"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
	_ "github.com/meridian-rms/meridian-rms/testing"
)

type returnUnit struct {
	lineID int64
	unitID int64
}

type memoryRepo struct {
	returns    map[int64]PurchaseReturn
	lines      map[int64][]ReturnLine
	units      map[int64][]returnUnit
	nextID     int64
	nextLineID int64
	seq        int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		returns: make(map[int64]PurchaseReturn),
		lines:   make(map[int64][]ReturnLine),
		units:   make(map[int64][]returnUnit),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	returns := make(map[int64]PurchaseReturn, len(m.returns))
	for k, v := range m.returns {
		returns[k] = v
	}
	lines := make(map[int64][]ReturnLine, len(m.lines))
	for k, v := range m.lines {
		lines[k] = append([]ReturnLine(nil), v...)
	}
	units := make(map[int64][]returnUnit, len(m.units))
	for k, v := range m.units {
		units[k] = append([]returnUnit(nil), v...)
	}
	nextID, nextLineID, seq := m.nextID, m.nextLineID, m.seq

	if err := fn(ctx, m); err != nil {
		m.returns, m.lines, m.units = returns, lines, units
		m.nextID, m.nextLineID, m.seq = nextID, nextLineID, seq
		return err
	}
	return nil
}

func (m *memoryRepo) NextDocNumber(ctx context.Context, at time.Time) (string, error) {
	m.seq++
	return fmt.Sprintf("RMA-%s-%04d", at.Format("200601"), m.seq), nil
}

func (m *memoryRepo) Create(ctx context.Context, ret PurchaseReturn) (int64, error) {
	m.nextID++
	ret.ID = m.nextID
	ret.CreditAmount = decimal.Zero
	ret.CreatedAt = time.Now()
	ret.UpdatedAt = ret.CreatedAt
	m.returns[ret.ID] = ret
	return ret.ID, nil
}

func (m *memoryRepo) InsertLine(ctx context.Context, line ReturnLine) (int64, error) {
	m.nextLineID++
	line.ID = m.nextLineID
	m.lines[line.ReturnID] = append(m.lines[line.ReturnID], line)
	return line.ID, nil
}

func (m *memoryRepo) SaveUnits(ctx context.Context, returnID, lineID int64, unitIDs []int64) error {
	for _, unitID := range unitIDs {
		m.units[returnID] = append(m.units[returnID], returnUnit{lineID: lineID, unitID: unitID})
	}
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (PurchaseReturn, error) {
	ret, ok := m.returns[id]
	if !ok {
		return PurchaseReturn{}, httpx.ErrNotFound
	}
	ret.Lines = nil
	for _, line := range m.lines[id] {
		line.UnitIDs = nil
		for _, ru := range m.units[id] {
			if ru.lineID == line.ID {
				line.UnitIDs = append(line.UnitIDs, ru.unitID)
			}
		}
		ret.Lines = append(ret.Lines, line)
	}
	return ret, nil
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]PurchaseReturn, int, error) {
	var out []PurchaseReturn
	for _, ret := range m.returns {
		if filter.Status != "" && ret.Status != filter.Status {
			continue
		}
		out = append(out, ret)
	}
	return out, len(out), nil
}

func (m *memoryRepo) Approve(ctx context.Context, id, approverID int64) (bool, error) {
	ret, ok := m.returns[id]
	if !ok || ret.Status != StatusPending {
		return false, nil
	}
	now := time.Now()
	ret.Status = StatusApproved
	ret.ApprovedBy = &approverID
	ret.ApprovedAt = &now
	m.returns[id] = ret
	return true, nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id int64, from, to Status, reason string) (bool, error) {
	ret, ok := m.returns[id]
	if !ok || ret.Status != from {
		return false, nil
	}
	now := time.Now()
	ret.Status = to
	switch to {
	case StatusShipped:
		ret.ShippedAt = &now
	case StatusApproved:
		ret.ShippedAt = nil
	case StatusCancelled:
		ret.CancelledAt = &now
		ret.CancellationReason = reason
	}
	m.returns[id] = ret
	return true, nil
}

func (m *memoryRepo) Credit(ctx context.Context, id int64, amount decimal.Decimal) (bool, error) {
	ret, ok := m.returns[id]
	if !ok || ret.Status != StatusShipped {
		return false, nil
	}
	now := time.Now()
	ret.Status = StatusCredited
	ret.CreditAmount = amount
	ret.CreditedAt = &now
	m.returns[id] = ret
	return true, nil
}

type fakeSuppliers struct {
	rows map[int64]suppliers.Supplier
}

func (f *fakeSuppliers) Get(ctx context.Context, id int64) (suppliers.Supplier, error) {
	sup, ok := f.rows[id]
	if !ok {
		return suppliers.Supplier{}, httpx.ErrNotFound
	}
	return sup, nil
}

type fakeCatalog struct {
	items map[int64]catalog.Item
}

func (f *fakeCatalog) Get(ctx context.Context, id int64) (catalog.Item, error) {
	item, ok := f.items[id]
	if !ok {
		return catalog.Item{}, httpx.ErrNotFound
	}
	return item, nil
}

type fakeInventory struct {
	units   map[int64]inventory.InventoryUnit
	retired []int64
}

func (f *fakeInventory) GetUnit(ctx context.Context, id int64) (inventory.InventoryUnit, error) {
	unit, ok := f.units[id]
	if !ok {
		return inventory.InventoryUnit{}, httpx.ErrNotFound
	}
	return unit, nil
}

func (f *fakeInventory) Retire(ctx context.Context, unitIDs []int64, ref inventory.Ref) error {
	for _, id := range unitIDs {
		unit, ok := f.units[id]
		if !ok || !unit.IsActive {
			return fmt.Errorf("unit %d already retired: %w", id, httpx.ErrConflict)
		}
		if unit.Status != inventory.UnitStatusAvailable && unit.Status != inventory.UnitStatusDamaged {
			return fmt.Errorf("unit %d is %s: %w", id, unit.Status, httpx.ErrConflict)
		}
	}
	for _, id := range unitIDs {
		unit := f.units[id]
		unit.IsActive = false
		f.units[id] = unit
		f.retired = append(f.retired, id)
	}
	return nil
}

type fakeIdempotency struct {
	keys map[string]string
}

func (f *fakeIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if _, ok := f.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = module
	return nil
}

func (f *fakeIdempotency) Release(ctx context.Context, key string) error {
	delete(f.keys, key)
	return nil
}

type eventSink struct {
	types []string
}

func (e *eventSink) Emit(ctx context.Context, eventType string, data any) {
	e.types = append(e.types, eventType)
}

type fixture struct {
	repo   *memoryRepo
	inv    *fakeInventory
	events *eventSink
	svc    *Service
}

func supplierID(id int64) *int64 { return &id }

func newFixture() *fixture {
	f := &fixture{
		repo: newMemoryRepo(),
		inv: &fakeInventory{units: map[int64]inventory.InventoryUnit{
			100: {ID: 100, ItemID: 10, LocationID: 1, Status: inventory.UnitStatusAvailable, IsActive: true},
			101: {ID: 101, ItemID: 10, LocationID: 1, Status: inventory.UnitStatusDamaged, IsActive: true},
			102: {ID: 102, ItemID: 10, LocationID: 2, Status: inventory.UnitStatusAvailable, IsActive: true},
			103: {ID: 103, ItemID: 10, LocationID: 1, Status: inventory.UnitStatusRented, IsActive: true},
			110: {ID: 110, ItemID: 20, LocationID: 1, Status: inventory.UnitStatusAvailable, IsActive: true},
		}},
		events: &eventSink{},
	}
	sup := &fakeSuppliers{rows: map[int64]suppliers.Supplier{
		1: {ID: 1, Code: "SUP-A", IsActive: true},
		2: {ID: 2, Code: "SUP-B", IsActive: true},
		3: {ID: 3, Code: "SUP-GONE", IsActive: false},
	}}
	items := &fakeCatalog{items: map[int64]catalog.Item{
		10: {ID: 10, SKU: "CAM-001", SupplierID: supplierID(1), IsActive: true},
		20: {ID: 20, SKU: "LENS-002", SupplierID: supplierID(2), IsActive: true},
		30: {ID: 30, SKU: "BAG-003", SupplierID: supplierID(1), IsActive: true},
	}}
	f.svc = NewService(f.repo, sup, items, f.inv, &fakeIdempotency{keys: make(map[string]string)}, nil, f.events)
	return f
}

func defectiveInput() CreateInput {
	return CreateInput{
		SupplierID: 1,
		LocationID: 1,
		Lines: []CreateLineInput{{
			ItemID:         10,
			Reason:         ReasonDefective,
			ExpectedCredit: decimal.NewFromInt(80),
			UnitIDs:        []int64{100, 101},
		}},
		ActorID: 7,
	}
}

func createReturn(t *testing.T, f *fixture) PurchaseReturn {
	t.Helper()
	ret, err := f.svc.Create(context.Background(), defectiveInput())
	require.NoError(t, err)
	return ret
}

func TestCreateBuildsPendingReturn(t *testing.T) {
	f := newFixture()
	ret := createReturn(t, f)

	require.Equal(t, StatusPending, ret.Status)
	require.Equal(t, "RMA-"+time.Now().Format("200601")+"-0001", ret.RMANumber)
	require.Len(t, ret.Lines, 1)
	require.Equal(t, []int64{100, 101}, ret.Lines[0].UnitIDs)
	require.True(t, ret.CreditAmount.IsZero())

	// Units stay in stock until the return ships.
	require.Empty(t, f.inv.retired)
	require.True(t, f.inv.units[100].IsActive)
}

func TestCreateRejectsForeignSupplierItem(t *testing.T) {
	f := newFixture()
	input := defectiveInput()
	input.Lines[0].ItemID = 20
	input.Lines[0].UnitIDs = []int64{110}

	_, err := f.svc.Create(context.Background(), input)
	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields["lines[0].item_id"], "not sourced")
}

func TestCreateRejectsUnitInWrongState(t *testing.T) {
	f := newFixture()
	input := defectiveInput()
	input.Lines[0].UnitIDs = []int64{103}

	_, err := f.svc.Create(context.Background(), input)
	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "lines[0].unit_ids")
}

func TestCreateRejectsUnitAtOtherLocation(t *testing.T) {
	f := newFixture()
	input := defectiveInput()
	input.Lines[0].UnitIDs = []int64{102}

	_, err := f.svc.Create(context.Background(), input)
	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields["lines[0].unit_ids"], "another location")
}

func TestCreateRejectsUnitItemMismatch(t *testing.T) {
	f := newFixture()
	input := defectiveInput()
	input.Lines[0].ItemID = 30
	// Unit 100 is a CAM-001, not a BAG-003.

	_, err := f.svc.Create(context.Background(), input)
	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields["lines[0].unit_ids"], "different item")
}

func TestCreateRejectsDuplicateUnit(t *testing.T) {
	f := newFixture()
	input := defectiveInput()
	input.Lines[0].UnitIDs = []int64{100, 100}

	_, err := f.svc.Create(context.Background(), input)
	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields["lines[0].unit_ids"], "listed twice")
}

func TestCreateRejectsInactiveSupplier(t *testing.T) {
	f := newFixture()
	input := defectiveInput()
	input.SupplierID = 3

	_, err := f.svc.Create(context.Background(), input)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestApproveRecordsApprover(t *testing.T) {
	f := newFixture()
	ret := createReturn(t, f)

	approved, err := f.svc.Approve(context.Background(), ret.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)
	require.Equal(t, int64(42), *approved.ApprovedBy)

	_, err = f.svc.Approve(context.Background(), ret.ID, 42)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestShipRetiresUnits(t *testing.T) {
	f := newFixture()
	ret := createReturn(t, f)
	_, err := f.svc.Approve(context.Background(), ret.ID, 42)
	require.NoError(t, err)

	shipped, err := f.svc.Ship(context.Background(), ret.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusShipped, shipped.Status)
	require.NotNil(t, shipped.ShippedAt)
	require.Equal(t, []int64{100, 101}, f.inv.retired)
	require.False(t, f.inv.units[100].IsActive)
}

func TestShipRequiresApproved(t *testing.T) {
	f := newFixture()
	ret := createReturn(t, f)

	_, err := f.svc.Ship(context.Background(), ret.ID, 7)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestShipCompensatesWhenRetireFails(t *testing.T) {
	f := newFixture()
	ret := createReturn(t, f)
	_, err := f.svc.Approve(context.Background(), ret.ID, 42)
	require.NoError(t, err)

	// Unit 100 went out on a rental between approval and shipping.
	unit := f.inv.units[100]
	unit.Status = inventory.UnitStatusRented
	f.inv.units[100] = unit

	_, err = f.svc.Ship(context.Background(), ret.ID, 7)
	require.ErrorIs(t, err, httpx.ErrConflict)

	got, err := f.svc.Get(context.Background(), ret.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, got.Status)
	require.Nil(t, got.ShippedAt)
	require.Empty(t, f.inv.retired)
}

func TestCreditEmitsEvent(t *testing.T) {
	f := newFixture()
	ret := createReturn(t, f)
	_, err := f.svc.Approve(context.Background(), ret.ID, 42)
	require.NoError(t, err)
	_, err = f.svc.Ship(context.Background(), ret.ID, 7)
	require.NoError(t, err)

	credited, err := f.svc.Credit(context.Background(), ret.ID, decimal.NewFromInt(75), 7)
	require.NoError(t, err)
	require.Equal(t, StatusCredited, credited.Status)
	require.True(t, credited.CreditAmount.Equal(decimal.NewFromInt(75)), "credit %s", credited.CreditAmount)
	require.Equal(t, []string{"purchase_return.credited"}, f.events.types)
}

func TestCreditRequiresShipped(t *testing.T) {
	f := newFixture()
	ret := createReturn(t, f)

	_, err := f.svc.Credit(context.Background(), ret.ID, decimal.NewFromInt(75), 7)
	require.ErrorIs(t, err, httpx.ErrConflict)

	_, err = f.svc.Credit(context.Background(), ret.ID, decimal.NewFromInt(-1), 7)
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCancelBeforeShipment(t *testing.T) {
	f := newFixture()
	ret := createReturn(t, f)

	cancelled, err := f.svc.Cancel(context.Background(), ret.ID, 7, "supplier refused")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "supplier refused", cancelled.CancellationReason)

	other := createReturn(t, f)
	_, err = f.svc.Approve(context.Background(), other.ID, 42)
	require.NoError(t, err)
	_, err = f.svc.Ship(context.Background(), other.ID, 7)
	require.NoError(t, err)
	_, err = f.svc.Cancel(context.Background(), other.ID, 7, "too late")
	require.ErrorIs(t, err, httpx.ErrConflict)
}
