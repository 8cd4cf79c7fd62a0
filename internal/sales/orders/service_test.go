package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-rms/meridian-rms/internal/catalog"
	"github.com/meridian-rms/meridian-rms/internal/inventory"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	"github.com/meridian-rms/meridian-rms/internal/shared"
	_ "github.com/meridian-rms/meridian-rms/testing"
)

type memoryRepo struct {
	orders     map[int64]SalesOrder
	lines      map[int64][]OrderLine
	units      map[int64][]int64
	nextID     int64
	nextLineID int64
	seq        int
	failCreate bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders: make(map[int64]SalesOrder),
		lines:  make(map[int64][]OrderLine),
		units:  make(map[int64][]int64),
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	orders := make(map[int64]SalesOrder, len(m.orders))
	for k, v := range m.orders {
		orders[k] = v
	}
	lines := make(map[int64][]OrderLine, len(m.lines))
	for k, v := range m.lines {
		lines[k] = append([]OrderLine(nil), v...)
	}
	units := make(map[int64][]int64, len(m.units))
	for k, v := range m.units {
		units[k] = append([]int64(nil), v...)
	}
	nextID, nextLineID, seq := m.nextID, m.nextLineID, m.seq

	if err := fn(ctx, m); err != nil {
		m.orders, m.lines, m.units = orders, lines, units
		m.nextID, m.nextLineID, m.seq = nextID, nextLineID, seq
		return err
	}
	return nil
}

func (m *memoryRepo) NextDocNumber(ctx context.Context, at time.Time) (string, error) {
	m.seq++
	return fmt.Sprintf("SO-%s-%04d", at.Format("200601"), m.seq), nil
}

func (m *memoryRepo) Create(ctx context.Context, order SalesOrder) (int64, error) {
	if m.failCreate {
		return 0, errors.New("insert failed")
	}
	m.nextID++
	order.ID = m.nextID
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	m.orders[order.ID] = order
	return order.ID, nil
}

func (m *memoryRepo) InsertLine(ctx context.Context, line OrderLine) (int64, error) {
	m.nextLineID++
	line.ID = m.nextLineID
	m.lines[line.OrderID] = append(m.lines[line.OrderID], line)
	return line.ID, nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (SalesOrder, error) {
	order, ok := m.orders[id]
	if !ok {
		return SalesOrder{}, httpx.ErrNotFound
	}
	order.Lines = append([]OrderLine(nil), m.lines[id]...)
	return order, nil
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]SalesOrder, int, error) {
	var out []SalesOrder
	for _, o := range m.orders {
		if filter.CustomerID > 0 && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (m *memoryRepo) UpdateStatus(ctx context.Context, id int64, from, to Status, reason string) (bool, error) {
	order, ok := m.orders[id]
	if !ok || order.Status != from {
		return false, nil
	}
	now := time.Now()
	order.Status = to
	switch to {
	case StatusConfirmed:
		order.ConfirmedAt = &now
	case StatusFulfilled:
		order.FulfilledAt = &now
	case StatusCancelled:
		order.CancelledAt = &now
		order.CancellationReason = reason
	}
	order.UpdatedAt = now
	m.orders[id] = order
	return true, nil
}

func (m *memoryRepo) SaveUnits(ctx context.Context, orderID int64, unitIDs []int64) error {
	m.units[orderID] = append(m.units[orderID], unitIDs...)
	return nil
}

func (m *memoryRepo) Units(ctx context.Context, orderID int64) ([]int64, error) {
	return append([]int64(nil), m.units[orderID]...), nil
}

func (m *memoryRepo) DeleteUnits(ctx context.Context, orderID int64) error {
	delete(m.units, orderID)
	return nil
}

type fakeCustomers struct {
	limit       decimal.Decimal
	outstanding decimal.Decimal
	inactive    bool
}

func (f *fakeCustomers) CheckCredit(ctx context.Context, id int64, amount decimal.Decimal) error {
	if f.inactive {
		return fmt.Errorf("customer %d is inactive: %w", id, httpx.ErrValidation)
	}
	if f.outstanding.Add(amount).GreaterThan(f.limit) {
		return fmt.Errorf("customer %d over credit limit: %w", id, httpx.ErrCreditCheckFailed)
	}
	return nil
}

func (f *fakeCustomers) ReserveCredit(ctx context.Context, id int64, amount decimal.Decimal) error {
	if f.inactive || f.outstanding.Add(amount).GreaterThan(f.limit) {
		return fmt.Errorf("customer %d over credit limit: %w", id, httpx.ErrCreditCheckFailed)
	}
	f.outstanding = f.outstanding.Add(amount)
	return nil
}

func (f *fakeCustomers) ReleaseCredit(ctx context.Context, id int64, amount decimal.Decimal) error {
	f.outstanding = f.outstanding.Sub(amount)
	return nil
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
	available    map[int64]int
	unitItem     map[int64]int64
	nextUnit     int64
	failItemID   int64
	failMarkSold bool
	releases     [][]int64
	sold         [][]int64
}

func newFakeInventory(available map[int64]int) *fakeInventory {
	return &fakeInventory{available: available, unitItem: make(map[int64]int64)}
}

func (f *fakeInventory) Availability(ctx context.Context, itemID, locationID int64) (int, error) {
	return f.available[itemID], nil
}

func (f *fakeInventory) Reserve(ctx context.Context, input inventory.ReserveInput) ([]inventory.InventoryUnit, error) {
	if input.ItemID == f.failItemID || f.available[input.ItemID] < input.Quantity {
		return nil, fmt.Errorf("item %d out of stock: %w", input.ItemID, httpx.ErrStockUnavailable)
	}
	f.available[input.ItemID] -= input.Quantity
	units := make([]inventory.InventoryUnit, input.Quantity)
	for i := range units {
		f.nextUnit++
		f.unitItem[f.nextUnit] = input.ItemID
		units[i] = inventory.InventoryUnit{ID: f.nextUnit, ItemID: input.ItemID, Status: inventory.UnitStatusReserved}
	}
	return units, nil
}

func (f *fakeInventory) Release(ctx context.Context, unitIDs []int64, ref inventory.Ref) error {
	f.releases = append(f.releases, unitIDs)
	for _, id := range unitIDs {
		f.available[f.unitItem[id]]++
	}
	return nil
}

func (f *fakeInventory) MarkSold(ctx context.Context, unitIDs []int64, ref inventory.Ref) error {
	if f.failMarkSold {
		return errors.New("inventory write failed")
	}
	f.sold = append(f.sold, unitIDs)
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
	repo      *memoryRepo
	customers *fakeCustomers
	inv       *fakeInventory
	idem      *fakeIdempotency
	events    *eventSink
	svc       *Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:      newMemoryRepo(),
		customers: &fakeCustomers{limit: decimal.NewFromInt(10000), outstanding: decimal.Zero},
		inv:       newFakeInventory(map[int64]int{1: 5, 2: 5}),
		idem:      &fakeIdempotency{keys: make(map[string]string)},
		events:    &eventSink{},
	}
	items := &fakeCatalog{items: map[int64]catalog.Item{
		1: {ID: 1, SKU: "CAM-001", SalePrice: decimal.NewFromInt(100), IsSellable: true, IsActive: true},
		2: {ID: 2, SKU: "TRIPOD-01", SalePrice: decimal.NewFromInt(40), IsSellable: true, IsActive: true},
		3: {ID: 3, SKU: "RENT-ONLY", DailyRate: decimal.NewFromInt(25), IsRentable: true, IsActive: true},
	}}
	f.svc = NewService(f.repo, f.customers, items, f.inv, f.idem, nil, f.events)
	return f
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func simpleInput(lines ...LineInput) CreateInput {
	return CreateInput{CustomerID: 1, LocationID: 1, Lines: lines, ActorID: 9}
}

func TestCreateComputesTotals(t *testing.T) {
	f := newFixture()

	order, err := f.svc.Create(context.Background(), simpleInput(
		LineInput{ItemID: 1, Quantity: 2, UnitPrice: money("100"), DiscountPercent: money("10"), TaxPercent: money("5")},
		LineInput{ItemID: 2, Quantity: 1, UnitPrice: money("40")},
	))
	require.NoError(t, err)

	// 2x100 less 10% = 180, tax 9; plus 40 with no discount or tax.
	require.Equal(t, StatusPending, order.Status)
	require.True(t, order.Subtotal.Equal(money("220")), "subtotal %s", order.Subtotal)
	require.True(t, order.TaxAmount.Equal(money("9")), "tax %s", order.TaxAmount)
	require.True(t, order.TotalAmount.Equal(money("229")), "total %s", order.TotalAmount)
	require.Len(t, order.Lines, 2)
	require.Equal(t, "SO-"+time.Now().Format("200601")+"-0001", order.DocNumber)

	// Creation only validates; nothing is reserved until confirm.
	require.Equal(t, 5, f.inv.available[1])
	require.True(t, f.customers.outstanding.IsZero())
}

func TestCreateSequencesDocNumbers(t *testing.T) {
	f := newFixture()

	first, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")}))
	require.NoError(t, err)
	second, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")}))
	require.NoError(t, err)

	period := time.Now().Format("200601")
	require.Equal(t, "SO-"+period+"-0001", first.DocNumber)
	require.Equal(t, "SO-"+period+"-0002", second.DocNumber)
}

func TestCreateRejectsOverdrawnCredit(t *testing.T) {
	f := newFixture()
	f.customers.limit = decimal.NewFromInt(50)

	_, err := f.svc.Create(context.Background(), simpleInput(
		LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")},
	))
	require.ErrorIs(t, err, httpx.ErrCreditCheckFailed)
	require.Empty(t, f.repo.orders)
}

func TestCreateAggregatesAvailabilityAcrossLines(t *testing.T) {
	f := newFixture()
	f.inv.available[1] = 3

	// Each line fits on its own; together they need 4 of 3.
	_, err := f.svc.Create(context.Background(), simpleInput(
		LineInput{ItemID: 1, Quantity: 2, UnitPrice: money("100")},
		LineInput{ItemID: 1, Quantity: 2, UnitPrice: money("100")},
	))
	require.ErrorIs(t, err, httpx.ErrStockUnavailable)
}

func TestCreateRejectsNonSellableItem(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), simpleInput(
		LineInput{ItemID: 3, Quantity: 1, UnitPrice: money("25")},
	))
	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "lines[0].item_id")

	_, err = f.svc.Create(context.Background(), simpleInput(
		LineInput{ItemID: 99, Quantity: 1, UnitPrice: money("10")},
	))
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "item does not exist", verr.Fields["lines[0].item_id"])
}

func TestCreateRejectsBadLineMath(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), simpleInput(
		LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("-1")},
		LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("10"), DiscountPercent: money("101")},
	))
	var verr *httpx.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields, "lines[0].unit_price")
	require.Contains(t, verr.Fields, "lines[1].discount_percent")
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture()
	input := simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")})
	input.IdempotencyKey = "req-1"

	_, err := f.svc.Create(context.Background(), input)
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), input)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Len(t, f.repo.orders, 1)
}

func TestCreateReleasesKeyWhenInsertFails(t *testing.T) {
	f := newFixture()
	input := simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")})
	input.IdempotencyKey = "req-2"

	f.repo.failCreate = true
	_, err := f.svc.Create(context.Background(), input)
	require.Error(t, err)

	f.repo.failCreate = false
	_, err = f.svc.Create(context.Background(), input)
	require.NoError(t, err)
}

func TestConfirmReservesUnitsAndCredit(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(
		LineInput{ItemID: 1, Quantity: 2, UnitPrice: money("100")},
		LineInput{ItemID: 2, Quantity: 1, UnitPrice: money("40")},
	))
	require.NoError(t, err)

	confirmed, err := f.svc.Confirm(context.Background(), order.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	require.Equal(t, 3, f.inv.available[1])
	require.Equal(t, 4, f.inv.available[2])
	require.True(t, f.customers.outstanding.Equal(money("240")), "outstanding %s", f.customers.outstanding)

	units, err := f.repo.Units(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, units, 3)
	require.Equal(t, []string{"sales_order.confirmed"}, f.events.types)
}

func TestConfirmRequiresPending(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")}))
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), order.ID, 9)
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), order.ID, 9)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestConfirmUnwindsWhenReservationFails(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(
		LineInput{ItemID: 1, Quantity: 2, UnitPrice: money("100")},
		LineInput{ItemID: 2, Quantity: 1, UnitPrice: money("40")},
	))
	require.NoError(t, err)

	// Second line fails after the first reserved and credit was claimed.
	f.inv.failItemID = 2
	_, err = f.svc.Confirm(context.Background(), order.ID, 9)
	require.ErrorIs(t, err, httpx.ErrStockUnavailable)

	require.True(t, f.customers.outstanding.IsZero(), "outstanding %s", f.customers.outstanding)
	require.Equal(t, 5, f.inv.available[1])
	require.Len(t, f.inv.releases, 1)

	got, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestConfirmRejectsInsufficientCredit(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")}))
	require.NoError(t, err)

	// Another document consumed the headroom between create and confirm.
	f.customers.outstanding = decimal.NewFromInt(9950)
	_, err = f.svc.Confirm(context.Background(), order.ID, 9)
	require.ErrorIs(t, err, httpx.ErrCreditCheckFailed)
	require.Equal(t, 5, f.inv.available[1])
}

func TestFulfillSellsReservedUnits(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 2, UnitPrice: money("100")}))
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), order.ID, 9)
	require.NoError(t, err)

	fulfilled, err := f.svc.Fulfill(context.Background(), order.ID, 9)
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, fulfilled.Status)
	require.NotNil(t, fulfilled.FulfilledAt)
	require.Len(t, f.inv.sold, 1)
	require.Len(t, f.inv.sold[0], 2)
	require.Equal(t, []string{"sales_order.confirmed", "sales_order.fulfilled"}, f.events.types)

	// Outstanding stays: the customer now owes the invoice amount.
	require.True(t, f.customers.outstanding.Equal(money("200")))
}

func TestFulfillFlipsBackWhenSaleFails(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")}))
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), order.ID, 9)
	require.NoError(t, err)

	f.inv.failMarkSold = true
	_, err = f.svc.Fulfill(context.Background(), order.ID, 9)
	require.Error(t, err)

	got, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, got.Status)

	f.inv.failMarkSold = false
	_, err = f.svc.Fulfill(context.Background(), order.ID, 9)
	require.NoError(t, err)
}

func TestFulfillRequiresConfirmed(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")}))
	require.NoError(t, err)

	_, err = f.svc.Fulfill(context.Background(), order.ID, 9)
	require.ErrorIs(t, err, httpx.ErrConflict)
}

func TestCancelPendingOrder(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")}))
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(context.Background(), order.ID, 9, "customer walked away")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "customer walked away", cancelled.CancellationReason)
	require.Empty(t, f.inv.releases)
}

func TestCancelConfirmedRestoresStockAndCredit(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 2, UnitPrice: money("100")}))
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), order.ID, 9)
	require.NoError(t, err)
	require.Equal(t, 3, f.inv.available[1])

	cancelled, err := f.svc.Cancel(context.Background(), order.ID, 9, "duplicate order")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	require.Equal(t, 5, f.inv.available[1])
	require.True(t, f.customers.outstanding.IsZero(), "outstanding %s", f.customers.outstanding)
	units, err := f.repo.Units(context.Background(), order.ID)
	require.NoError(t, err)
	require.Empty(t, units)
}

func TestCancelFulfilledOrderConflicts(t *testing.T) {
	f := newFixture()
	order, err := f.svc.Create(context.Background(), simpleInput(LineInput{ItemID: 1, Quantity: 1, UnitPrice: money("100")}))
	require.NoError(t, err)
	_, err = f.svc.Confirm(context.Background(), order.ID, 9)
	require.NoError(t, err)
	_, err = f.svc.Fulfill(context.Background(), order.ID, 9)
	require.NoError(t, err)

	_, err = f.svc.Cancel(context.Background(), order.ID, 9, "too late")
	require.ErrorIs(t, err, httpx.ErrConflict)
}
