package orders

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/db"
	internalshared "github.com/meridian-rms/meridian-rms/internal/shared"
)

// ListFilter narrows order listings.
type ListFilter struct {
	Page       internalshared.PageRequest
	CustomerID int64
	LocationID int64
	Status     Status
	From       time.Time
	To         time.Time
}

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	NextDocNumber(ctx context.Context, at time.Time) (string, error)
	Create(ctx context.Context, order SalesOrder) (int64, error)
	InsertLine(ctx context.Context, line OrderLine) (int64, error)
	Get(ctx context.Context, id int64) (SalesOrder, error)
	List(ctx context.Context, filter ListFilter) ([]SalesOrder, int, error)
	// UpdateStatus flips from → to and stamps the transition; false means the
	// order was not in the expected status.
	UpdateStatus(ctx context.Context, id int64, from, to Status, reason string) (bool, error)
	SaveUnits(ctx context.Context, orderID int64, unitIDs []int64) error
	Units(ctx context.Context, orderID int64) ([]int64, error)
	DeleteUnits(ctx context.Context, orderID int64) error
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool})
	})
}

func (r *repository) NextDocNumber(ctx context.Context, at time.Time) (string, error) {
	return internalshared.NextDocNumber(ctx, r.db, "SO", at)
}

const orderColumns = `id, doc_number, customer_id, location_id, status, subtotal, tax_amount,
	total_amount, notes, created_by, confirmed_at, fulfilled_at, cancelled_at,
	cancellation_reason, created_at, updated_at`

var sortColumns = map[string]string{
	"doc_number":   "doc_number",
	"total_amount": "total_amount",
	"created_at":   "created_at",
}

func scanOrder(row pgx.Row) (SalesOrder, error) {
	var o SalesOrder
	var reason *string
	err := row.Scan(&o.ID, &o.DocNumber, &o.CustomerID, &o.LocationID, &o.Status,
		&o.Subtotal, &o.TaxAmount, &o.TotalAmount, &o.Notes, &o.CreatedBy,
		&o.ConfirmedAt, &o.FulfilledAt, &o.CancelledAt, &reason, &o.CreatedAt, &o.UpdatedAt)
	if reason != nil {
		o.CancellationReason = *reason
	}
	return o, err
}

func (r *repository) Create(ctx context.Context, order SalesOrder) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO sales_orders (doc_number, customer_id, location_id, status, subtotal,
			tax_amount, total_amount, notes, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()) RETURNING id`,
		order.DocNumber, order.CustomerID, order.LocationID, order.Status,
		order.Subtotal, order.TaxAmount, order.TotalAmount, order.Notes, order.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, shared.TranslateDBError(err)
	}
	return id, nil
}

func (r *repository) InsertLine(ctx context.Context, line OrderLine) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO sales_order_lines (order_id, item_id, quantity, unit_price,
			discount_percent, discount_amount, tax_percent, tax_amount, line_total)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		line.OrderID, line.ItemID, line.Quantity, line.UnitPrice, line.DiscountPercent,
		line.DiscountAmount, line.TaxPercent, line.TaxAmount, line.LineTotal,
	).Scan(&id)
	if err != nil {
		return 0, shared.TranslateDBError(err)
	}
	return id, nil
}

func (r *repository) Get(ctx context.Context, id int64) (SalesOrder, error) {
	order, err := scanOrder(r.db.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM sales_orders WHERE id = $1`, id))
	if err != nil {
		return SalesOrder{}, shared.TranslateDBError(err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, order_id, item_id, quantity, unit_price, discount_percent,
			discount_amount, tax_percent, tax_amount, line_total
		 FROM sales_order_lines WHERE order_id = $1 ORDER BY id`, id)
	if err != nil {
		return SalesOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.Quantity, &l.UnitPrice,
			&l.DiscountPercent, &l.DiscountAmount, &l.TaxPercent, &l.TaxAmount, &l.LineTotal); err != nil {
			return SalesOrder{}, err
		}
		order.Lines = append(order.Lines, l)
	}
	return order, rows.Err()
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]SalesOrder, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.CustomerID > 0 {
		args = append(args, filter.CustomerID)
		where += ` AND customer_id = $` + strconv.Itoa(len(args))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		where += ` AND location_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND created_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND created_at < $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM sales_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orderColumns + ` FROM sales_orders` + where +
		` ORDER BY ` + filter.Page.OrderBy(sortColumns, "id")
	args = append(args, filter.Page.Limit, filter.Page.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orders []SalesOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, from, to Status, reason string) (bool, error) {
	set := `status = $1, updated_at = NOW()`
	switch to {
	case StatusConfirmed:
		set += `, confirmed_at = NOW()`
	case StatusFulfilled:
		set += `, fulfilled_at = NOW()`
	case StatusCancelled:
		set += `, cancelled_at = NOW(), cancellation_reason = $4`
	}
	args := []any{to, id, from}
	if to == StatusCancelled {
		args = append(args, reason)
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE sales_orders SET `+set+` WHERE id = $2 AND status = $3`, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) SaveUnits(ctx context.Context, orderID int64, unitIDs []int64) error {
	for _, unitID := range unitIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO sales_order_units (order_id, unit_id) VALUES ($1, $2)`,
			orderID, unitID); err != nil {
			return err
		}
	}
	return nil
}

func (r *repository) Units(ctx context.Context, orderID int64) ([]int64, error) {
	rows, err := r.db.Query(ctx,
		`SELECT unit_id FROM sales_order_units WHERE order_id = $1 ORDER BY unit_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repository) DeleteUnits(ctx context.Context, orderID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM sales_order_units WHERE order_id = $1`, orderID)
	return err
}
