package purchasing

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/db"
	internalshared "github.com/meridian-rms/meridian-rms/internal/shared"
)

// ListFilter narrows purchase return listings.
type ListFilter struct {
	Page       internalshared.PageRequest
	SupplierID int64
	LocationID int64
	Status     Status
}

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	NextDocNumber(ctx context.Context, at time.Time) (string, error)
	Create(ctx context.Context, ret PurchaseReturn) (int64, error)
	InsertLine(ctx context.Context, line ReturnLine) (int64, error)
	SaveUnits(ctx context.Context, returnID, lineID int64, unitIDs []int64) error
	Get(ctx context.Context, id int64) (PurchaseReturn, error)
	List(ctx context.Context, filter ListFilter) ([]PurchaseReturn, int, error)
	// Approve flips PENDING → APPROVED and records who signed off.
	Approve(ctx context.Context, id, approverID int64) (bool, error)
	// UpdateStatus flips from → to; false means the return moved on already.
	// Flipping back to APPROVED clears the shipped timestamp.
	UpdateStatus(ctx context.Context, id int64, from, to Status, reason string) (bool, error)
	// Credit closes a SHIPPED return with the amount the supplier issued.
	Credit(ctx context.Context, id int64, amount decimal.Decimal) (bool, error)
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
	return internalshared.NextDocNumber(ctx, r.db, "RMA", at)
}

const returnColumns = `id, rma_number, supplier_id, location_id, status, credit_amount, notes,
	created_by, approved_by, approved_at, shipped_at, credited_at, cancelled_at,
	cancellation_reason, created_at, updated_at`

var sortColumns = map[string]string{
	"rma_number": "rma_number",
	"status":     "status",
	"created_at": "created_at",
}

func scanReturn(row pgx.Row) (PurchaseReturn, error) {
	var ret PurchaseReturn
	var reason *string
	err := row.Scan(&ret.ID, &ret.RMANumber, &ret.SupplierID, &ret.LocationID, &ret.Status,
		&ret.CreditAmount, &ret.Notes, &ret.CreatedBy, &ret.ApprovedBy, &ret.ApprovedAt,
		&ret.ShippedAt, &ret.CreditedAt, &ret.CancelledAt, &reason, &ret.CreatedAt, &ret.UpdatedAt)
	if reason != nil {
		ret.CancellationReason = *reason
	}
	return ret, err
}

func (r *repository) Create(ctx context.Context, ret PurchaseReturn) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO purchase_returns (rma_number, supplier_id, location_id, status,
			credit_amount, notes, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, $6, NOW(), NOW()) RETURNING id`,
		ret.RMANumber, ret.SupplierID, ret.LocationID, ret.Status, ret.Notes, ret.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, shared.TranslateDBError(err)
	}
	return id, nil
}

func (r *repository) InsertLine(ctx context.Context, line ReturnLine) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO purchase_return_lines (return_id, item_id, reason, expected_credit)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		line.ReturnID, line.ItemID, line.Reason, line.ExpectedCredit,
	).Scan(&id)
	if err != nil {
		return 0, shared.TranslateDBError(err)
	}
	return id, nil
}

func (r *repository) SaveUnits(ctx context.Context, returnID, lineID int64, unitIDs []int64) error {
	for _, unitID := range unitIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO purchase_return_units (return_id, line_id, unit_id) VALUES ($1, $2, $3)`,
			returnID, lineID, unitID); err != nil {
			return shared.TranslateDBError(err)
		}
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id int64) (PurchaseReturn, error) {
	ret, err := scanReturn(r.db.QueryRow(ctx,
		`SELECT `+returnColumns+` FROM purchase_returns WHERE id = $1`, id))
	if err != nil {
		return PurchaseReturn{}, shared.TranslateDBError(err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, return_id, item_id, reason, expected_credit
		 FROM purchase_return_lines WHERE return_id = $1 ORDER BY id`, id)
	if err != nil {
		return PurchaseReturn{}, err
	}
	defer rows.Close()
	byLine := map[int64]int{}
	for rows.Next() {
		var l ReturnLine
		if err := rows.Scan(&l.ID, &l.ReturnID, &l.ItemID, &l.Reason, &l.ExpectedCredit); err != nil {
			return PurchaseReturn{}, err
		}
		byLine[l.ID] = len(ret.Lines)
		ret.Lines = append(ret.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return PurchaseReturn{}, err
	}

	unitRows, err := r.db.Query(ctx,
		`SELECT line_id, unit_id FROM purchase_return_units WHERE return_id = $1 ORDER BY unit_id`, id)
	if err != nil {
		return PurchaseReturn{}, err
	}
	defer unitRows.Close()
	for unitRows.Next() {
		var lineID, unitID int64
		if err := unitRows.Scan(&lineID, &unitID); err != nil {
			return PurchaseReturn{}, err
		}
		if idx, ok := byLine[lineID]; ok {
			ret.Lines[idx].UnitIDs = append(ret.Lines[idx].UnitIDs, unitID)
		}
	}
	return ret, unitRows.Err()
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]PurchaseReturn, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.SupplierID > 0 {
		args = append(args, filter.SupplierID)
		where += ` AND supplier_id = $` + strconv.Itoa(len(args))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		where += ` AND location_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += ` AND status = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM purchase_returns`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + returnColumns + ` FROM purchase_returns` + where +
		` ORDER BY ` + filter.Page.OrderBy(sortColumns, "id")
	args = append(args, filter.Page.Limit, filter.Page.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var returns []PurchaseReturn
	for rows.Next() {
		ret, err := scanReturn(rows)
		if err != nil {
			return nil, 0, err
		}
		returns = append(returns, ret)
	}
	return returns, total, rows.Err()
}

func (r *repository) Approve(ctx context.Context, id, approverID int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE purchase_returns SET status = $1, approved_by = $2, approved_at = NOW(),
			updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		StatusApproved, approverID, id, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, from, to Status, reason string) (bool, error) {
	query := `UPDATE purchase_returns SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	args := []any{to, id, from}
	switch to {
	case StatusShipped:
		query = `UPDATE purchase_returns SET status = $1, shipped_at = NOW(), updated_at = NOW()
			 WHERE id = $2 AND status = $3`
	case StatusApproved:
		query = `UPDATE purchase_returns SET status = $1, shipped_at = NULL, updated_at = NOW()
			 WHERE id = $2 AND status = $3`
	case StatusCancelled:
		query = `UPDATE purchase_returns SET status = $1, cancelled_at = NOW(),
			cancellation_reason = $4, updated_at = NOW()
			 WHERE id = $2 AND status = $3`
		args = append(args, reason)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) Credit(ctx context.Context, id int64, amount decimal.Decimal) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE purchase_returns SET status = $1, credit_amount = $2, credited_at = NOW(),
			updated_at = NOW()
		 WHERE id = $3 AND status = $4`,
		StatusCredited, amount, id, StatusShipped)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
