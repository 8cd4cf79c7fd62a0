package rentals

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

// ListFilter narrows rental listings. From/To bound the start date.
type ListFilter struct {
	Page       internalshared.PageRequest
	CustomerID int64
	LocationID int64
	Status     Status
	From       time.Time
	To         time.Time
}

// RentalUnit ties a reserved unit to its rental line.
type RentalUnit struct {
	LineID int64
	UnitID int64
}

// OverdueRental is the slice of a rental the overdue scan reports on.
type OverdueRental struct {
	ID         int64
	DocNumber  string
	CustomerID int64
}

type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	NextDocNumber(ctx context.Context, at time.Time) (string, error)
	Create(ctx context.Context, rental Rental) (int64, error)
	InsertLine(ctx context.Context, line RentalLine) (int64, error)
	SaveUnits(ctx context.Context, rentalID, lineID int64, unitIDs []int64) error
	Get(ctx context.Context, id int64) (Rental, error)
	List(ctx context.Context, filter ListFilter) ([]Rental, int, error)
	// UpdateStatus flips from → to; false means the rental moved on already.
	UpdateStatus(ctx context.Context, id int64, from, to Status, reason string) (bool, error)
	MarkPickedUp(ctx context.Context, id int64, pickedUpAt time.Time, charge, deposit decimal.Decimal) (bool, error)
	UpdateExtension(ctx context.Context, id int64, from, to Status, endDate time.Time, charge decimal.Decimal) (bool, error)
	Complete(ctx context.Context, id int64, from Status, returnedAt time.Time, s Settlement) (bool, error)
	// HardDelete unwinds a rental whose unit reservation failed after insert.
	HardDelete(ctx context.Context, id int64) error
	MarkOverdue(ctx context.Context, asOf time.Time) ([]OverdueRental, error)
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
	return internalshared.NextDocNumber(ctx, r.db, "RA", at)
}

const rentalColumns = `id, doc_number, customer_id, location_id, status, start_date, end_date,
	picked_up_at, returned_at, rental_charge, deposit_amount, late_fee, damage_charge,
	refund_amount, balance_due, notes, created_by, cancellation_reason, created_at, updated_at`

var sortColumns = map[string]string{
	"doc_number": "doc_number",
	"start_date": "start_date",
	"end_date":   "end_date",
	"created_at": "created_at",
}

func scanRental(row pgx.Row) (Rental, error) {
	var rental Rental
	var reason *string
	err := row.Scan(&rental.ID, &rental.DocNumber, &rental.CustomerID, &rental.LocationID,
		&rental.Status, &rental.StartDate, &rental.EndDate, &rental.PickedUpAt, &rental.ReturnedAt,
		&rental.RentalCharge, &rental.DepositAmount, &rental.LateFee, &rental.DamageCharge,
		&rental.RefundAmount, &rental.BalanceDue, &rental.Notes, &rental.CreatedBy,
		&reason, &rental.CreatedAt, &rental.UpdatedAt)
	if reason != nil {
		rental.CancellationReason = *reason
	}
	return rental, err
}

func (r *repository) Create(ctx context.Context, rental Rental) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO rentals (doc_number, customer_id, location_id, status, start_date, end_date,
			rental_charge, deposit_amount, late_fee, damage_charge, refund_amount, balance_due,
			notes, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, 0, 0, $9, $10, NOW(), NOW()) RETURNING id`,
		rental.DocNumber, rental.CustomerID, rental.LocationID, rental.Status,
		rental.StartDate, rental.EndDate, rental.RentalCharge, rental.DepositAmount,
		rental.Notes, rental.CreatedBy,
	).Scan(&id)
	if err != nil {
		return 0, shared.TranslateDBError(err)
	}
	return id, nil
}

func (r *repository) InsertLine(ctx context.Context, line RentalLine) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO rental_lines (rental_id, item_id, quantity, daily_rate, weekly_rate,
			monthly_rate, late_fee_per_day, deposit_per_unit)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		line.RentalID, line.ItemID, line.Quantity, line.DailyRate, line.WeeklyRate,
		line.MonthlyRate, line.LateFeePerDay, line.DepositPerUnit,
	).Scan(&id)
	if err != nil {
		return 0, shared.TranslateDBError(err)
	}
	return id, nil
}

func (r *repository) SaveUnits(ctx context.Context, rentalID, lineID int64, unitIDs []int64) error {
	for _, unitID := range unitIDs {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO rental_units (rental_id, line_id, unit_id) VALUES ($1, $2, $3)`,
			rentalID, lineID, unitID); err != nil {
			return shared.TranslateDBError(err)
		}
	}
	return nil
}

func (r *repository) Get(ctx context.Context, id int64) (Rental, error) {
	rental, err := scanRental(r.db.QueryRow(ctx,
		`SELECT `+rentalColumns+` FROM rentals WHERE id = $1`, id))
	if err != nil {
		return Rental{}, shared.TranslateDBError(err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, rental_id, item_id, quantity, daily_rate, weekly_rate, monthly_rate,
			late_fee_per_day, deposit_per_unit
		 FROM rental_lines WHERE rental_id = $1 ORDER BY id`, id)
	if err != nil {
		return Rental{}, err
	}
	defer rows.Close()
	byLine := map[int64]int{}
	for rows.Next() {
		var l RentalLine
		if err := rows.Scan(&l.ID, &l.RentalID, &l.ItemID, &l.Quantity, &l.DailyRate,
			&l.WeeklyRate, &l.MonthlyRate, &l.LateFeePerDay, &l.DepositPerUnit); err != nil {
			return Rental{}, err
		}
		byLine[l.ID] = len(rental.Lines)
		rental.Lines = append(rental.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return Rental{}, err
	}

	unitRows, err := r.db.Query(ctx,
		`SELECT line_id, unit_id FROM rental_units WHERE rental_id = $1 ORDER BY unit_id`, id)
	if err != nil {
		return Rental{}, err
	}
	defer unitRows.Close()
	for unitRows.Next() {
		var lineID, unitID int64
		if err := unitRows.Scan(&lineID, &unitID); err != nil {
			return Rental{}, err
		}
		if idx, ok := byLine[lineID]; ok {
			rental.Lines[idx].UnitIDs = append(rental.Lines[idx].UnitIDs, unitID)
		}
	}
	return rental, unitRows.Err()
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Rental, int, error) {
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
		where += ` AND start_date >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND start_date < $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM rentals`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + rentalColumns + ` FROM rentals` + where +
		` ORDER BY ` + filter.Page.OrderBy(sortColumns, "id")
	args = append(args, filter.Page.Limit, filter.Page.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rentals []Rental
	for rows.Next() {
		rental, err := scanRental(rows)
		if err != nil {
			return nil, 0, err
		}
		rentals = append(rentals, rental)
	}
	return rentals, total, rows.Err()
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, from, to Status, reason string) (bool, error) {
	query := `UPDATE rentals SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	args := []any{to, id, from}
	if to == StatusCancelled {
		query = `UPDATE rentals SET status = $1, cancellation_reason = $4, updated_at = NOW()
			 WHERE id = $2 AND status = $3`
		args = append(args, reason)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) MarkPickedUp(ctx context.Context, id int64, pickedUpAt time.Time, charge, deposit decimal.Decimal) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE rentals SET status = $1, picked_up_at = $2, rental_charge = $3,
			deposit_amount = $4, updated_at = NOW()
		 WHERE id = $5 AND status = $6`,
		StatusActive, pickedUpAt, charge, deposit, id, StatusReserved)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) UpdateExtension(ctx context.Context, id int64, from, to Status, endDate time.Time, charge decimal.Decimal) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE rentals SET status = $1, end_date = $2, rental_charge = $3, updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		to, endDate, charge, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) Complete(ctx context.Context, id int64, from Status, returnedAt time.Time, s Settlement) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE rentals SET status = $1, returned_at = $2, late_fee = $3, damage_charge = $4,
			refund_amount = $5, balance_due = $6, updated_at = NOW()
		 WHERE id = $7 AND status = $8`,
		StatusCompleted, returnedAt, s.LateFee, s.DamageCharge, s.Refund, s.BalanceDue, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repository) HardDelete(ctx context.Context, id int64) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM rental_units WHERE rental_id = $1`, id); err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM rental_lines WHERE rental_id = $1`, id); err != nil {
		return err
	}
	_, err := r.db.Exec(ctx, `DELETE FROM rentals WHERE id = $1`, id)
	return err
}

func (r *repository) MarkOverdue(ctx context.Context, asOf time.Time) ([]OverdueRental, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE rentals SET status = $1, updated_at = NOW()
		 WHERE status = $2 AND end_date < $3
		 RETURNING id, doc_number, customer_id`,
		StatusOverdue, StatusActive, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overdue []OverdueRental
	for rows.Next() {
		var o OverdueRental
		if err := rows.Scan(&o.ID, &o.DocNumber, &o.CustomerID); err != nil {
			return nil, err
		}
		overdue = append(overdue, o)
	}
	return overdue, rows.Err()
}
