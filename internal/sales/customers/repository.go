package customers

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Customer, int, error)
	Get(ctx context.Context, id int64) (Customer, error)
	Create(ctx context.Context, customer Customer, codeKey string) (Customer, error)
	Update(ctx context.Context, id int64, customer Customer, codeKey string) error
	Delete(ctx context.Context, id int64) error
	// AdjustOutstanding moves outstanding_balance by delta. When enforceLimit
	// is set the update only applies while the new balance stays within
	// credit_limit; zero rows back means the credit check failed.
	AdjustOutstanding(ctx context.Context, id int64, delta decimal.Decimal, enforceLimit bool) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const customerColumns = `id, code, name, email, phone, billing_address, credit_limit, outstanding_balance, is_active, created_at, updated_at`

var sortColumns = map[string]string{
	"code":       "code",
	"name":       "name",
	"created_at": "created_at",
}

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.Code, &c.Name, &c.Email, &c.Phone, &c.BillingAddress,
		&c.CreditLimit, &c.OutstandingBalance, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Customer, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if !filters.IncludeInactive {
		where += ` AND is_active`
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (code ILIKE $` + n + ` OR name ILIKE $` + n + `)`
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM customers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + customerColumns + ` FROM customers` + where +
		` ORDER BY ` + filters.Page.OrderBy(sortColumns, "name")
	args = append(args, filters.Page.Limit, filters.Page.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		customers = append(customers, c)
	}
	return customers, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Customer, error) {
	c, err := scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		return Customer{}, shared.TranslateDBError(err)
	}
	return c, nil
}

func (r *repository) Create(ctx context.Context, customer Customer, codeKey string) (Customer, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx,
		`INSERT INTO customers (code, code_key, name, email, phone, billing_address, credit_limit, outstanding_balance, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, 0, TRUE, $8, $8) RETURNING id`,
		customer.Code, codeKey, customer.Name, customer.Email, customer.Phone,
		customer.BillingAddress, customer.CreditLimit, now,
	).Scan(&customer.ID)
	if err != nil {
		return Customer{}, shared.TranslateDBError(err)
	}
	customer.OutstandingBalance = decimal.Zero
	customer.IsActive = true
	customer.CreatedAt = now
	customer.UpdatedAt = now
	return customer, nil
}

func (r *repository) Update(ctx context.Context, id int64, customer Customer, codeKey string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE customers SET code = $1, code_key = $2, name = $3, email = $4, phone = $5,
			billing_address = $6, credit_limit = $7, is_active = $8, updated_at = $9
		 WHERE id = $10`,
		customer.Code, codeKey, customer.Name, customer.Email, customer.Phone,
		customer.BillingAddress, customer.CreditLimit, customer.IsActive, time.Now(), id,
	)
	if err != nil {
		return shared.TranslateDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE customers SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) AdjustOutstanding(ctx context.Context, id int64, delta decimal.Decimal, enforceLimit bool) (bool, error) {
	query := `UPDATE customers
		SET outstanding_balance = outstanding_balance + $1, updated_at = NOW()
		WHERE id = $2`
	if enforceLimit {
		// New exposure needs an active customer with headroom. Settlements
		// (enforceLimit=false) still apply to deactivated customers.
		query += ` AND is_active AND outstanding_balance + $1 <= credit_limit`
	}
	tag, err := r.db.Exec(ctx, query, delta, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
