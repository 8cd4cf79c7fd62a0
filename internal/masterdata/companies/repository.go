package companies

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Company, int, error)
	Get(ctx context.Context, id int64) (Company, error)
	Create(ctx context.Context, company Company, keys Keys) (Company, error)
	Update(ctx context.Context, id int64, company Company, keys Keys) error
	Delete(ctx context.Context, id int64) error
}

// Keys are the normalized uniqueness keys stored alongside the row. Empty
// optional keys are stored as NULL so they never collide.
type Keys struct {
	Name         string
	GSTNumber    *string
	Registration *string
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const companyColumns = `id, name, legal_name, gst_number, registration_number, email, phone, address, is_active, created_at, updated_at`

var sortColumns = map[string]string{
	"name":       "name",
	"created_at": "created_at",
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Company, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if !filters.IncludeInactive {
		where += ` AND is_active`
	}
	if filters.Search != "" {
		argCount++
		ph := `$` + strconv.Itoa(argCount)
		where += ` AND (name ILIKE ` + ph + ` OR gst_number ILIKE ` + ph + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM companies`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + companyColumns + ` FROM companies` + where +
		` ORDER BY ` + filters.Page.OrderBy(sortColumns, "name") +
		` LIMIT $` + strconv.Itoa(argCount+1) + ` OFFSET $` + strconv.Itoa(argCount+2)
	args = append(args, filters.Page.Limit, filters.Page.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var companies []Company
	for rows.Next() {
		var c Company
		if err := rows.Scan(&c.ID, &c.Name, &c.LegalName, &c.GSTNumber, &c.RegistrationNumber, &c.Email, &c.Phone, &c.Address, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		companies = append(companies, c)
	}
	return companies, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`
	var c Company
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.LegalName, &c.GSTNumber, &c.RegistrationNumber, &c.Email, &c.Phone, &c.Address, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Company{}, shared.TranslateDBError(err)
	}
	return c, nil
}

func (r *repository) Create(ctx context.Context, company Company, keys Keys) (Company, error) {
	query := `INSERT INTO companies (name, name_key, legal_name, gst_number, gst_number_key, registration_number, registration_number_key, email, phone, address, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, TRUE, $11, $11) RETURNING id`
	now := time.Now()
	err := r.db.QueryRow(ctx, query,
		company.Name, keys.Name, company.LegalName,
		company.GSTNumber, keys.GSTNumber,
		company.RegistrationNumber, keys.Registration,
		company.Email, company.Phone, company.Address, now,
	).Scan(&company.ID)
	if err != nil {
		return Company{}, shared.TranslateDBError(err)
	}
	company.IsActive = true
	company.CreatedAt = now
	company.UpdatedAt = now
	return company, nil
}

func (r *repository) Update(ctx context.Context, id int64, company Company, keys Keys) error {
	query := `UPDATE companies SET name = $1, name_key = $2, legal_name = $3, gst_number = $4, gst_number_key = $5,
		registration_number = $6, registration_number_key = $7, email = $8, phone = $9, address = $10, is_active = $11, updated_at = $12
		WHERE id = $13`
	tag, err := r.db.Exec(ctx, query,
		company.Name, keys.Name, company.LegalName,
		company.GSTNumber, keys.GSTNumber,
		company.RegistrationNumber, keys.Registration,
		company.Email, company.Phone, company.Address, company.IsActive, time.Now(), id,
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
	tag, err := r.db.Exec(ctx, `UPDATE companies SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}
