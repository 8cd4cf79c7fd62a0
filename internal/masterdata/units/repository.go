package units

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Unit, int, error)
	Get(ctx context.Context, id int64) (Unit, error)
	Create(ctx context.Context, unit Unit, keys Keys) (Unit, error)
	Update(ctx context.Context, id int64, unit Unit, keys Keys) error
	Delete(ctx context.Context, id int64) error
}

// Keys are the normalized uniqueness keys for a unit.
type Keys struct {
	Name         string
	Abbreviation string
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const unitColumns = `id, name, abbreviation, precision, is_active, created_at, updated_at`

var sortColumns = map[string]string{
	"name":       "name",
	"created_at": "created_at",
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Unit, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if !filters.IncludeInactive {
		where += ` AND is_active`
	}
	if filters.Search != "" {
		argCount++
		ph := `$` + strconv.Itoa(argCount)
		where += ` AND (name ILIKE ` + ph + ` OR abbreviation ILIKE ` + ph + `)`
		args = append(args, "%"+filters.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM units`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + unitColumns + ` FROM units` + where +
		` ORDER BY ` + filters.Page.OrderBy(sortColumns, "name") +
		` LIMIT $` + strconv.Itoa(argCount+1) + ` OFFSET $` + strconv.Itoa(argCount+2)
	args = append(args, filters.Page.Limit, filters.Page.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var units []Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.Name, &u.Abbreviation, &u.Precision, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, 0, err
		}
		units = append(units, u)
	}
	return units, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Unit, error) {
	var u Unit
	err := r.db.QueryRow(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &u.Abbreviation, &u.Precision, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return Unit{}, shared.TranslateDBError(err)
	}
	return u, nil
}

func (r *repository) Create(ctx context.Context, unit Unit, keys Keys) (Unit, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx,
		`INSERT INTO units (name, name_key, abbreviation, abbreviation_key, precision, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6) RETURNING id`,
		unit.Name, keys.Name, unit.Abbreviation, keys.Abbreviation, unit.Precision, now,
	).Scan(&unit.ID)
	if err != nil {
		return Unit{}, shared.TranslateDBError(err)
	}
	unit.IsActive = true
	unit.CreatedAt = now
	unit.UpdatedAt = now
	return unit, nil
}

func (r *repository) Update(ctx context.Context, id int64, unit Unit, keys Keys) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE units SET name = $1, name_key = $2, abbreviation = $3, abbreviation_key = $4, precision = $5, is_active = $6, updated_at = $7 WHERE id = $8`,
		unit.Name, keys.Name, unit.Abbreviation, keys.Abbreviation, unit.Precision, unit.IsActive, time.Now(), id,
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
	tag, err := r.db.Exec(ctx, `UPDATE units SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}
