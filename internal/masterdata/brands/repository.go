package brands

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
)

type Repository interface {
	List(ctx context.Context, filters shared.ListFilters) ([]Brand, int, error)
	Get(ctx context.Context, id int64) (Brand, error)
	Create(ctx context.Context, brand Brand, nameKey string) (Brand, error)
	Update(ctx context.Context, id int64, brand Brand, nameKey string) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

var sortColumns = map[string]string{
	"name":       "name",
	"created_at": "created_at",
}

func (r *repository) List(ctx context.Context, filters shared.ListFilters) ([]Brand, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if !filters.IncludeInactive {
		where += ` AND is_active`
	}
	if filters.Search != "" {
		argCount++
		where += ` AND name ILIKE $` + strconv.Itoa(argCount)
		args = append(args, "%"+filters.Search+"%")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM brands`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, name, description, is_active, created_at, updated_at FROM brands` + where +
		` ORDER BY ` + filters.Page.OrderBy(sortColumns, "name") +
		` LIMIT $` + strconv.Itoa(argCount+1) + ` OFFSET $` + strconv.Itoa(argCount+2)
	args = append(args, filters.Page.Limit, filters.Page.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var brands []Brand
	for rows.Next() {
		var b Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.Description, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, 0, err
		}
		brands = append(brands, b)
	}
	return brands, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Brand, error) {
	var b Brand
	err := r.db.QueryRow(ctx, `SELECT id, name, description, is_active, created_at, updated_at FROM brands WHERE id = $1`, id).
		Scan(&b.ID, &b.Name, &b.Description, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Brand{}, shared.TranslateDBError(err)
	}
	return b, nil
}

func (r *repository) Create(ctx context.Context, brand Brand, nameKey string) (Brand, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx,
		`INSERT INTO brands (name, name_key, description, is_active, created_at, updated_at) VALUES ($1, $2, $3, TRUE, $4, $4) RETURNING id`,
		brand.Name, nameKey, brand.Description, now,
	).Scan(&brand.ID)
	if err != nil {
		return Brand{}, shared.TranslateDBError(err)
	}
	brand.IsActive = true
	brand.CreatedAt = now
	brand.UpdatedAt = now
	return brand, nil
}

func (r *repository) Update(ctx context.Context, id int64, brand Brand, nameKey string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE brands SET name = $1, name_key = $2, description = $3, is_active = $4, updated_at = $5 WHERE id = $6`,
		brand.Name, nameKey, brand.Description, brand.IsActive, time.Now(), id,
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
	tag, err := r.db.Exec(ctx, `UPDATE brands SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}
