package catalog

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	internalshared "github.com/meridian-rms/meridian-rms/internal/shared"
)

// ListFilter narrows item listings.
type ListFilter struct {
	Page            internalshared.PageRequest
	Search          string
	BrandID         int64
	SupplierID      int64
	Rentable        *bool
	Sellable        *bool
	IncludeInactive bool
}

type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Item, int, error)
	Get(ctx context.Context, id int64) (Item, error)
	Create(ctx context.Context, item Item, skuKey string) (Item, error)
	Update(ctx context.Context, id int64, item Item, skuKey string) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const itemColumns = `id, sku, name, description, brand_id, unit_id, supplier_id, tracking,
	sale_price, daily_rate, weekly_rate, monthly_rate, deposit_amount, replacement_value,
	late_fee_per_day, is_rentable, is_sellable, is_active, created_at, updated_at`

var sortColumns = map[string]string{
	"sku":        "sku",
	"name":       "name",
	"sale_price": "sale_price",
	"daily_rate": "daily_rate",
	"created_at": "created_at",
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.SKU, &it.Name, &it.Description, &it.BrandID, &it.UnitID,
		&it.SupplierID, &it.Tracking, &it.SalePrice, &it.DailyRate, &it.WeeklyRate,
		&it.MonthlyRate, &it.DepositAmount, &it.ReplacementValue, &it.LateFeePerDay,
		&it.IsRentable, &it.IsSellable, &it.IsActive, &it.CreatedAt, &it.UpdatedAt)
	return it, err
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if !filter.IncludeInactive {
		where += ` AND is_active`
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		n := strconv.Itoa(len(args))
		where += ` AND (sku ILIKE $` + n + ` OR name ILIKE $` + n + `)`
	}
	if filter.BrandID > 0 {
		args = append(args, filter.BrandID)
		where += ` AND brand_id = $` + strconv.Itoa(len(args))
	}
	if filter.SupplierID > 0 {
		args = append(args, filter.SupplierID)
		where += ` AND supplier_id = $` + strconv.Itoa(len(args))
	}
	if filter.Rentable != nil {
		args = append(args, *filter.Rentable)
		where += ` AND is_rentable = $` + strconv.Itoa(len(args))
	}
	if filter.Sellable != nil {
		args = append(args, *filter.Sellable)
		where += ` AND is_sellable = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + itemColumns + ` FROM items` + where +
		` ORDER BY ` + filter.Page.OrderBy(sortColumns, "name")
	args = append(args, filter.Page.Limit, filter.Page.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Item, error) {
	it, err := scanItem(r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return Item{}, shared.TranslateDBError(err)
	}
	return it, nil
}

func (r *repository) Create(ctx context.Context, item Item, skuKey string) (Item, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx,
		`INSERT INTO items (sku, sku_key, name, description, brand_id, unit_id, supplier_id, tracking,
			sale_price, daily_rate, weekly_rate, monthly_rate, deposit_amount, replacement_value,
			late_fee_per_day, is_rentable, is_sellable, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, TRUE, $18, $18)
		 RETURNING id`,
		item.SKU, skuKey, item.Name, item.Description, item.BrandID, item.UnitID, item.SupplierID,
		item.Tracking, item.SalePrice, item.DailyRate, item.WeeklyRate, item.MonthlyRate,
		item.DepositAmount, item.ReplacementValue, item.LateFeePerDay,
		item.IsRentable, item.IsSellable, now,
	).Scan(&item.ID)
	if err != nil {
		return Item{}, shared.TranslateDBError(err)
	}
	item.IsActive = true
	item.CreatedAt = now
	item.UpdatedAt = now
	return item, nil
}

func (r *repository) Update(ctx context.Context, id int64, item Item, skuKey string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE items SET sku = $1, sku_key = $2, name = $3, description = $4, brand_id = $5,
			unit_id = $6, supplier_id = $7, sale_price = $8, daily_rate = $9, weekly_rate = $10,
			monthly_rate = $11, deposit_amount = $12, replacement_value = $13, late_fee_per_day = $14,
			is_rentable = $15, is_sellable = $16, is_active = $17, updated_at = $18
		 WHERE id = $19`,
		item.SKU, skuKey, item.Name, item.Description, item.BrandID, item.UnitID, item.SupplierID,
		item.SalePrice, item.DailyRate, item.WeeklyRate, item.MonthlyRate, item.DepositAmount,
		item.ReplacementValue, item.LateFeePerDay, item.IsRentable, item.IsSellable, item.IsActive,
		time.Now(), id,
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
	tag, err := r.db.Exec(ctx, `UPDATE items SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}
