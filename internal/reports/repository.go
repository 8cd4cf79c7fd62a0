package reports

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// SalesSummary fills totals and the by-day series for created_at in
	// [from, to).
	SalesSummary(ctx context.Context, from, to time.Time, locationID int64) (SalesSummary, error)
	// RentalUtilization returns one row per rentable item with usage
	// overlapping [from, to] (inclusive dates).
	RentalUtilization(ctx context.Context, from, to time.Time, itemID int64) ([]ItemUtilization, error)
	StockLevels(ctx context.Context, locationID int64) ([]StockRow, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) SalesSummary(ctx context.Context, from, to time.Time, locationID int64) (SalesSummary, error) {
	where := ` WHERE created_at >= $1 AND created_at < $2`
	args := []any{from, to}
	if locationID > 0 {
		args = append(args, locationID)
		where += ` AND location_id = $3`
	}

	var summary SalesSummary
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status <> 'CANCELLED'),
			COUNT(*) FILTER (WHERE status = 'FULFILLED'),
			COALESCE(SUM(total_amount) FILTER (WHERE status = 'FULFILLED'), 0),
			COALESCE(SUM(tax_amount) FILTER (WHERE status = 'FULFILLED'), 0)
		 FROM sales_orders`+where, args...,
	).Scan(&summary.TotalOrders, &summary.FulfilledOrders, &summary.Revenue, &summary.Tax)
	if err != nil {
		return SalesSummary{}, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT created_at::date AS day,
			COUNT(*) FILTER (WHERE status <> 'CANCELLED'),
			COALESCE(SUM(total_amount) FILTER (WHERE status = 'FULFILLED'), 0)
		 FROM sales_orders`+where+`
		 GROUP BY 1 ORDER BY 1`, args...)
	if err != nil {
		return SalesSummary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var day time.Time
		var bucket SalesDay
		if err := rows.Scan(&day, &bucket.Orders, &bucket.Revenue); err != nil {
			return SalesSummary{}, err
		}
		bucket.Day = day.Format("2006-01-02")
		summary.ByDay = append(summary.ByDay, bucket)
	}
	return summary, rows.Err()
}

func (r *repository) RentalUtilization(ctx context.Context, from, to time.Time, itemID int64) ([]ItemUtilization, error) {
	query := `WITH usage AS (
			SELECT rl.item_id,
				SUM(rl.quantity * GREATEST(0, LEAST(COALESCE(r.returned_at::date, r.end_date), $2::date)
					- GREATEST(r.start_date, $1::date)))::int AS rented_days,
				SUM(rl.quantity * rl.daily_rate * GREATEST(0, LEAST(COALESCE(r.returned_at::date, r.end_date), $2::date)
					- GREATEST(r.start_date, $1::date))) AS revenue
			FROM rental_lines rl
			JOIN rentals r ON r.id = rl.rental_id
			WHERE r.picked_up_at IS NOT NULL
			  AND r.status <> 'CANCELLED'
			  AND r.start_date <= $2::date
			  AND COALESCE(r.returned_at::date, r.end_date) >= $1::date
			GROUP BY rl.item_id
		),
		fleet AS (
			SELECT item_id, COUNT(*) AS units
			FROM inventory_units
			WHERE is_active
			GROUP BY item_id
		)
		SELECT i.id, i.sku, i.name, COALESCE(f.units, 0), COALESCE(u.rented_days, 0), COALESCE(u.revenue, 0)
		FROM items i
		LEFT JOIN fleet f ON f.item_id = i.id
		LEFT JOIN usage u ON u.item_id = i.id
		WHERE i.is_rentable AND i.is_active`
	args := []any{from, to}
	if itemID > 0 {
		args = append(args, itemID)
		query += ` AND i.id = $3`
	}
	query += ` ORDER BY i.sku`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ItemUtilization
	for rows.Next() {
		var item ItemUtilization
		if err := rows.Scan(&item.ItemID, &item.SKU, &item.Name, &item.FleetSize,
			&item.RentedUnitDays, &item.Revenue); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *repository) StockLevels(ctx context.Context, locationID int64) ([]StockRow, error) {
	query := `SELECT sl.item_id, i.sku, i.name, sl.location_id, sl.on_hand, sl.available,
			sl.reserved, sl.rented, sl.maintenance, sl.damaged, COALESCE(v.valuation, 0)
		FROM stock_levels sl
		JOIN items i ON i.id = sl.item_id
		LEFT JOIN (
			SELECT item_id, location_id, SUM(acquired_cost) AS valuation
			FROM inventory_units
			WHERE is_active
			GROUP BY item_id, location_id
		) v ON v.item_id = sl.item_id AND v.location_id = sl.location_id`
	args := []any{}
	if locationID > 0 {
		args = append(args, locationID)
		query += ` WHERE sl.location_id = $1`
	}
	query += ` ORDER BY i.sku, sl.location_id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockRow
	for rows.Next() {
		var row StockRow
		if err := rows.Scan(&row.ItemID, &row.SKU, &row.Name, &row.LocationID, &row.OnHand,
			&row.Available, &row.Reserved, &row.Rented, &row.Maintenance, &row.Damaged,
			&row.Valuation); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
