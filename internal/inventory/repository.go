package inventory

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/db"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	internalshared "github.com/meridian-rms/meridian-rms/internal/shared"
)

// UnitFilter narrows unit listings.
type UnitFilter struct {
	Page         internalshared.PageRequest
	ItemID       int64
	LocationID   int64
	Status       UnitStatus
	SerialSearch string
	IncludeRetired bool
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	Page         internalshared.PageRequest
	ItemID       int64
	LocationID   int64
	UnitID       int64
	MovementType MovementType
	RefModule    string
	From         time.Time
	To           time.Time
}

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetUnit(ctx context.Context, id int64) (InventoryUnit, error)
	ListUnits(ctx context.Context, filter UnitFilter) ([]InventoryUnit, int, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error)
	StockLevelsForItem(ctx context.Context, itemID int64) ([]StockLevel, error)
	CountAvailable(ctx context.Context, itemID, locationID int64) (int, error)
	RecountLevels(ctx context.Context) (int, error)
}

// TxRepository exposes the operations available inside a movement
// transaction. Every status change flows through here so the movement row,
// the unit update and the level upsert commit or roll back together.
type TxRepository interface {
	InsertUnit(ctx context.Context, unit InventoryUnit) (int64, error)
	GetUnitForUpdate(ctx context.Context, id int64) (InventoryUnit, error)
	LockAvailableUnits(ctx context.Context, itemID, locationID int64, limit int) ([]InventoryUnit, error)
	UpdateUnitStatus(ctx context.Context, unitID int64, status UnitStatus, condition string) error
	MoveUnit(ctx context.Context, unitID, toLocationID int64) error
	RetireUnit(ctx context.Context, unitID int64) error
	InsertMovement(ctx context.Context, movement StockMovement) (int64, error)
	ApplyLevelDelta(ctx context.Context, itemID, locationID int64, delta LevelDelta) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) RepositoryPort {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const unitColumns = `id, item_id, location_id, serial_number, status, condition, acquired_cost, is_active, created_at, updated_at`

var unitSortColumns = map[string]string{
	"serial_number": "serial_number",
	"status":        "status",
	"created_at":    "created_at",
}

func scanUnit(row pgx.Row) (InventoryUnit, error) {
	var u InventoryUnit
	err := row.Scan(&u.ID, &u.ItemID, &u.LocationID, &u.SerialNumber, &u.Status,
		&u.Condition, &u.AcquiredCost, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *repository) GetUnit(ctx context.Context, id int64) (InventoryUnit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM inventory_units WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return InventoryUnit{}, httpx.ErrNotFound
	}
	return u, err
}

func (r *repository) ListUnits(ctx context.Context, filter UnitFilter) ([]InventoryUnit, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if !filter.IncludeRetired {
		where += ` AND is_active`
	}
	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		where += ` AND item_id = $` + strconv.Itoa(len(args))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		where += ` AND location_id = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.SerialSearch != "" {
		args = append(args, "%"+filter.SerialSearch+"%")
		where += ` AND serial_number ILIKE $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_units`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + unitColumns + ` FROM inventory_units` + where +
		` ORDER BY ` + filter.Page.OrderBy(unitSortColumns, "id")
	args = append(args, filter.Page.Limit, filter.Page.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var units []InventoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, 0, err
		}
		units = append(units, u)
	}
	return units, total, rows.Err()
}

const movementColumns = `id, item_id, location_id, unit_id, movement_type, quantity, ref_module, ref_id, actor_id, note, occurred_at`

func (r *repository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		where += ` AND item_id = $` + strconv.Itoa(len(args))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		where += ` AND location_id = $` + strconv.Itoa(len(args))
	}
	if filter.UnitID > 0 {
		args = append(args, filter.UnitID)
		where += ` AND unit_id = $` + strconv.Itoa(len(args))
	}
	if filter.MovementType != "" {
		args = append(args, filter.MovementType)
		where += ` AND movement_type = $` + strconv.Itoa(len(args))
	}
	if filter.RefModule != "" {
		args = append(args, filter.RefModule)
		where += ` AND ref_module = $` + strconv.Itoa(len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where += ` AND occurred_at >= $` + strconv.Itoa(len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where += ` AND occurred_at < $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + movementColumns + ` FROM stock_movements` + where +
		` ORDER BY occurred_at DESC, id DESC`
	args = append(args, filter.Page.Limit, filter.Page.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var movements []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.ItemID, &m.LocationID, &m.UnitID, &m.MovementType,
			&m.Quantity, &m.RefModule, &m.RefID, &m.ActorID, &m.Note, &m.OccurredAt); err != nil {
			return nil, 0, err
		}
		movements = append(movements, m)
	}
	return movements, total, rows.Err()
}

const levelColumns = `item_id, location_id, on_hand, available, reserved, rented, maintenance, damaged, updated_at`

func (r *repository) StockLevelsForItem(ctx context.Context, itemID int64) ([]StockLevel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+levelColumns+` FROM stock_levels WHERE item_id = $1 ORDER BY location_id`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLevels(rows)
}

func scanLevels(rows pgx.Rows) ([]StockLevel, error) {
	var levels []StockLevel
	for rows.Next() {
		var l StockLevel
		if err := rows.Scan(&l.ItemID, &l.LocationID, &l.OnHand, &l.Available, &l.Reserved,
			&l.Rented, &l.Maintenance, &l.Damaged, &l.UpdatedAt); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

func (r *repository) CountAvailable(ctx context.Context, itemID, locationID int64) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM inventory_units
		 WHERE item_id = $1 AND location_id = $2 AND status = $3 AND is_active`,
		itemID, locationID, UnitStatusAvailable).Scan(&count)
	return count, err
}

// RecountLevels rebuilds stock_levels from the units table and returns the
// number of rows whose counters drifted. Used by the nightly recount job.
func (r *repository) RecountLevels(ctx context.Context) (int, error) {
	var drift int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			WITH counted AS (
				SELECT item_id, location_id,
				       COUNT(*) FILTER (WHERE status <> 'SOLD')          AS on_hand,
				       COUNT(*) FILTER (WHERE status = 'AVAILABLE')      AS available,
				       COUNT(*) FILTER (WHERE status = 'RESERVED')       AS reserved,
				       COUNT(*) FILTER (WHERE status = 'RENTED')         AS rented,
				       COUNT(*) FILTER (WHERE status = 'MAINTENANCE')    AS maintenance,
				       COUNT(*) FILTER (WHERE status = 'DAMAGED')        AS damaged
				FROM inventory_units
				WHERE is_active
				GROUP BY item_id, location_id
			)
			UPDATE stock_levels sl SET
				on_hand = c.on_hand, available = c.available, reserved = c.reserved,
				rented = c.rented, maintenance = c.maintenance, damaged = c.damaged,
				updated_at = NOW()
			FROM counted c
			WHERE sl.item_id = c.item_id AND sl.location_id = c.location_id
			  AND (sl.on_hand, sl.available, sl.reserved, sl.rented, sl.maintenance, sl.damaged)
			      IS DISTINCT FROM
			      (c.on_hand, c.available, c.reserved, c.rented, c.maintenance, c.damaged)`)
		if err != nil {
			return err
		}
		drift = int(tag.RowsAffected())
		// Levels with no remaining units zero out rather than linger stale.
		zeroTag, err := tx.Exec(ctx, `
			UPDATE stock_levels sl SET
				on_hand = 0, available = 0, reserved = 0, rented = 0,
				maintenance = 0, damaged = 0, updated_at = NOW()
			WHERE NOT EXISTS (
				SELECT 1 FROM inventory_units u
				WHERE u.item_id = sl.item_id AND u.location_id = sl.location_id AND u.is_active
			) AND sl.on_hand <> 0`)
		if err != nil {
			return err
		}
		drift += int(zeroTag.RowsAffected())
		return nil
	})
	return drift, err
}

type txRepo struct {
	tx pgx.Tx
}

func (r *txRepo) InsertUnit(ctx context.Context, unit InventoryUnit) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO inventory_units (item_id, location_id, serial_number, status, condition, acquired_cost, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW()) RETURNING id`,
		unit.ItemID, unit.LocationID, unit.SerialNumber, unit.Status, unit.Condition, unit.AcquiredCost).Scan(&id)
	return id, shared.TranslateDBError(err)
}

func (r *txRepo) GetUnitForUpdate(ctx context.Context, id int64) (InventoryUnit, error) {
	u, err := scanUnit(r.tx.QueryRow(ctx,
		`SELECT `+unitColumns+` FROM inventory_units WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return InventoryUnit{}, httpx.ErrNotFound
	}
	return u, err
}

// LockAvailableUnits claims up to limit AVAILABLE units with SKIP LOCKED so
// concurrent reservations never block on each other's rows.
func (r *txRepo) LockAvailableUnits(ctx context.Context, itemID, locationID int64, limit int) ([]InventoryUnit, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+unitColumns+` FROM inventory_units
		 WHERE item_id = $1 AND location_id = $2 AND status = $3 AND is_active
		 ORDER BY id
		 LIMIT $4
		 FOR UPDATE SKIP LOCKED`,
		itemID, locationID, UnitStatusAvailable, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []InventoryUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (r *txRepo) UpdateUnitStatus(ctx context.Context, unitID int64, status UnitStatus, condition string) error {
	query := `UPDATE inventory_units SET status = $1, updated_at = NOW() WHERE id = $2`
	args := []any{status, unitID}
	if condition != "" {
		query = `UPDATE inventory_units SET status = $1, condition = $3, updated_at = NOW() WHERE id = $2`
		args = append(args, condition)
	}
	result, err := r.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *txRepo) MoveUnit(ctx context.Context, unitID, toLocationID int64) error {
	result, err := r.tx.Exec(ctx,
		`UPDATE inventory_units SET location_id = $1, updated_at = NOW() WHERE id = $2`,
		toLocationID, unitID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *txRepo) RetireUnit(ctx context.Context, unitID int64) error {
	result, err := r.tx.Exec(ctx,
		`UPDATE inventory_units SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, unitID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, movement StockMovement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO stock_movements (item_id, location_id, unit_id, movement_type, quantity, ref_module, ref_id, actor_id, note, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		movement.ItemID, movement.LocationID, movement.UnitID, movement.MovementType, movement.Quantity,
		movement.RefModule, movement.RefID, movement.ActorID, movement.Note, movement.OccurredAt).Scan(&id)
	return id, err
}

func (r *txRepo) ApplyLevelDelta(ctx context.Context, itemID, locationID int64, delta LevelDelta) error {
	if delta.IsZero() {
		return nil
	}
	_, err := r.tx.Exec(ctx,
		`INSERT INTO stock_levels (item_id, location_id, on_hand, available, reserved, rented, maintenance, damaged, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (item_id, location_id) DO UPDATE SET
		 	on_hand = stock_levels.on_hand + EXCLUDED.on_hand,
		 	available = stock_levels.available + EXCLUDED.available,
		 	reserved = stock_levels.reserved + EXCLUDED.reserved,
		 	rented = stock_levels.rented + EXCLUDED.rented,
		 	maintenance = stock_levels.maintenance + EXCLUDED.maintenance,
		 	damaged = stock_levels.damaged + EXCLUDED.damaged,
		 	updated_at = NOW()`,
		itemID, locationID, delta.OnHand, delta.Available, delta.Reserved,
		delta.Rented, delta.Maintenance, delta.Damaged)
	return err
}

var _ RepositoryPort = (*repository)(nil)
var _ TxRepository = (*txRepo)(nil)
