package audit

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rms/meridian-rms/internal/shared"
)

// ListFilter narrows the audit trail. From is inclusive, To exclusive;
// the service converts the inclusive date it accepts from clients.
type ListFilter struct {
	Page     shared.PageRequest
	ActorID  int64
	Entity   string
	EntityID string
	Action   string
	From     time.Time
	To       time.Time
}

type Repository interface {
	List(ctx context.Context, filter ListFilter) ([]Entry, int, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryColumns = `id, actor_id, action, entity, entity_id, meta, occurred_at`

var sortColumns = map[string]string{
	"occurred_at": "occurred_at",
	"action":      "action",
	"entity":      "entity",
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Entry, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	if filter.ActorID > 0 {
		args = append(args, filter.ActorID)
		where += ` AND actor_id = $` + strconv.Itoa(len(args))
	}
	if filter.Entity != "" {
		args = append(args, filter.Entity)
		where += ` AND entity = $` + strconv.Itoa(len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		where += ` AND entity_id = $` + strconv.Itoa(len(args))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		where += ` AND action = $` + strconv.Itoa(len(args))
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
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + entryColumns + ` FROM audit_logs` + where +
		` ORDER BY ` + filter.Page.OrderBy(sortColumns, "occurred_at")
	args = append(args, filter.Page.Limit, filter.Page.Offset())
	query += ` LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Meta, &e.OccurredAt); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
