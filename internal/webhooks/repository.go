package webhooks

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-rms/meridian-rms/internal/masterdata/shared"
	"github.com/meridian-rms/meridian-rms/internal/platform/httpx"
	internalshared "github.com/meridian-rms/meridian-rms/internal/shared"
)

type Repository interface {
	CreateSubscription(ctx context.Context, sub Subscription) error
	UpdateSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
	GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error)
	ListSubscriptions(ctx context.Context, page internalshared.PageRequest) ([]Subscription, int, error)
	// ActiveSubscriptionsFor returns active subscriptions listening for the
	// event type.
	ActiveSubscriptionsFor(ctx context.Context, eventType string) ([]Subscription, error)
	InsertDelivery(ctx context.Context, d Delivery) error
	GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, attempts int) error
	// MarkFailed records a failed attempt; final flips the row to FAILED.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string, final bool) error
	ListDeliveries(ctx context.Context, subscriptionID uuid.UUID, page internalshared.PageRequest) ([]Delivery, int, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const subscriptionColumns = `id, url, secret, events, description, is_active, created_at, updated_at`

func scanSubscription(row pgx.Row) (Subscription, error) {
	var sub Subscription
	err := row.Scan(&sub.ID, &sub.URL, &sub.Secret, &sub.Events, &sub.Description,
		&sub.IsActive, &sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

func (r *repository) CreateSubscription(ctx context.Context, sub Subscription) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_subscriptions (id, url, secret, events, description, is_active,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		sub.ID, sub.URL, sub.Secret, sub.Events, sub.Description, sub.IsActive)
	return shared.TranslateDBError(err)
}

func (r *repository) UpdateSubscription(ctx context.Context, sub Subscription) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE webhook_subscriptions SET url = $2, secret = $3, events = $4, description = $5,
			is_active = $6, updated_at = NOW()
		 WHERE id = $1`,
		sub.ID, sub.URL, sub.Secret, sub.Events, sub.Description, sub.IsActive)
	if err != nil {
		return shared.TranslateDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return shared.TranslateDBError(err)
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	sub, err := scanSubscription(r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id))
	if err != nil {
		return Subscription{}, shared.TranslateDBError(err)
	}
	return sub, nil
}

func (r *repository) ListSubscriptions(ctx context.Context, page internalshared.PageRequest) ([]Subscription, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_subscriptions`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions ORDER BY created_at DESC
		 LIMIT $1 OFFSET $2`, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, 0, err
		}
		subs = append(subs, sub)
	}
	return subs, total, rows.Err()
}

func (r *repository) ActiveSubscriptionsFor(ctx context.Context, eventType string) ([]Subscription, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		 WHERE is_active AND $1 = ANY(events)`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

const deliveryColumns = `id, subscription_id, event_id, event_type, payload, status, attempts,
	last_error, delivered_at, created_at, updated_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var d Delivery
	var lastError *string
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventID, &d.EventType, &d.Payload, &d.Status,
		&d.Attempts, &lastError, &d.DeliveredAt, &d.CreatedAt, &d.UpdatedAt)
	if lastError != nil {
		d.LastError = *lastError
	}
	return d, err
}

func (r *repository) InsertDelivery(ctx context.Context, d Delivery) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_deliveries (id, subscription_id, event_id, event_type, payload,
			status, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())`,
		d.ID, d.SubscriptionID, d.EventID, d.EventType, d.Payload, d.Status)
	return shared.TranslateDBError(err)
}

func (r *repository) GetDelivery(ctx context.Context, id uuid.UUID) (Delivery, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id))
	if err != nil {
		return Delivery{}, shared.TranslateDBError(err)
	}
	return d, nil
}

func (r *repository) MarkDelivered(ctx context.Context, id uuid.UUID, attempts int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_deliveries SET status = $2, attempts = $3, last_error = NULL,
			delivered_at = NOW(), updated_at = NOW()
		 WHERE id = $1`,
		id, DeliveryDelivered, attempts)
	return err
}

func (r *repository) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastError string, final bool) error {
	status := DeliveryPending
	if final {
		status = DeliveryFailed
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE webhook_deliveries SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		 WHERE id = $1`,
		id, status, attempts, lastError)
	return err
}

func (r *repository) ListDeliveries(ctx context.Context, subscriptionID uuid.UUID, page internalshared.PageRequest) ([]Delivery, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_deliveries WHERE subscription_id = $1`,
		subscriptionID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE subscription_id = $1
		 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, subscriptionID, page.Limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, 0, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, total, rows.Err()
}
