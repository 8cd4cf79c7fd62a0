package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background tasks.
	QueueDefault = "default"

	// TaskWebhookDeliver delivers one webhook payload to one subscriber.
	TaskWebhookDeliver = "webhook:deliver"
	// TaskOverdueScan flips past-due active rentals to OVERDUE.
	TaskOverdueScan = "rentals:overdue_scan"
	// TaskStockRecount rebuilds stock_levels from the units table.
	TaskStockRecount = "inventory:stock_recount"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// webhookMaxRetry bounds the delivery retry schedule; with asynq's default
// backoff the last attempt lands roughly half a day after the first.
const webhookMaxRetry = 8

// WebhookDeliverPayload identifies the delivery row to attempt.
type WebhookDeliverPayload struct {
	DeliveryID uuid.UUID `json:"delivery_id"`
}

// NewWebhookDeliverTask constructs the delivery task with its retry budget.
func NewWebhookDeliverTask(deliveryID uuid.UUID) (*asynq.Task, error) {
	data, err := json.Marshal(WebhookDeliverPayload{DeliveryID: deliveryID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWebhookDeliver, data,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(webhookMaxRetry),
		asynq.Timeout(time.Minute),
	), nil
}

// ScanPayload carries scheduling metadata for the periodic scans.
type ScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewOverdueScanTask constructs the rental overdue scan task.
func NewOverdueScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueScan, body, asynq.Queue(QueueDefault)), nil
}

// NewStockRecountTask constructs the nightly stock recount task.
func NewStockRecountTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockRecount, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload sets how far back stored responses survive.
type IdempotencyCleanupPayload struct {
	TTLHours int `json:"ttl_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(ttl time.Duration) (*asynq.Task, error) {
	hours := int(ttl / time.Hour)
	if hours <= 0 {
		hours = 48
	}
	body, err := json.Marshal(IdempotencyCleanupPayload{TTLHours: hours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
